// Package service provides the read-only inspection layer for Key Quest.
//
// The service package implements:
//   - Lobby snapshots for operators (roster, objects, progress)
//   - Tile lookups inside a running lobby
//   - Map discovery and loading
//
// Core Interfaces:
//
// GameService is consumed by the REST API and the MCP tools. LobbyManager is
// implemented by the session manager and MapManager by the config manager, so
// neither transport reaches into lobby state directly.
//
// Usage:
//
//	maps, _ := config.NewManager("maps", "classic")
//	lobbies := session.NewManager(maps, engine.Rules{VerifyUnlock: true})
//	gameService := service.NewGameService(lobbies, maps)
//
//	info, err := gameService.GetLobby(ctx, "main")
package service
