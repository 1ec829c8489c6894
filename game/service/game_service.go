package service

import (
	"context"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
)

// GameService defines the read-only inspection operations shared by the REST
// API and the MCP tools
type GameService interface {
	// Lobbies
	ListLobbies(ctx context.Context) ([]*LobbyInfo, error)
	GetLobby(ctx context.Context, code string) (*LobbyInfo, error)
	DescribeTile(ctx context.Context, code string, x, y int) (*TileInfo, error)

	// Maps
	ListMaps(ctx context.Context) ([]*MapInfo, error)
	GetMap(ctx context.Context, name string) (*engine.MapConfig, error)
}

// LobbyManager exposes lobby snapshots
type LobbyManager interface {
	Snapshot(code string) (*LobbyInfo, error)
	Snapshots() []*LobbyInfo
}

// MapManager handles map definition loading
type MapManager interface {
	LoadConfig(name string) (*engine.MapConfig, error)
	ListConfigs() ([]*MapInfo, error)
	GetDefault() *engine.MapConfig
}
