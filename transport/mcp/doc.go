// Package mcp exposes Key Quest's inspection API as Model Context Protocol
// tools.
//
// The Client is a thin proxy: every tool call becomes a request to the REST
// API, and the JSON response is rendered as text for the agent. The same
// MCPServer is served over stdio by the stdio-mcp command and over HTTP at
// POST /mcp by the main server.
//
// Tools:
//   - list_lobbies: lobby codes, states and player counts
//   - get_lobby: roster, positions, doors and keys of one lobby
//   - describe_tile: objects and players on one tile
//   - list_maps: available map definitions
//   - game_instructions: rules and protocol summary
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//		log.Fatal().Err(err).Msg("mcp server failed")
//	}
package mcp
