// Package api provides the read-only HTTP inspection API for Key Quest.
//
// Gameplay happens over TCP and WebSocket; this API only reports on it.
//
// Endpoints:
//
//   - GET /api/health - liveness plus lobby and WebSocket client counts
//   - GET /api/lobbies - lobby snapshots (?state=, ?sort=code|activity|players, ?limit=)
//   - GET /api/lobbies/{code} - one lobby's roster, objects and state
//   - GET /api/lobbies/{code}/tiles/{x}/{y} - objects and players on one tile
//   - GET /api/maps - available map definitions
//   - GET /api/maps/{name} - one map definition
//   - GET /ws - WebSocket game transport (?lobby= sets the default lobby)
//
// Errors are returned as JSON with an appropriate status code:
//
//	{"error": "failed to get lobby nowhere: lobby not found"}
//
// Usage:
//
//	server := api.NewServer(gameService, hub)
//	server.Handle("/mcp", mcpHandler, "POST")
//	http.ListenAndServe(":8080", server)
package api
