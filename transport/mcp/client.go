package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
	"github.com/wricardo/mcp-training/keyquest/game/service"
)

const instructions = `Key Quest - MCP Inspection Interface

Key Quest is a cooperative puzzle: players in a lobby carry coloured keys to
matching doors, unlock them, and all walk through. Gameplay runs over the TCP
and WebSocket transports; these tools only observe it.

AVAILABLE TOOLS:
- list_lobbies: Every lobby with its state and player count
- get_lobby: Roster, positions and objects of one lobby
- describe_tile: What occupies one tile of a lobby
- list_maps: Available map definitions
- game_instructions: Rules and wire protocol summary`

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API at baseURL
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Key Quest",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
	)

	c.registerTools()
}

func (c *Client) registerTools() {
	lobbyCode := map[string]interface{}{
		"type":        "string",
		"description": "Lobby code (case-insensitive, defaults to main)",
	}

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_lobbies",
		Description: "List all lobbies with their state and player count",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"state": map[string]interface{}{
					"type":        "string",
					"description": "Only lobbies in this state: empty, active or complete",
				},
			},
		},
	}, c.handleListLobbies)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_lobby",
		Description: "Get the roster, player positions and object table of one lobby",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"lobby_code": lobbyCode,
			},
		},
	}, c.handleGetLobby)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "describe_tile",
		Description: "List the objects and players occupying tile (x, y) of a lobby",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"lobby_code": lobbyCode,
				"x": map[string]interface{}{
					"type":        "integer",
					"description": "Tile column, 0-based",
				},
				"y": map[string]interface{}{
					"type":        "integer",
					"description": "Tile row, 0-based",
				},
			},
			Required: []string{"x", "y"},
		},
	}, c.handleDescribeTile)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_maps",
		Description: "List the available map definitions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListMaps)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_instructions",
		Description: "Get the game rules and a summary of the wire protocol",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameInstructions)
}

// BaseURL returns the REST API the client proxies to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func lobbyArg(args map[string]interface{}) string {
	code, _ := args["lobby_code"].(string)
	code = strings.TrimSpace(code)
	if code == "" {
		return "main"
	}
	return code
}

// intArg accepts JSON numbers and numeric strings.
func intArg(args map[string]interface{}, name string) (int, error) {
	switch v := args[name].(type) {
	case float64:
		return int(v), nil
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%s must be an integer", name)
}

// Tool handlers

func (c *Client) handleListLobbies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/lobbies"
	if state, _ := arguments(request)["state"].(string); state != "" {
		path += "?state=" + url.QueryEscape(state)
	}

	var response struct {
		Count   int                  `json:"count"`
		Lobbies []*service.LobbyInfo `json:"lobbies"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Lobbies (%d):\n\n", response.Count)
	for _, l := range response.Lobbies {
		fmt.Fprintf(&b, "- %s [%s] map=%s players=%d doors_open=%d last_activity=%s\n",
			l.Code, l.State, l.MapName, len(l.Players), l.DoorsOpen(), l.LastActivityAt.Format("15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetLobby(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code := lobbyArg(arguments(request))

	var lobby service.LobbyInfo
	if err := c.apiCall(ctx, "GET", "/api/lobbies/"+url.PathEscape(code), nil, &lobby); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatLobby(&lobby)), nil
}

func (c *Client) handleDescribeTile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	code := lobbyArg(args)
	x, err := intArg(args, "x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := intArg(args, "y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var tile service.TileInfo
	path := fmt.Sprintf("/api/lobbies/%s/tiles/%d/%d", url.PathEscape(code), x, y)
	if err := c.apiCall(ctx, "GET", path, nil, &tile); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatTile(&tile)), nil
}

func (c *Client) handleListMaps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var maps []*service.MapInfo
	if err := c.apiCall(ctx, "GET", "/api/maps", nil, &maps); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Maps (%d):\n\n", len(maps))
	for _, m := range maps {
		marker := ""
		if m.Default {
			marker = " (default)"
		}
		fmt.Fprintf(&b, "- %s%s: %s\n  %dx%d, %d doors, %d keys, %d spawns, fingerprint %s\n",
			m.ConfigID, marker, m.Description, m.Width, m.Height, m.Doors, m.Keys, m.Spawns, m.Fingerprint)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGameInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(`KEY QUEST RULES

Players share a lobby. Keys (type "pushable") can be carried by one player at
a time. A key whose colour matches a locked door unlocks it when it is pushed
onto the door; the key is used up. A player standing on an unlocked door has
passed it. When every player in the lobby has passed a door the game is won
and everyone receives a game_pass message.

WIRE PROTOCOL
Newline-delimited JSON objects, each with a "type" field.
Client to server: join, move (alias action), push.
Server to client: sync_positions, sync_objects, player_passed_door, game_pass.

POSITIONS
Coordinates are tile units with (0,0) at the top-left; a player occupies a
one-tile square from its position.`), nil
}

func formatLobby(l *service.LobbyInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lobby %s [%s]\n", l.Code, l.State)
	fmt.Fprintf(&b, "Map: %s  Connections: %d  Verify unlock: %t\n", l.MapName, l.Connections, l.VerifyUnlock)
	fmt.Fprintf(&b, "Doors open: %d\n\n", l.DoorsOpen())

	fmt.Fprintf(&b, "Players (%d):\n", len(l.Players))
	for _, p := range l.Players {
		status := ""
		if p.PassedDoor {
			status = " passed"
		}
		fmt.Fprintf(&b, "- %s at (%g, %g)%s\n", p.Name, p.Pos.X, p.Pos.Y, status)
	}

	objects := make([]engine.ObjectView, 0, len(l.Objects))
	for _, obj := range l.Objects {
		if obj.Type == engine.Door.WireType() || obj.Type == engine.Key.WireType() {
			objects = append(objects, obj)
		}
	}
	sort.SliceStable(objects, func(i, j int) bool { return objects[i].Type < objects[j].Type })

	fmt.Fprintf(&b, "\nDoors and keys (%d):\n", len(objects))
	for _, obj := range objects {
		b.WriteString("- " + formatObject(obj) + "\n")
	}
	return b.String()
}

func formatObject(obj engine.ObjectView) string {
	s := fmt.Sprintf("%s %s at (%g, %g)", obj.ID, obj.Type, obj.X, obj.Y)
	if obj.Color != "" {
		s += " colour=" + obj.Color
	}
	if obj.Locked != nil {
		if *obj.Locked {
			s += " locked"
		} else {
			s += " open"
		}
	}
	if obj.PossessedBy != nil {
		s += " held by " + *obj.PossessedBy
	}
	return s
}

func formatTile(t *service.TileInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tile (%d, %d) in lobby %s\n", t.X, t.Y, t.LobbyCode)
	if len(t.Objects) == 0 {
		b.WriteString("Objects: none\n")
	} else {
		b.WriteString("Objects:\n")
		for _, obj := range t.Objects {
			b.WriteString("- " + formatObject(obj) + "\n")
		}
	}
	if len(t.Players) == 0 {
		b.WriteString("Players: none\n")
	} else {
		fmt.Fprintf(&b, "Players: %s\n", strings.Join(t.Players, ", "))
	}
	return b.String()
}
