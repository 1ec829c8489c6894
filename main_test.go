package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
	"github.com/wricardo/mcp-training/keyquest/game/session"
	"github.com/wricardo/mcp-training/keyquest/transport/protocol"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName != "Key Quest Server" {
		t.Errorf("Unexpected app name %s", AppName)
	}
}

// parseOptions runs the command with args and captures the parsed options
// instead of starting a server.
func parseOptions(t *testing.T, args ...string) options {
	t.Helper()
	var opts options
	cmd := newCommand()
	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		opts = optionsFromCommand(c)
		return nil
	}
	if err := cmd.Run(context.Background(), append([]string{"keyquest"}, args...)); err != nil {
		t.Fatalf("Run(%v): %v", args, err)
	}
	return opts
}

func TestFlagDefaults(t *testing.T) {
	opts := parseOptions(t)

	if opts.Host != "0.0.0.0" || opts.Port != 5555 {
		t.Errorf("Expected TCP on 0.0.0.0:5555, got %s:%d", opts.Host, opts.Port)
	}
	if opts.HTTPPort != 8080 {
		t.Errorf("Expected HTTP port 8080, got %d", opts.HTTPPort)
	}
	if !opts.VerifyUnlock {
		t.Error("verify-unlock should default to true")
	}
	if opts.MapName != "classic" {
		t.Errorf("Expected classic map, got %s", opts.MapName)
	}
	if opts.LobbyIdleTTL != 10*time.Minute {
		t.Errorf("Expected 10m lobby TTL, got %v", opts.LobbyIdleTTL)
	}
	if opts.WriteTimeout != 5*time.Second || opts.IdleTimeout != 0 {
		t.Errorf("Unexpected timeouts: write=%v idle=%v", opts.WriteTimeout, opts.IdleTimeout)
	}
}

func TestFlagOverrides(t *testing.T) {
	t.Setenv("KEYQUEST_HTTP_PORT", "9090")

	opts := parseOptions(t, "--port", "6000", "--verify-unlock=false", "--lobby-idle-ttl", "30s")

	if opts.Port != 6000 {
		t.Errorf("Expected port 6000, got %d", opts.Port)
	}
	if opts.HTTPPort != 9090 {
		t.Errorf("Expected HTTP port from env, got %d", opts.HTTPPort)
	}
	if opts.VerifyUnlock {
		t.Error("Expected trusting unlock mode")
	}
	if opts.LobbyIdleTTL != 30*time.Second {
		t.Errorf("Expected 30s TTL, got %v", opts.LobbyIdleTTL)
	}
}

func TestMissingDefaultMapsDirFallsBack(t *testing.T) {
	t.Chdir(t.TempDir())

	if opts := parseOptions(t); opts.MapsDir != "" {
		t.Errorf("Expected built-in maps without a maps directory, got %q", opts.MapsDir)
	}
	if opts := parseOptions(t, "--maps-dir", "elsewhere"); opts.MapsDir != "elsewhere" {
		t.Errorf("Explicit maps directory should be kept, got %q", opts.MapsDir)
	}
}

func TestConfigureLogger(t *testing.T) {
	defer configureLogger(&bytes.Buffer{}, false, "console")

	var buf bytes.Buffer
	if err := configureLogger(&buf, false, "json"); err != nil {
		t.Fatal(err)
	}
	log.Debug().Msg("hidden")
	log.Info().Str("lobby", "main").Msg("test message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected one JSON log line, got %q", buf.String())
	}
	if entry["message"] != "test message" || entry["level"] != "info" || entry["lobby"] != "main" {
		t.Errorf("Unexpected log entry: %v", entry)
	}

	buf.Reset()
	configureLogger(&buf, true, "json")
	log.Debug().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Expected debug output with debug enabled")
	}

	if err := configureLogger(&buf, false, "xml"); err == nil {
		t.Error("Expected error for unknown log format")
	}
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"0.0.0.0:8080", "http://127.0.0.1:8080"},
		{"[::]:8080", "http://127.0.0.1:8080"},
		{"127.0.0.1:9000", "http://127.0.0.1:9000"},
		{"10.1.2.3:80", "http://10.1.2.3:80"},
	}
	for _, tt := range tests {
		addr, err := net.ResolveTCPAddr("tcp", tt.addr)
		if err != nil {
			t.Fatal(err)
		}
		if got := localURL(addr); got != tt.want {
			t.Errorf("localURL(%s) = %s, want %s", tt.addr, got, tt.want)
		}
	}
}

func TestNewAppInvalidMapsDir(t *testing.T) {
	_, err := newApp(options{MapsDir: "/non/existent/path", Host: "127.0.0.1", HTTPHost: "127.0.0.1"})
	if err == nil {
		t.Error("Expected error for non-existent maps directory")
	}
}

func TestAppServesAllSurfaces(t *testing.T) {
	a, err := newApp(options{
		Host:         "127.0.0.1",
		HTTPHost:     "127.0.0.1",
		MapName:      "classic",
		VerifyUnlock: true,
		LobbyIdleTTL: time.Minute,
		WriteTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	}()

	// game over TCP
	conn, err := net.Dial("tcp", a.tcp.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte(`{"type":"join","player":"A","lobby_code":"E2E"}` + "\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read join broadcast: %v", err)
	}
	if !strings.Contains(line, `"sync_positions"`) {
		t.Errorf("Expected sync_positions, got %s", line)
	}

	// REST inspection
	base := a.mcp.BaseURL()
	resp, err := http.Get(base + "/api/lobbies/e2e")
	if err != nil {
		t.Fatal(err)
	}
	var lobby struct {
		Code    string `json:"code"`
		Players []struct {
			Name string `json:"name"`
		} `json:"players"`
	}
	json.NewDecoder(resp.Body).Decode(&lobby)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || lobby.Code != "e2e" || len(lobby.Players) != 1 {
		t.Errorf("Unexpected lobby response %d: %+v", resp.StatusCode, lobby)
	}

	// MCP over HTTP, proxied back to the REST API
	call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_lobby","arguments":{"lobby_code":"e2e"}}}`
	resp, err = http.Post(base+"/mcp", "application/json", strings.NewReader(call))
	if err != nil {
		t.Fatal(err)
	}
	var rpc struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	json.NewDecoder(resp.Body).Decode(&rpc)
	resp.Body.Close()
	if len(rpc.Result.Content) == 0 || !strings.Contains(rpc.Result.Content[0].Text, "Players (1)") {
		t.Errorf("Unexpected MCP response: %+v", rpc)
	}
}

func TestCleanupLoop(t *testing.T) {
	lobbies := session.NewManager(staticMaps{}, engine.Rules{})
	msg := &protocol.Message{Type: protocol.TypeJoin, Player: "A", LobbyCode: "stale"}
	if err := lobbies.HandleMessage(nopConn{}, msg); err != nil {
		t.Fatal(err)
	}
	lobbies.Disconnect(nopConn{})

	a := &app{opts: options{LobbyIdleTTL: 0}, lobbies: lobbies}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.cleanupLoop(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for lobbies.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle lobby was not cleaned up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type staticMaps struct{}

func (staticMaps) GetDefault() *engine.MapConfig { return engine.DefaultMapConfig() }

type nopConn struct{}

func (nopConn) ID() string              { return "nop" }
func (nopConn) RemoteAddr() string      { return "pipe" }
func (nopConn) Send(frame []byte) error { return nil }
func (nopConn) Close() error            { return nil }
