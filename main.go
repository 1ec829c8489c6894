// Command keyquest starts the Key Quest cooperative puzzle server.
//
// It supports two commands:
//  1. "serve" (default) runs the TCP game server together with the HTTP
//     surface: REST inspection API, WebSocket game transport and an /mcp endpoint
//  2. "stdio-mcp" runs an MCP stdio server against a running API, starting
//     an internal game server if none is reachable
//
// Flags control listen addresses, the maps directory, unlock rules, timeouts,
// logging and optional ngrok tunneling for the HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/keyquest/api"
	"github.com/wricardo/mcp-training/keyquest/game/config"
	"github.com/wricardo/mcp-training/keyquest/game/engine"
	"github.com/wricardo/mcp-training/keyquest/game/service"
	"github.com/wricardo/mcp-training/keyquest/game/session"
	"github.com/wricardo/mcp-training/keyquest/transport/mcp"
	"github.com/wricardo/mcp-training/keyquest/transport/tcp"
	"github.com/wricardo/mcp-training/keyquest/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Key Quest Server"
)

const (
	cleanupInterval = time.Minute
	shutdownTimeout = 10 * time.Second
)

// dotenvErr is the result of loading .env at startup.
var dotenvErr error

// options is everything the server needs from the command line.
type options struct {
	Host         string
	Port         int
	HTTPHost     string
	HTTPPort     int
	MapsDir      string
	MapName      string
	VerifyUnlock bool
	LobbyIdleTTL time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	MaxConns     int

	NgrokEnabled bool
	NgrokAuth    string
	NgrokDomain  string
}

func newCommand() *cli.Command {
	serve := &cli.Command{
		Name:   "serve",
		Usage:  "Run the TCP game server with the HTTP API, WebSocket and MCP endpoint",
		Action: runServe,
	}
	stdio := &cli.Command{
		Name:    "stdio-mcp",
		Aliases: []string{"mcp-stdio", "mcp"},
		Usage:   "Run an MCP stdio server, starting an internal game server if no API is reachable",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Value:   "http://localhost:8080",
				Usage:   "REST API to proxy MCP tools to",
				Sources: cli.EnvVars("KEYQUEST_API_URL"),
			},
		},
		Action: runStdioMCP,
	}

	return &cli.Command{
		Name:     "keyquest",
		Usage:    AppName,
		Version:  Version,
		Flags:    globalFlags(),
		Before:   setupLogging,
		Action:   runServe,
		Commands: []*cli.Command{serve, stdio},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: "0.0.0.0", Usage: "TCP game server host", Sources: cli.EnvVars("KEYQUEST_HOST")},
		&cli.IntFlag{Name: "port", Value: 5555, Usage: "TCP game server port", Sources: cli.EnvVars("KEYQUEST_PORT")},
		&cli.StringFlag{Name: "http-host", Value: "", Usage: "HTTP server host", Sources: cli.EnvVars("KEYQUEST_HTTP_HOST")},
		&cli.IntFlag{Name: "http-port", Value: 8080, Usage: "HTTP server port", Sources: cli.EnvVars("KEYQUEST_HTTP_PORT")},
		&cli.StringFlag{Name: "maps-dir", Value: "maps", Usage: "Directory containing map definitions", Sources: cli.EnvVars("KEYQUEST_MAPS_DIR", "MAPS_DIR")},
		&cli.StringFlag{Name: "map", Value: config.DefaultMapName, Usage: "Map new lobbies are built from", Sources: cli.EnvVars("KEYQUEST_MAP")},
		&cli.BoolFlag{Name: "verify-unlock", Value: true, Usage: "Require key and door to overlap before unlocking", Sources: cli.EnvVars("KEYQUEST_VERIFY_UNLOCK")},
		&cli.DurationFlag{Name: "lobby-idle-ttl", Value: 10 * time.Minute, Usage: "Remove lobbies that stay empty this long", Sources: cli.EnvVars("KEYQUEST_LOBBY_IDLE_TTL")},
		&cli.DurationFlag{Name: "idle-timeout", Value: 0, Usage: "Close TCP connections silent this long (0 disables)", Sources: cli.EnvVars("KEYQUEST_IDLE_TIMEOUT")},
		&cli.DurationFlag{Name: "write-timeout", Value: 5 * time.Second, Usage: "Per-frame TCP write deadline", Sources: cli.EnvVars("KEYQUEST_WRITE_TIMEOUT")},
		&cli.IntFlag{Name: "max-conns", Value: 0, Usage: "Maximum concurrent TCP connections (0 is unlimited)", Sources: cli.EnvVars("KEYQUEST_MAX_CONNS")},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging", Sources: cli.EnvVars("KEYQUEST_DEBUG")},
		&cli.StringFlag{Name: "log-format", Value: "console", Usage: "Log format: console or json", Sources: cli.EnvVars("KEYQUEST_LOG_FORMAT")},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel for the HTTP surface", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

func optionsFromCommand(cmd *cli.Command) options {
	opts := options{
		Host:         cmd.String("host"),
		Port:         int(cmd.Int("port")),
		HTTPHost:     cmd.String("http-host"),
		HTTPPort:     int(cmd.Int("http-port")),
		MapsDir:      cmd.String("maps-dir"),
		MapName:      cmd.String("map"),
		VerifyUnlock: cmd.Bool("verify-unlock"),
		LobbyIdleTTL: cmd.Duration("lobby-idle-ttl"),
		IdleTimeout:  cmd.Duration("idle-timeout"),
		WriteTimeout: cmd.Duration("write-timeout"),
		MaxConns:     int(cmd.Int("max-conns")),
		NgrokEnabled: cmd.Bool("ngrok"),
		NgrokAuth:    cmd.String("ngrok-auth"),
		NgrokDomain:  cmd.String("ngrok-domain"),
	}

	// The default maps directory is optional; an explicit one must exist.
	if !cmd.IsSet("maps-dir") {
		if _, err := os.Stat(opts.MapsDir); os.IsNotExist(err) {
			log.Debug().Str("dir", opts.MapsDir).Msg("maps directory not found, using built-in maps")
			opts.MapsDir = ""
		}
	}
	return opts
}

// setupLogging configures the global zerolog logger. Logs always go to
// stderr so stdio-mcp keeps stdout for the protocol.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := configureLogger(os.Stderr, cmd.Bool("debug"), cmd.String("log-format")); err != nil {
		return ctx, err
	}
	switch {
	case dotenvErr == nil:
		log.Debug().Msg("loaded environment variables from .env file")
	case !os.IsNotExist(dotenvErr):
		log.Warn().Err(dotenvErr).Msg("error loading .env file")
	}
	return ctx, nil
}

func configureLogger(w io.Writer, debug bool, format string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	switch format {
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	case "console", "":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	default:
		return fmt.Errorf("unknown log format %q (use console or json)", format)
	}
	return nil
}

// app holds the wired components of one running server.
type app struct {
	opts     options
	maps     *config.Manager
	lobbies  *session.Manager
	service  service.GameService
	hub      *websocket.Hub
	api      *api.Server
	tcp      *tcp.Listener
	httpLn   net.Listener
	http     *http.Server
	mcp      *mcp.Client
	handlers http.Handler
}

// newApp wires every component and binds both listeners, so address errors
// surface before anything starts serving.
func newApp(opts options) (*app, error) {
	maps, err := config.NewManager(opts.MapsDir, opts.MapName)
	if err != nil {
		return nil, fmt.Errorf("failed to create map manager: %w", err)
	}

	lobbies := session.NewManager(maps, engine.Rules{VerifyUnlock: opts.VerifyUnlock})
	gameService := service.NewGameService(lobbies, maps)
	hub := websocket.NewHub(lobbies)
	apiServer := api.NewServer(gameService, hub)

	listener := tcp.NewListener(net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)), lobbies, tcp.Options{
		IdleTimeout:  opts.IdleTimeout,
		WriteTimeout: opts.WriteTimeout,
		MaxConns:     opts.MaxConns,
	})
	if err := listener.Listen(); err != nil {
		return nil, err
	}

	httpAddr := net.JoinHostPort(opts.HTTPHost, strconv.Itoa(opts.HTTPPort))
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}

	a := &app{
		opts:    opts,
		maps:    maps,
		lobbies: lobbies,
		service: gameService,
		hub:     hub,
		api:     apiServer,
		tcp:     listener,
		httpLn:  httpLn,
		mcp:     mcp.NewClient(localURL(httpLn.Addr())),
	}
	apiServer.Handle("/mcp", mcpHandler(a.mcp.GetMCPServer()), "POST")
	a.handlers = apiServer
	a.http = &http.Server{
		Handler:      apiServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a, nil
}

// localURL turns a bound address into a URL reachable from this host.
func localURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// mcpHandler serves single JSON-RPC MCP messages over HTTP POST.
func mcpHandler(mcpServer *server.MCPServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
}

// run serves until ctx is done or a component fails, then shuts everything
// down.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.maps.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("map hot-reload disabled")
		}
		return nil
	})

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return a.tcp.Serve(ctx)
	})

	g.Go(func() error {
		log.Info().
			Str("addr", a.httpLn.Addr().String()).
			Str("api", a.mcp.BaseURL()+"/api").
			Str("websocket", "/ws?lobby=<code>").
			Str("mcp", "/mcp").
			Msg("http server listening")
		if err := a.http.Serve(a.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown error")
		}
		return nil
	})

	g.Go(func() error {
		a.cleanupLoop(ctx, cleanupInterval)
		return nil
	})

	if a.opts.NgrokEnabled {
		g.Go(func() error {
			a.runNgrok(ctx)
			return nil
		})
	}

	err := g.Wait()
	log.Info().Msg("server stopped")
	return err
}

// cleanupLoop periodically removes lobbies that have been empty for longer
// than the idle TTL.
func (a *app) cleanupLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.lobbies.CleanupIdleLobbies(a.opts.LobbyIdleTTL); removed > 0 {
				log.Info().Int("removed", removed).Int("remaining", a.lobbies.Count()).Msg("cleaned up idle lobbies")
			}
		}
	}
}

// runNgrok exposes the HTTP surface through an ngrok tunnel. Failures are
// logged and leave the local server running.
func (a *app) runNgrok(ctx context.Context) {
	if a.opts.NgrokAuth == "" {
		log.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN or NGROK_AUTH_TOKEN)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if a.opts.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(a.opts.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	log.Info().Str("domain", a.opts.NgrokDomain).Msg("starting ngrok tunnel")
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(a.opts.NgrokAuth))
	if err != nil {
		log.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}

	srv := &http.Server{Handler: a.handlers}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info().Str("url", tun.URL()).Msg("ngrok tunnel established")
	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Msg("ngrok server error")
	}
	log.Info().Msg("ngrok tunnel closed")
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := optionsFromCommand(cmd)
	a, err := newApp(opts)
	if err != nil {
		return err
	}

	log.Info().
		Str("version", Version).
		Str("map", a.maps.DefaultName()).
		Bool("verify_unlock", opts.VerifyUnlock).
		Dur("lobby_idle_ttl", opts.LobbyIdleTTL).
		Msg("starting " + AppName)
	return a.run(ctx)
}

// runStdioMCP serves MCP over stdio. It reuses the API at --api-url when it
// answers; otherwise it starts an internal server with its HTTP side on a
// random loopback port.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	baseURL := cmd.String("api-url")
	if apiReachable(ctx, baseURL) {
		log.Info().Str("api", baseURL).Msg("using external API server for MCP")
		return serveStdio(mcp.NewClient(baseURL))
	}

	log.Info().Str("api", baseURL).Msg("no external API server found, starting internal server")
	opts := optionsFromCommand(cmd)
	opts.HTTPHost = "127.0.0.1"
	opts.HTTPPort = 0
	a, err := newApp(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	err = serveStdio(a.mcp)
	cancel()
	if runErr := <-done; runErr != nil && err == nil {
		err = runErr
	}
	return err
}

func serveStdio(client *mcp.Client) error {
	log.Info().Str("api", client.BaseURL()).Msg("mcp stdio server ready")
	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
		return fmt.Errorf("mcp stdio server error: %w", err)
	}
	return nil
}

func apiReachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// main loads .env, then parses flags and runs the selected command.
func main() {
	// Load .env file if it exists; reported once logging is configured
	dotenvErr = godotenv.Load()

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("keyquest failed")
	}
}
