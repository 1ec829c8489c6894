package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/keyquest/game/config"
	"github.com/wricardo/mcp-training/keyquest/game/service"
	"github.com/wricardo/mcp-training/keyquest/game/session"
	"github.com/wricardo/mcp-training/keyquest/transport/websocket"
)

// Server represents the read-only REST API server
type Server struct {
	service   service.GameService
	hub       *websocket.Hub
	router    *mux.Router
	startedAt time.Time
}

// NewServer creates a new API server. hub may be nil, in which case /ws is
// not served.
func NewServer(gameService service.GameService, hub *websocket.Hub) *Server {
	s := &Server{
		service:   gameService,
		hub:       hub,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	// Lobbies
	s.router.HandleFunc("/api/lobbies", s.handleListLobbies).Methods("GET")
	s.router.HandleFunc("/api/lobbies/{code}", s.handleGetLobby).Methods("GET")
	s.router.HandleFunc("/api/lobbies/{code}/tiles/{x}/{y}", s.handleDescribeTile).Methods("GET")

	// Maps
	s.router.HandleFunc("/api/maps", s.handleListMaps).Methods("GET")
	s.router.HandleFunc("/api/maps/{name}", s.handleGetMap).Methods("GET")

	// WebSocket game transport
	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.ServeWS)
	}
}

// Handle mounts an extra handler on the server's router, e.g. the MCP
// endpoint.
func (s *Server) Handle(path string, handler http.Handler, methods ...string) {
	route := s.router.Handle(path, handler)
	if len(methods) > 0 {
		route.Methods(methods...)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrLobbyNotFound), errors.Is(err, config.ErrConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, config.ErrInvalidConfig):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	lobbies, err := s.service.ListLobbies(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]interface{}{
		"status":         "healthy",
		"lobbies":        len(lobbies),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}
	if s.hub != nil {
		response["websocket_clients"] = s.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, response)
}

// Lobby Handlers

func (s *Server) handleListLobbies(w http.ResponseWriter, r *http.Request) {
	lobbies, err := s.service.ListLobbies(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	query := r.URL.Query()

	// Optional state filter: empty, active, complete
	if state := query.Get("state"); state != "" {
		filtered := make([]*service.LobbyInfo, 0, len(lobbies))
		for _, lobby := range lobbies {
			if lobby.State == state {
				filtered = append(filtered, lobby)
			}
		}
		lobbies = filtered
	}

	sortBy := query.Get("sort") // "code" (default), "activity", "players"
	if sortBy == "" {
		sortBy = "code"
	}
	switch sortBy {
	case "activity":
		sort.SliceStable(lobbies, func(i, j int) bool {
			return lobbies[i].LastActivityAt.After(lobbies[j].LastActivityAt)
		})
	case "players":
		sort.SliceStable(lobbies, func(i, j int) bool {
			return len(lobbies[i].Players) > len(lobbies[j].Players)
		})
	}

	total := len(lobbies)
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(lobbies) {
			lobbies = lobbies[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(lobbies),
		"total":   total,
		"sort":    sortBy,
		"lobbies": lobbies,
	})
}

func (s *Server) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	lobby, err := s.service.GetLobby(r.Context(), code)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, lobby)
}

func (s *Server) handleDescribeTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	x, errX := strconv.Atoi(vars["x"])
	y, errY := strconv.Atoi(vars["y"])
	if errX != nil || errY != nil {
		respondError(w, http.StatusBadRequest, "tile coordinates must be integers")
		return
	}

	tile, err := s.service.DescribeTile(r.Context(), vars["code"], x, y)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, tile)
}

// Map Handlers

func (s *Server) handleListMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := s.service.ListMaps(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, maps)
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	// Remove .json extension if present
	name := strings.TrimSuffix(mux.Vars(r)["name"], ".json")

	m, err := s.service.GetMap(r.Context(), name)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, m)
}
