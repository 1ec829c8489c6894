package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
	"github.com/wricardo/mcp-training/keyquest/game/service"
	"github.com/wricardo/mcp-training/keyquest/transport/protocol"
)

var (
	ErrLobbyNotFound      = errors.New("lobby not found")
	ErrAlreadyJoined      = errors.New("connection already joined")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// DefaultLobbyCode is used when a message carries no lobby_code.
const DefaultLobbyCode = "main"

// joinAttempts bounds retries when a join races with idle cleanup.
const joinAttempts = 3

// MapProvider supplies the map new lobbies are built from.
type MapProvider interface {
	GetDefault() *engine.MapConfig
}

type binding struct {
	code   string
	player string
}

// Manager owns every lobby and routes client messages to them. Its mutex
// guards only the lobby map and the connection index and is never held while
// a lobby is locked.
type Manager struct {
	maps     MapProvider
	rules    engine.Rules
	lobbies  map[string]*Lobby
	bindings map[string]binding // connection id -> lobby and player
	mu       sync.RWMutex
}

// NewManager creates a new lobby manager
func NewManager(maps MapProvider, rules engine.Rules) *Manager {
	return &Manager{
		maps:     maps,
		rules:    rules,
		lobbies:  make(map[string]*Lobby),
		bindings: make(map[string]binding),
	}
}

// NormalizeCode lower-cases a lobby code and maps empty to the default lobby.
func NormalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return DefaultLobbyCode
	}
	return code
}

// HandleMessage applies one decoded client message. Returned errors are
// protocol errors; the connection stays usable.
func (m *Manager) HandleMessage(conn Conn, msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeJoin:
		return m.join(conn, msg)
	case protocol.TypeMove, protocol.TypeAction:
		return m.move(conn, msg)
	case protocol.TypePush:
		return m.push(conn, msg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
}

func (m *Manager) join(conn Conn, msg *protocol.Message) error {
	code := NormalizeCode(msg.LobbyCode)

	m.mu.RLock()
	b, bound := m.bindings[conn.ID()]
	m.mu.RUnlock()
	if bound {
		if b.code == code && b.player == msg.Player {
			return nil
		}
		return fmt.Errorf("%w: already %s in %s", ErrAlreadyJoined, b.player, b.code)
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		lobby, err := m.getOrCreate(code)
		if err != nil {
			return err
		}

		spawn, err := lobby.join(conn, msg.Player)
		if errors.Is(err, errLobbyClosed) {
			continue
		}
		if err != nil {
			return err
		}

		m.mu.Lock()
		m.bindings[conn.ID()] = binding{code: code, player: msg.Player}
		m.mu.Unlock()

		log.Info().
			Str("lobby", code).
			Str("player", msg.Player).
			Str("conn", conn.ID()).
			Float64("x", spawn.X).
			Float64("y", spawn.Y).
			Msg("player joined")
		return nil
	}
	return fmt.Errorf("failed to join lobby %s: %w", code, errLobbyClosed)
}

func (m *Manager) move(conn Conn, msg *protocol.Message) error {
	if msg.Position == nil {
		return fmt.Errorf("%w: %s without position", protocol.ErrMalformedMessage, msg.Type)
	}
	lobby, player, err := m.resolve(conn, msg)
	if err != nil {
		return err
	}
	return lobby.move(player, msg.Position.Position())
}

func (m *Manager) push(conn Conn, msg *protocol.Message) error {
	set, possessor, err := msg.Possession()
	if err != nil {
		return err
	}
	lobby, player, err := m.resolve(conn, msg)
	if err != nil {
		return err
	}

	req := engine.PushRequest{
		Player:       player,
		ObjectID:     msg.ObjectID,
		SetPossessor: set,
		Possessor:    possessor,
		DoorID:       msg.DoorID,
	}
	if msg.Position != nil {
		pos := msg.Position.Position()
		req.Position = &pos
	}
	return lobby.push(req)
}

// resolve finds the lobby and player a message refers to. Explicit fields win
// over the connection's own binding.
func (m *Manager) resolve(conn Conn, msg *protocol.Message) (*Lobby, string, error) {
	m.mu.RLock()
	b, bound := m.bindings[conn.ID()]
	m.mu.RUnlock()

	code := b.code
	if msg.LobbyCode != "" || !bound {
		code = NormalizeCode(msg.LobbyCode)
	}
	player := msg.Player
	if player == "" {
		player = b.player
	}
	if player == "" {
		return nil, "", fmt.Errorf("%w: message names no player", engine.ErrUnknownPlayer)
	}

	lobby, err := m.Get(code)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s in %s", engine.ErrUnknownPlayer, player, code)
	}
	return lobby, player, nil
}

// Disconnect releases everything held by a connection. It is safe to call for
// connections that never joined.
func (m *Manager) Disconnect(conn Conn) {
	m.mu.Lock()
	b, bound := m.bindings[conn.ID()]
	delete(m.bindings, conn.ID())
	lobby := m.lobbies[b.code]
	m.mu.Unlock()

	if !bound || lobby == nil {
		return
	}
	if player, ok := lobby.leave(conn.ID()); ok {
		log.Info().Str("lobby", b.code).Str("player", player).Str("conn", conn.ID()).Msg("player left")
	}
}

func (m *Manager) getOrCreate(code string) (*Lobby, error) {
	m.mu.RLock()
	lobby, exists := m.lobbies[code]
	m.mu.RUnlock()
	if exists && !lobby.closed.Load() {
		return lobby, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if lobby, exists := m.lobbies[code]; exists && !lobby.closed.Load() {
		return lobby, nil
	}

	config := m.maps.GetDefault()
	lobby, err := newLobby(code, config, m.rules)
	if err != nil {
		return nil, fmt.Errorf("failed to create lobby %s: %w", code, err)
	}
	m.lobbies[code] = lobby
	log.Info().Str("lobby", code).Str("map", config.Name).Bool("verify_unlock", m.rules.VerifyUnlock).Msg("lobby created")
	return lobby, nil
}

// Get retrieves a lobby by code (case-insensitive)
func (m *Manager) Get(code string) (*Lobby, error) {
	m.mu.RLock()
	lobby, exists := m.lobbies[NormalizeCode(code)]
	m.mu.RUnlock()

	if !exists || lobby.closed.Load() {
		return nil, ErrLobbyNotFound
	}
	return lobby, nil
}

// List returns all open lobbies
func (m *Manager) List() []*Lobby {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Lobby, 0, len(m.lobbies))
	for _, lobby := range m.lobbies {
		if !lobby.closed.Load() {
			result = append(result, lobby)
		}
	}
	return result
}

// Count returns the number of open lobbies
func (m *Manager) Count() int {
	return len(m.List())
}

// Snapshot returns the inspection view of one lobby
func (m *Manager) Snapshot(code string) (*service.LobbyInfo, error) {
	lobby, err := m.Get(code)
	if err != nil {
		return nil, err
	}
	return lobby.Snapshot(), nil
}

// Snapshots returns the inspection view of every open lobby
func (m *Manager) Snapshots() []*service.LobbyInfo {
	lobbies := m.List()
	result := make([]*service.LobbyInfo, 0, len(lobbies))
	for _, lobby := range lobbies {
		result = append(result, lobby.Snapshot())
	}
	return result
}

// CleanupIdleLobbies removes lobbies that have had no players for maxIdle
func (m *Manager) CleanupIdleLobbies(maxIdle time.Duration) int {
	lobbies := m.List()
	now := time.Now()
	removed := 0

	for _, lobby := range lobbies {
		if !lobby.closeIfIdle(maxIdle, now) {
			continue
		}
		m.mu.Lock()
		if m.lobbies[lobby.code] == lobby {
			delete(m.lobbies, lobby.code)
		}
		m.mu.Unlock()
		removed++
		log.Debug().Str("lobby", lobby.code).Msg("idle lobby removed")
	}

	return removed
}

// IsSilent reports protocol errors that are expected in normal play and only
// worth debug logging.
func IsSilent(err error) bool {
	return errors.Is(err, engine.ErrUnknownObject) ||
		errors.Is(err, engine.ErrStaticObject) ||
		errors.Is(err, engine.ErrUnlockRejected) ||
		errors.Is(err, engine.ErrPlayerExists)
}
