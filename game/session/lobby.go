package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
	"github.com/wricardo/mcp-training/keyquest/game/service"
	"github.com/wricardo/mcp-training/keyquest/transport/protocol"
)

var errLobbyClosed = errors.New("lobby closed")

// Conn is one client connection as the session layer sees it. Send must not
// block for long; it is called with the lobby locked.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(frame []byte) error
	Close() error
}

// Lobby is one isolated game instance. Every operation, including the
// broadcast it triggers, runs under the lobby mutex.
type Lobby struct {
	code      string
	createdAt time.Time

	mu           sync.Mutex
	world        *engine.World
	conns        map[string]Conn   // connection id -> connection
	members      map[string]string // connection id -> player
	lastActivity time.Time

	// closed is written under mu and read without it by the manager
	closed atomic.Bool
}

func newLobby(code string, config *engine.MapConfig, rules engine.Rules) (*Lobby, error) {
	world, err := engine.NewWorld(config, rules)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Lobby{
		code:         code,
		createdAt:    now,
		world:        world,
		conns:        make(map[string]Conn),
		members:      make(map[string]string),
		lastActivity: now,
	}, nil
}

// Code returns the normalized lobby code.
func (l *Lobby) Code() string {
	return l.code
}

func (l *Lobby) join(conn Conn, player string) (engine.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return engine.Position{}, errLobbyClosed
	}

	spawn, events, err := l.world.Join(player)
	if err != nil {
		return engine.Position{}, err
	}
	l.conns[conn.ID()] = conn
	l.members[conn.ID()] = player
	l.lastActivity = time.Now()

	l.publish(events)
	return spawn, nil
}

func (l *Lobby) move(player string, pos engine.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.world.Move(player, pos)
	if err != nil {
		return err
	}
	l.lastActivity = time.Now()
	l.publish(events)
	return nil
}

func (l *Lobby) push(req engine.PushRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.world.Push(req)
	if err != nil {
		return err
	}
	l.lastActivity = time.Now()
	l.publish(events)
	return nil
}

// leave unregisters a connection and removes its player. It reports the
// player name, or false if the connection was not a member.
func (l *Lobby) leave(connID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.conns, connID)
	player, ok := l.members[connID]
	if !ok {
		return "", false
	}
	delete(l.members, connID)
	l.lastActivity = time.Now()

	events, err := l.world.Leave(player)
	if err != nil {
		log.Warn().Err(err).Str("lobby", l.code).Str("player", player).Msg("leave for player not on roster")
		return player, true
	}
	if events == nil {
		log.Info().Str("lobby", l.code).Msg("lobby empty, state reset")
	}
	l.publish(events)
	return player, true
}

// closeIfIdle marks the lobby closed when nobody has been in it for maxIdle.
func (l *Lobby) closeIfIdle(maxIdle time.Duration, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.world.PlayerCount() > 0 || now.Sub(l.lastActivity) < maxIdle {
		return false
	}
	l.closed.Store(true)
	return true
}

// publish turns engine events into frames and broadcasts them in order.
// Callers hold l.mu.
func (l *Lobby) publish(events []engine.Event) {
	for _, ev := range events {
		var msg any
		switch ev.Kind {
		case engine.EventPositionsChanged:
			msg = protocol.NewSyncPositions(l.code, l.world.Positions())
		case engine.EventObjectsChanged:
			msg = protocol.NewSyncObjects(l.code, l.world.ObjectViews())
		case engine.EventPlayerPassed:
			log.Info().Str("lobby", l.code).Str("player", ev.Player).Str("door", ev.DoorID).Msg("player passed door")
			msg = protocol.NewPlayerPassedDoor(l.code, ev.Player, ev.DoorID)
		case engine.EventGamePassed:
			log.Info().Str("lobby", l.code).Int("players", l.world.PlayerCount()).Msg("game passed")
			msg = protocol.NewGamePass(l.code)
		default:
			continue
		}

		frame, err := protocol.Encode(msg)
		if err != nil {
			log.Error().Err(err).Str("lobby", l.code).Stringer("event", ev.Kind).Msg("failed to encode broadcast")
			continue
		}
		l.broadcast(frame)
	}
}

// broadcast sends one frame to every registered connection. Connections that
// fail are dropped from the registry and closed; their read loops then run
// the regular disconnect path.
func (l *Lobby) broadcast(frame []byte) {
	for id, conn := range l.conns {
		if err := conn.Send(frame); err != nil {
			log.Warn().Err(err).Str("lobby", l.code).Str("conn", id).Str("remote", conn.RemoteAddr()).Msg("dropping unreachable connection")
			delete(l.conns, id)
			if cerr := conn.Close(); cerr != nil {
				log.Debug().Err(cerr).Str("conn", id).Msg("close after failed send")
			}
		}
	}
}

// Snapshot returns an inspection view of the lobby.
func (l *Lobby) Snapshot() *service.LobbyInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := &service.LobbyInfo{
		Code:           l.code,
		MapName:        l.world.Config().Name,
		Players:        l.world.Players(),
		Objects:        []engine.ObjectView{},
		Connections:    len(l.conns),
		VerifyUnlock:   l.world.Rules().VerifyUnlock,
		CreatedAt:      l.createdAt,
		LastActivityAt: l.lastActivity,
	}
	for _, obj := range l.world.Objects() {
		info.Objects = append(info.Objects, obj.View())
	}

	switch {
	case l.world.PlayerCount() == 0:
		info.State = service.LobbyEmpty
	case l.world.Completed() && allPassed(info.Players):
		info.State = service.LobbyComplete
	default:
		info.State = service.LobbyActive
	}
	return info
}

// allPassed reports whether every player has passed a door. A player who
// joined after completion keeps the lobby active until they pass too.
func allPassed(players []engine.Player) bool {
	for _, p := range players {
		if !p.PassedDoor {
			return false
		}
	}
	return true
}
