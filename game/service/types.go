package service

import (
	"time"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
)

// Lobby states reported by inspection views
const (
	LobbyEmpty    = "empty"
	LobbyActive   = "active"
	LobbyComplete = "complete"
)

// LobbyInfo is a point-in-time snapshot of one lobby
type LobbyInfo struct {
	Code           string              `json:"code"`
	MapName        string              `json:"map_name"`
	State          string              `json:"state"`
	Players        []engine.Player     `json:"players"`
	Objects        []engine.ObjectView `json:"objects"`
	Connections    int                 `json:"connections"`
	VerifyUnlock   bool                `json:"verify_unlock"`
	CreatedAt      time.Time           `json:"created_at"`
	LastActivityAt time.Time           `json:"last_activity_at"`
}

// DoorsOpen counts unlocked doors in the snapshot.
func (l *LobbyInfo) DoorsOpen() int {
	n := 0
	for _, obj := range l.Objects {
		if obj.Locked != nil && !*obj.Locked {
			n++
		}
	}
	return n
}

// MapInfo provides information about a map definition
type MapInfo struct {
	Filename    string `json:"filename,omitempty"` // empty for built-in maps
	ConfigID    string `json:"config_id"`          // the identifier to pass to --map
	Name        string `json:"name"`
	Description string `json:"description"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Doors       int    `json:"doors"`
	Keys        int    `json:"keys"`
	Spawns      int    `json:"spawns"`
	Fingerprint string `json:"fingerprint"`
	Default     bool   `json:"default"`
}

// TileInfo lists what occupies one tile of a lobby
type TileInfo struct {
	LobbyCode string              `json:"lobby_code"`
	X         int                 `json:"x"`
	Y         int                 `json:"y"`
	Objects   []engine.ObjectView `json:"objects"`
	Players   []string            `json:"players"`
}
