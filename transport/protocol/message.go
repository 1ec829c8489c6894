package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
)

// MessageType is the value of the "type" field on every frame.
type MessageType string

const (
	// Client to server
	TypeJoin   MessageType = "join"
	TypeMove   MessageType = "move"
	TypeAction MessageType = "action" // legacy alias of move
	TypePush   MessageType = "push"

	// Server to client
	TypeSyncPositions    MessageType = "sync_positions"
	TypeSyncObjects      MessageType = "sync_objects"
	TypePlayerPassedDoor MessageType = "player_passed_door"
	TypeGamePass         MessageType = "game_pass"
)

// GamePassText is sent with every game_pass message.
const GamePassText = "All players have passed through the door! Game passed!"

// Message is an inbound client frame. Fields that a type does not use are
// left empty.
type Message struct {
	Type        MessageType     `json:"type"`
	Player      string          `json:"player,omitempty"`
	LobbyCode   string          `json:"lobby_code,omitempty"`
	Position    *Point          `json:"position,omitempty"`
	ObjectID    string          `json:"object_id,omitempty"`
	PossessedBy json.RawMessage `json:"possessed_by,omitempty"`
	DoorID      string          `json:"door_id,omitempty"`
}

// Possession reports the possessed_by field of a push. set is false when the
// field was absent; name is nil when the field was an explicit null.
func (m *Message) Possession() (set bool, name *string, err error) {
	if len(m.PossessedBy) == 0 {
		return false, nil, nil
	}
	if bytes.Equal(bytes.TrimSpace(m.PossessedBy), []byte("null")) {
		return true, nil, nil
	}
	var s string
	if err := json.Unmarshal(m.PossessedBy, &s); err != nil {
		return false, nil, fmt.Errorf("%w: possessed_by must be a string or null", ErrMalformedMessage)
	}
	return true, &s, nil
}

// Point is a position on the wire. Clients send [x, y]; {"x":..,"y":..} is
// accepted too.
type Point struct {
	X float64
	Y float64
}

// UnmarshalJSON accepts both the array and the object form.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("position must have 2 elements, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}
	var obj struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("position must be [x, y]: %w", err)
	}
	if obj.X == nil || obj.Y == nil {
		return fmt.Errorf("position object needs both x and y")
	}
	p.X, p.Y = *obj.X, *obj.Y
	return nil
}

// MarshalJSON writes the array form clients send.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// Position converts the wire point to an engine position.
func (p Point) Position() engine.Position {
	return engine.Position{X: p.X, Y: p.Y}
}

// PositionsMessage is the full roster snapshot.
type PositionsMessage struct {
	Type      MessageType                `json:"type"`
	LobbyCode string                     `json:"lobby_code"`
	Players   map[string]engine.Position `json:"players"`
}

// ObjectsMessage is the full object table snapshot.
type ObjectsMessage struct {
	Type      MessageType                  `json:"type"`
	LobbyCode string                       `json:"lobby_code"`
	Objects   map[string]engine.ObjectView `json:"objects"`
}

// PassedDoorMessage announces one player crossing an open door.
type PassedDoorMessage struct {
	Type      MessageType `json:"type"`
	LobbyCode string      `json:"lobby_code"`
	Player    string      `json:"player"`
	DoorID    string      `json:"door_id"`
	Passed    bool        `json:"passed"`
}

// GamePassMessage announces that every player in the lobby has crossed.
type GamePassMessage struct {
	Type      MessageType `json:"type"`
	LobbyCode string      `json:"lobby_code"`
	Message   string      `json:"message"`
}

func NewSyncPositions(lobbyCode string, players map[string]engine.Position) *PositionsMessage {
	if players == nil {
		players = map[string]engine.Position{}
	}
	return &PositionsMessage{Type: TypeSyncPositions, LobbyCode: lobbyCode, Players: players}
}

func NewSyncObjects(lobbyCode string, objects map[string]engine.ObjectView) *ObjectsMessage {
	if objects == nil {
		objects = map[string]engine.ObjectView{}
	}
	return &ObjectsMessage{Type: TypeSyncObjects, LobbyCode: lobbyCode, Objects: objects}
}

func NewPlayerPassedDoor(lobbyCode, player, doorID string) *PassedDoorMessage {
	return &PassedDoorMessage{
		Type:      TypePlayerPassedDoor,
		LobbyCode: lobbyCode,
		Player:    player,
		DoorID:    doorID,
		Passed:    true,
	}
}

func NewGamePass(lobbyCode string) *GamePassMessage {
	return &GamePassMessage{Type: TypeGamePass, LobbyCode: lobbyCode, Message: GamePassText}
}
