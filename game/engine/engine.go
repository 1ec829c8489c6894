package engine

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidPlayerName = errors.New("player name is required")
	ErrPlayerExists      = errors.New("player already in lobby")
	ErrUnknownPlayer     = errors.New("unknown player")
	ErrUnknownObject     = errors.New("unknown object")
	ErrStaticObject      = errors.New("object cannot be pushed")
	ErrUnlockRejected    = errors.New("unlock rejected")
)

// Rules selects how the world arbitrates client reports.
type Rules struct {
	// VerifyUnlock checks door unlocks against server-side geometry and key
	// possession. When false the client's report is trusted.
	VerifyUnlock bool
}

// EventKind names something subscribers have to be told about.
type EventKind int

const (
	EventPositionsChanged EventKind = iota + 1
	EventObjectsChanged
	EventPlayerPassed
	EventGamePassed
)

func (k EventKind) String() string {
	switch k {
	case EventPositionsChanged:
		return "positions_changed"
	case EventObjectsChanged:
		return "objects_changed"
	case EventPlayerPassed:
		return "player_passed"
	case EventGamePassed:
		return "game_passed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is emitted by World mutations in the order clients must see them.
// Snapshot events carry no payload; subscribers read the current state.
type Event struct {
	Kind   EventKind
	Player string
	DoorID string
}

// PushRequest describes a push intent.
type PushRequest struct {
	Player   string
	ObjectID string
	Position *Position

	// SetPossessor is true when the client sent possessed_by. A nil
	// Possessor then releases the key.
	SetPossessor bool
	Possessor    *string

	// DoorID is the door the client believes the key was used on.
	DoorID string
}

// World is the puzzle state of one lobby: roster, object table, passage flags
// and completion. It performs no locking; the owner serializes access.
type World struct {
	config      *MapConfig
	rules       Rules
	footprint   float64
	objects     map[string]*Object
	players     map[string]*Player
	spawns      []Position
	spawnCursor int
	completed   bool
}

// NewWorld validates config and builds the initial state from it.
func NewWorld(config *MapConfig, rules Rules) (*World, error) {
	if err := ValidateMapConfig(config); err != nil {
		return nil, err
	}
	w := &World{
		config:    config,
		rules:     rules,
		footprint: config.FootprintSize(),
	}
	w.Reset()
	return w, nil
}

// Reset rebuilds the object table from the map, empties the roster and
// clears completion.
func (w *World) Reset() {
	layout := BuildLayout(w.config)
	w.objects = make(map[string]*Object, len(layout.Objects))
	for _, obj := range layout.Objects {
		w.objects[obj.ID] = obj
	}
	w.players = make(map[string]*Player)
	w.spawns = layout.Spawns
	w.spawnCursor = 0
	w.completed = false
}

// Join adds a player at the next free spawn tile.
func (w *World) Join(name string) (Position, []Event, error) {
	if name == "" {
		return Position{}, nil, ErrInvalidPlayerName
	}
	if _, ok := w.players[name]; ok {
		return Position{}, nil, fmt.Errorf("%w: %s", ErrPlayerExists, name)
	}

	pos := w.nextSpawn()
	w.players[name] = &Player{Name: name, Pos: pos}

	events := []Event{{Kind: EventPositionsChanged}, {Kind: EventObjectsChanged}}
	return pos, append(events, w.detectPassage()...), nil
}

// nextSpawn walks the spawn tiles from the cursor and returns the first one
// no player stands on.
func (w *World) nextSpawn() Position {
	n := len(w.spawns)
	for i := 0; i < n; i++ {
		idx := (w.spawnCursor + i) % n
		if !w.occupied(w.spawns[idx]) {
			w.spawnCursor = (idx + 1) % n
			return w.spawns[idx]
		}
	}
	return w.config.FallbackSpawn()
}

func (w *World) occupied(tile Position) bool {
	box := tileBox(tile)
	for _, p := range w.players {
		if w.playerBox(p).Intersects(box) {
			return true
		}
	}
	return false
}

// Move overwrites a player's position. Moves are not validated against walls.
func (w *World) Move(name string, pos Position) ([]Event, error) {
	p, ok := w.players[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, name)
	}
	p.Pos = pos
	return append([]Event{{Kind: EventPositionsChanged}}, w.detectPassage()...), nil
}

// Push applies a push intent to a key or a door.
func (w *World) Push(req PushRequest) ([]Event, error) {
	obj, ok := w.objects[req.ObjectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, req.ObjectID)
	}
	if _, ok := w.players[req.Player]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, req.Player)
	}

	switch obj.Kind {
	case Key:
		w.pushKey(obj, req)
	case Door:
		changed, err := w.pushDoor(obj, req)
		if err != nil || !changed {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s is a %s", ErrStaticObject, obj.ID, obj.Kind)
	}

	return append([]Event{{Kind: EventObjectsChanged}}, w.detectPassage()...), nil
}

func (w *World) pushKey(key *Object, req PushRequest) {
	if req.Position != nil {
		key.Pos = *req.Position
	}

	switch {
	case !req.SetPossessor:
		name := req.Player
		key.Key.PossessedBy = &name
	case req.Possessor == nil:
		key.Key.PossessedBy = nil
	default:
		// possession only ever points at a current roster entry
		if _, ok := w.players[*req.Possessor]; ok {
			name := *req.Possessor
			key.Key.PossessedBy = &name
		}
	}

	if door := w.unlockCandidate(key, req.DoorID); door != nil {
		w.unlock(door, key)
	}
}

// unlockCandidate picks the door a key opens, if any. A hinted door must be
// locked and color compatible; verifying mode also requires overlap.
func (w *World) unlockCandidate(key *Object, hint string) *Object {
	keyBox := FootprintAt(key.Pos, w.footprint)

	if hint != "" {
		door, ok := w.objects[hint]
		if !ok || door.Kind != Door || !door.Door.Locked || !colorMatches(door.Door, key.Key) {
			return nil
		}
		if w.rules.VerifyUnlock && !keyBox.Intersects(w.objectBox(door.Pos)) {
			return nil
		}
		return door
	}

	for _, id := range w.sortedIDs(Door) {
		door := w.objects[id]
		if door.Door.Locked && colorMatches(door.Door, key.Key) && keyBox.Intersects(w.objectBox(door.Pos)) {
			return door
		}
	}
	return nil
}

// pushDoor handles a client reporting that it opened a door.
func (w *World) pushDoor(door *Object, req PushRequest) (bool, error) {
	if !door.Door.Locked {
		return false, nil
	}
	if !w.rules.VerifyUnlock {
		door.Door.Locked = false
		return true, nil
	}

	if !w.playerBox(w.players[req.Player]).Intersects(w.objectBox(door.Pos)) {
		return false, fmt.Errorf("%w: %s is not at %s", ErrUnlockRejected, req.Player, door.ID)
	}
	for _, id := range w.sortedIDs(Key) {
		key := w.objects[id]
		if key.Key.PossessedBy != nil && *key.Key.PossessedBy == req.Player && colorMatches(door.Door, key.Key) {
			w.unlock(door, key)
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s holds no key for %s", ErrUnlockRejected, req.Player, door.ID)
}

func (w *World) unlock(door, key *Object) {
	door.Door.Locked = false
	key.Key.Used = true
	delete(w.objects, key.ID)
}

func colorMatches(door *DoorState, key *KeyState) bool {
	return door.Color == "" || door.Color == key.Color
}

// detectPassage marks every player standing on an open door as passed and
// fires completion once everyone has.
func (w *World) detectPassage() []Event {
	var events []Event
	names := w.playerNames()
	for _, id := range w.sortedIDs(Door) {
		door := w.objects[id]
		if door.Door.Locked {
			continue
		}
		box := w.objectBox(door.Pos)
		for _, name := range names {
			p := w.players[name]
			if p.PassedDoor || !w.playerBox(p).Intersects(box) {
				continue
			}
			p.PassedDoor = true
			events = append(events, Event{Kind: EventPlayerPassed, Player: name, DoorID: id})
		}
	}
	if ev, ok := w.checkCompletion(); ok {
		events = append(events, ev)
	}
	return events
}

func (w *World) checkCompletion() (Event, bool) {
	if w.completed || len(w.players) == 0 {
		return Event{}, false
	}
	for _, p := range w.players {
		if !p.PassedDoor {
			return Event{}, false
		}
	}
	w.completed = true
	return Event{Kind: EventGamePassed}, true
}

// Leave removes a player and releases every key it held. When the roster
// becomes empty the world is reset and no events are returned.
func (w *World) Leave(name string) ([]Event, error) {
	if _, ok := w.players[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, name)
	}
	delete(w.players, name)
	for _, obj := range w.objects {
		if obj.Key != nil && obj.Key.PossessedBy != nil && *obj.Key.PossessedBy == name {
			obj.Key.PossessedBy = nil
		}
	}

	if len(w.players) == 0 {
		w.Reset()
		return nil, nil
	}

	events := []Event{{Kind: EventPositionsChanged}, {Kind: EventObjectsChanged}}
	if ev, ok := w.checkCompletion(); ok {
		events = append(events, ev)
	}
	return events, nil
}

// Config returns the map the world was built from.
func (w *World) Config() *MapConfig {
	return w.config
}

// Rules returns the arbitration rules.
func (w *World) Rules() Rules {
	return w.rules
}

// Completed reports whether game_pass has fired since the last reset.
func (w *World) Completed() bool {
	return w.completed
}

// PlayerCount returns the roster size.
func (w *World) PlayerCount() int {
	return len(w.players)
}

// HasPlayer reports whether name is on the roster.
func (w *World) HasPlayer(name string) bool {
	_, ok := w.players[name]
	return ok
}

// Player returns a copy of a roster entry.
func (w *World) Player(name string) (Player, bool) {
	p, ok := w.players[name]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Players returns copies of the roster sorted by name.
func (w *World) Players() []Player {
	out := make([]Player, 0, len(w.players))
	for _, name := range w.playerNames() {
		out = append(out, *w.players[name])
	}
	return out
}

// Positions returns the roster snapshot sent in sync_positions.
func (w *World) Positions() map[string]Position {
	out := make(map[string]Position, len(w.players))
	for name, p := range w.players {
		out[name] = p.Pos
	}
	return out
}

// Object returns a copy of one object.
func (w *World) Object(id string) (*Object, bool) {
	obj, ok := w.objects[id]
	if !ok {
		return nil, false
	}
	return obj.clone(), true
}

// Objects returns copies of the object table sorted by kind and index.
func (w *World) Objects() []*Object {
	out := make([]*Object, 0, len(w.objects))
	for _, obj := range w.objects {
		out = append(out, obj.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return objectLess(out[i], out[j])
	})
	return out
}

// ObjectViews returns the object snapshot sent in sync_objects.
func (w *World) ObjectViews() map[string]ObjectView {
	out := make(map[string]ObjectView, len(w.objects))
	for id, obj := range w.objects {
		out[id] = obj.View()
	}
	return out
}

func (w *World) playerNames() []string {
	names := make([]string, 0, len(w.players))
	for name := range w.players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortedIDs lists the ids of one kind by numeric index so door10 follows door9.
func (w *World) sortedIDs(kind Kind) []string {
	var objs []*Object
	for _, obj := range w.objects {
		if obj.Kind == kind {
			objs = append(objs, obj)
		}
	}
	sort.Slice(objs, func(i, j int) bool {
		return objectLess(objs[i], objs[j])
	})
	ids := make([]string, len(objs))
	for i, obj := range objs {
		ids[i] = obj.ID
	}
	return ids
}

func objectLess(a, b *Object) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	ai, _ := objectIndex(a.Kind, a.ID)
	bi, _ := objectIndex(b.Kind, b.ID)
	return ai < bi
}

func (w *World) playerBox(p *Player) Rect {
	return FootprintAt(p.Pos, w.footprint)
}

// objectBox is the footprint of an object anchored at its tile. Keys and doors
// on neighbouring tiles overlap when the footprint exceeds one tile.
func (w *World) objectBox(p Position) Rect {
	return FootprintAt(p, w.footprint)
}

func tileBox(p Position) Rect {
	return FootprintAt(p, 1)
}
