package engine

// Kind tags the variant of a GameObject
type Kind string

const (
	Wall  Kind = "wall"
	Floor Kind = "floor"
	Door  Kind = "door"
	Key   Kind = "key"

	// Spawn is a legend value only. Spawn tiles become floor objects plus an
	// entry in the spawn list.
	Spawn Kind = "spawn"

	// Validation constants
	MinLayoutSize    = 2
	MaxLayoutSize    = 200
	DefaultTileSize  = 32
	DefaultFootprint = 50.0 / 32 // 50 px boxes on 32 px tiles
)

// pushableTag is the wire tag clients render keys with.
const pushableTag = "pushable"

// WireType returns the type tag used on the wire.
func (k Kind) WireType() string {
	if k == Key {
		return pushableTag
	}
	return string(k)
}

// ParseKind maps a legend value or wire tag to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case string(Wall):
		return Wall, true
	case string(Floor):
		return Floor, true
	case string(Door):
		return Door, true
	case string(Key), pushableTag:
		return Key, true
	case string(Spawn):
		return Spawn, true
	}
	return "", false
}

// Position is a point in tile coordinates. Fractional values allow sub-tile
// movement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DoorState is the door variant payload.
type DoorState struct {
	Locked bool
	Color  string // empty accepts any key
}

// KeyState is the key variant payload.
type KeyState struct {
	Color       string
	PossessedBy *string // weak reference to a player name
	Used        bool
}

// Object is one entry of a lobby's object table. Exactly one of Door or Key
// is set for those kinds; walls and floors carry no payload.
type Object struct {
	ID   string
	Kind Kind
	Pos  Position
	Door *DoorState
	Key  *KeyState
}

func (o *Object) clone() *Object {
	c := *o
	if o.Door != nil {
		d := *o.Door
		c.Door = &d
	}
	if o.Key != nil {
		k := *o.Key
		if k.PossessedBy != nil {
			name := *k.PossessedBy
			k.PossessedBy = &name
		}
		c.Key = &k
	}
	return &c
}

// ObjectView is the wire representation of an Object.
type ObjectView struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Locked      *bool   `json:"locked,omitempty"`
	Color       string  `json:"color,omitempty"`
	PossessedBy *string `json:"possessed_by,omitempty"`
}

// View returns the wire representation of o.
func (o *Object) View() ObjectView {
	v := ObjectView{ID: o.ID, Type: o.Kind.WireType(), X: o.Pos.X, Y: o.Pos.Y}
	switch {
	case o.Door != nil:
		locked := o.Door.Locked
		v.Locked = &locked
		v.Color = o.Door.Color
	case o.Key != nil:
		v.Color = o.Key.Color
		if o.Key.PossessedBy != nil {
			name := *o.Key.PossessedBy
			v.PossessedBy = &name
		}
	}
	return v
}

// Player is a roster entry.
type Player struct {
	Name       string   `json:"name"`
	Pos        Position `json:"position"`
	PassedDoor bool     `json:"passed_door"`
}

// ObjectOptions customizes a door or key by id.
type ObjectOptions struct {
	Color string `json:"color"`
}

// MapConfig is a tile map definition loaded from JSON.
type MapConfig struct {
	Name         string                   `json:"name"`
	Description  string                   `json:"description"`
	TileSize     int                      `json:"tile_size,omitempty"` // pixels per tile, informational for clients
	Footprint    float64                  `json:"footprint,omitempty"` // AABB edge in tiles
	Layout       []string                 `json:"layout"`
	Legend       map[string]string        `json:"legend,omitempty"`
	DefaultSpawn *Position                `json:"default_spawn,omitempty"`
	Doors        map[string]ObjectOptions `json:"doors,omitempty"`
	Keys         map[string]ObjectOptions `json:"keys,omitempty"`
}

// Layout is the parsed form of a MapConfig.
type Layout struct {
	Width   int
	Height  int
	Objects []*Object // row-major creation order
	Spawns  []Position
	Counts  map[Kind]int
}
