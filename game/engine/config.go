package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ClassicLayout is the built-in 25x25 map.
var ClassicLayout = []string{
	"BBBBBBBBBBBBBBBBBBBBBBBBB",
	"B.............B.........B",
	"B.BBBBB.BBBBB.B.BBBBBBB.B",
	"B.B.....B...B.......B...B",
	"B.B.B.BBB.B.B.B.BBB.B.B.B",
	"B...B.....B.B.B.B...B.B.B",
	"BBBBB.BBBBB.B.B.B.BBB.B.B",
	"B.....B...B.B.B.B.......B",
	"B.BBBBB.B.B.B.B.BBBBBBB.B",
	"B.B.....B.B.B.B.......B.B",
	"B.B.BBBBB.B.B.B.BBBBB.B.B",
	"B.D.......B.B.B.......B.B",
	"B.BBBBBBBBB.B.BBBBBBBBB.B",
	"D......K.............. .B",
	"BBBBBB.BBBBB.BBBBBBBBBBBB",
	"B...........K...........B",
	"B.BBBBBBBBBB.BBBBBBBBB.BB",
	"B.B.................B..PB",
	"B.B.BBBBB.BBBDBBBBB.B.BBB",
	"B.B.....B.B.K...B.....B.B",
	"B.B.BBB.B.B.BBB.B.BBB.B.B",
	"B...B...B.B...B.B.B...B.B",
	"B.BBB.BBB.B.B.B.B.B.BBB.B",
	"B.P.P.....B.B.B.B.B.....B",
	"BBBBBBBBBBBBBBBBBBBBBBBBB",
}

// DefaultLegend returns the legend used when a map does not define one.
func DefaultLegend() map[string]string {
	return map[string]string{
		"B": string(Wall),
		".": string(Floor),
		" ": string(Floor),
		"D": string(Door),
		"K": string(Key),
		"P": string(Spawn),
	}
}

// DefaultMapConfig returns the built-in classic map.
func DefaultMapConfig() *MapConfig {
	layout := make([]string, len(ClassicLayout))
	copy(layout, ClassicLayout)
	return &MapConfig{
		Name:         "classic",
		Description:  "Three keys, three doors and a maze. Everyone has to reach an open door.",
		TileSize:     DefaultTileSize,
		Footprint:    DefaultFootprint,
		Layout:       layout,
		Legend:       DefaultLegend(),
		DefaultSpawn: &Position{X: 1, Y: 1},
	}
}

// legendKind resolves a layout character through the map's legend.
func (c *MapConfig) legendKind(ch rune) (Kind, bool) {
	legend := c.Legend
	if len(legend) == 0 {
		legend = DefaultLegend()
	}
	value, ok := legend[string(ch)]
	if !ok {
		return "", false
	}
	return ParseKind(value)
}

// FootprintSize returns the configured AABB edge or the default.
func (c *MapConfig) FootprintSize() float64 {
	if c.Footprint <= 0 {
		return DefaultFootprint
	}
	return c.Footprint
}

// FallbackSpawn is used when every spawn tile is taken.
func (c *MapConfig) FallbackSpawn() Position {
	if c.DefaultSpawn != nil {
		return *c.DefaultSpawn
	}
	return Position{X: 1, Y: 1}
}

// ValidateMapConfig checks a map definition for correctness and playability
func ValidateMapConfig(config *MapConfig) error {
	if config == nil {
		return fmt.Errorf("config validation: config is nil")
	}
	if config.Name == "" {
		return fmt.Errorf("config validation: name is required")
	}
	if config.Footprint < 0 {
		return fmt.Errorf("config validation: footprint must not be negative, got %v", config.Footprint)
	}

	height := len(config.Layout)
	if height < MinLayoutSize || height > MaxLayoutSize {
		return fmt.Errorf("config validation: layout must have between %d and %d rows, got %d", MinLayoutSize, MaxLayoutSize, height)
	}
	width := len([]rune(config.Layout[0]))
	if width < MinLayoutSize || width > MaxLayoutSize {
		return fmt.Errorf("config validation: layout rows must have between %d and %d characters, got %d", MinLayoutSize, MaxLayoutSize, width)
	}

	for key, value := range config.Legend {
		if len([]rune(key)) != 1 {
			return fmt.Errorf("config validation: legend key %q must be a single character", key)
		}
		if _, ok := ParseKind(value); !ok {
			return fmt.Errorf("config validation: legend[%q] has unknown kind %q", key, value)
		}
	}

	counts := make(map[Kind]int)
	for i, row := range config.Layout {
		runes := []rune(row)
		if len(runes) != width {
			return fmt.Errorf("config validation: row %d must have %d characters, got %d", i+1, width, len(runes))
		}
		for j, ch := range runes {
			kind, ok := config.legendKind(ch)
			if !ok {
				return fmt.Errorf("config validation: invalid character '%c' at row %d, col %d", ch, i+1, j+1)
			}
			counts[kind]++
		}
	}

	if counts[Door] == 0 {
		return fmt.Errorf("config validation: layout must contain at least one door")
	}
	if counts[Key] == 0 {
		return fmt.Errorf("config validation: layout must contain at least one key")
	}

	if err := validateOptions(Door, config.Doors, counts[Door]); err != nil {
		return err
	}
	if err := validateOptions(Key, config.Keys, counts[Key]); err != nil {
		return err
	}

	if config.DefaultSpawn != nil {
		s := config.DefaultSpawn
		if s.X < 0 || s.Y < 0 || s.X >= float64(width) || s.Y >= float64(height) {
			return fmt.Errorf("config validation: default_spawn (%v, %v) is outside the %dx%d layout", s.X, s.Y, width, height)
		}
	}

	return nil
}

// validateOptions checks that every customized id names an existing object.
func validateOptions(kind Kind, options map[string]ObjectOptions, count int) error {
	for id := range options {
		n, ok := objectIndex(kind, id)
		if !ok || n < 1 || n > count {
			return fmt.Errorf("config validation: %ss.%s does not match any %s in the layout", kind, id, kind)
		}
	}
	return nil
}

// ObjectID builds the id of the n-th object of a kind, counting from 1.
func ObjectID(kind Kind, n int) string {
	return string(kind) + strconv.Itoa(n)
}

func objectIndex(kind Kind, id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, string(kind))
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// LoadMapConfig loads and validates a map definition from a JSON file
func LoadMapConfig(filename string) (*MapConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var config MapConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse map file '%s': %w", filename, err)
	}

	if err := ValidateMapConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// BuildLayout parses the layout rows into the initial object table and the
// spawn list. Ids are numbered per kind in row-major order. The config must
// already be valid; unknown characters are skipped.
func BuildLayout(config *MapConfig) *Layout {
	layout := &Layout{
		Height: len(config.Layout),
		Counts: make(map[Kind]int),
	}
	for y, row := range config.Layout {
		runes := []rune(row)
		if len(runes) > layout.Width {
			layout.Width = len(runes)
		}
		for x, ch := range runes {
			kind, ok := config.legendKind(ch)
			if !ok {
				continue
			}
			pos := Position{X: float64(x), Y: float64(y)}
			if kind == Spawn {
				layout.Spawns = append(layout.Spawns, pos)
				kind = Floor
			}
			layout.Counts[kind]++
			obj := &Object{
				ID:   ObjectID(kind, layout.Counts[kind]),
				Kind: kind,
				Pos:  pos,
			}
			switch kind {
			case Door:
				obj.Door = &DoorState{Locked: true, Color: config.Doors[obj.ID].Color}
			case Key:
				obj.Key = &KeyState{Color: config.Keys[obj.ID].Color}
			}
			layout.Objects = append(layout.Objects, obj)
		}
	}
	return layout
}

// Reachable flood-fills from the spawn tiles over every non-wall tile and
// returns the ids of the doors and keys it reaches. Doors count as passable.
func (l *Layout) Reachable() []string {
	grid := make(map[Position]*Object, len(l.Objects))
	for _, obj := range l.Objects {
		grid[obj.Pos] = obj
	}

	var queue []Position
	seen := make(map[Position]bool)
	for _, s := range l.Spawns {
		if !seen[s] {
			seen[s] = true
			queue = append(queue, s)
		}
	}

	var found []string
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if obj := grid[p]; obj != nil && (obj.Kind == Door || obj.Kind == Key) {
			found = append(found, obj.ID)
		}
		for _, d := range [4]Position{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
			next := Position{X: p.X + d.X, Y: p.Y + d.Y}
			obj := grid[next]
			if obj == nil || obj.Kind == Wall || seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	sort.Strings(found)
	return found
}
