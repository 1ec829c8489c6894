package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func createTestConfig() *MapConfig {
	return &MapConfig{
		Name:        "test",
		Description: "Small map for engine tests",
		Layout: []string{
			"BBBBBB",
			"BP..DB",
			"B.K..B",
			"BP..DB",
			"BBBBBB",
		},
		DefaultSpawn: &Position{X: 2, Y: 1},
	}
}

func TestValidateMapConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *MapConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *MapConfig) {}},
		{name: "missing name", mutate: func(c *MapConfig) { c.Name = "" }, wantErr: "name is required"},
		{name: "too few rows", mutate: func(c *MapConfig) { c.Layout = c.Layout[:1] }, wantErr: "rows"},
		{
			name:    "ragged rows",
			mutate:  func(c *MapConfig) { c.Layout[2] = "B.K.B" },
			wantErr: "row 3 must have 6 characters",
		},
		{
			name:    "unknown character",
			mutate:  func(c *MapConfig) { c.Layout[2] = "B.K.XB" },
			wantErr: "invalid character 'X'",
		},
		{
			name:    "no door",
			mutate:  func(c *MapConfig) { c.Layout[1] = "BP...B"; c.Layout[3] = "BP...B" },
			wantErr: "at least one door",
		},
		{name: "no key", mutate: func(c *MapConfig) { c.Layout[2] = "B....B" }, wantErr: "at least one key"},
		{
			name:    "bad legend value",
			mutate:  func(c *MapConfig) { c.Legend = map[string]string{"B": "lava"} },
			wantErr: "unknown kind",
		},
		{
			name:    "door options for missing door",
			mutate:  func(c *MapConfig) { c.Doors = map[string]ObjectOptions{"door3": {Color: "red"}} },
			wantErr: "doors.door3",
		},
		{
			name:    "default spawn outside layout",
			mutate:  func(c *MapConfig) { c.DefaultSpawn = &Position{X: 10, Y: 1} },
			wantErr: "outside",
		},
		{name: "negative footprint", mutate: func(c *MapConfig) { c.Footprint = -1 }, wantErr: "footprint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := createTestConfig()
			tt.mutate(config)
			err := ValidateMapConfig(config)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultMapConfigIsValid(t *testing.T) {
	config := DefaultMapConfig()
	if err := ValidateMapConfig(config); err != nil {
		t.Fatalf("built-in map should validate: %v", err)
	}
	if config.Name != "classic" {
		t.Errorf("expected name classic, got %s", config.Name)
	}
	if len(config.Layout) != 25 {
		t.Errorf("expected 25 rows, got %d", len(config.Layout))
	}

	// mutating the copy must not touch the shared layout
	config.Layout[0] = "changed"
	if ClassicLayout[0] == "changed" {
		t.Error("DefaultMapConfig should copy the layout")
	}
}

func TestBuildLayout(t *testing.T) {
	layout := BuildLayout(DefaultMapConfig())

	if layout.Width != 25 || layout.Height != 25 {
		t.Fatalf("expected 25x25, got %dx%d", layout.Width, layout.Height)
	}
	if got := layout.Counts[Door]; got != 3 {
		t.Errorf("expected 3 doors, got %d", got)
	}
	if got := layout.Counts[Key]; got != 3 {
		t.Errorf("expected 3 keys, got %d", got)
	}

	byID := make(map[string]*Object)
	for _, obj := range layout.Objects {
		if _, dup := byID[obj.ID]; dup {
			t.Fatalf("duplicate object id %s", obj.ID)
		}
		byID[obj.ID] = obj
	}

	expected := map[string]Position{
		"door1": {X: 2, Y: 11},
		"door2": {X: 0, Y: 13},
		"door3": {X: 13, Y: 18},
		"key1":  {X: 7, Y: 13},
		"key2":  {X: 12, Y: 15},
		"key3":  {X: 12, Y: 19},
	}
	for id, pos := range expected {
		obj, ok := byID[id]
		if !ok {
			t.Errorf("missing object %s", id)
			continue
		}
		if obj.Pos != pos {
			t.Errorf("%s: expected %+v, got %+v", id, pos, obj.Pos)
		}
	}

	if !byID["door1"].Door.Locked {
		t.Error("doors start locked")
	}
	if byID["key1"].Key.PossessedBy != nil {
		t.Error("keys start unpossessed")
	}

	wantSpawns := []Position{{X: 23, Y: 17}, {X: 2, Y: 23}, {X: 4, Y: 23}}
	if len(layout.Spawns) != len(wantSpawns) {
		t.Fatalf("expected %d spawns, got %d", len(wantSpawns), len(layout.Spawns))
	}
	for i, s := range wantSpawns {
		if layout.Spawns[i] != s {
			t.Errorf("spawn %d: expected %+v, got %+v", i, s, layout.Spawns[i])
		}
	}

	// spawn tiles and the stray space both become floor
	floorAtSpawn := false
	for _, obj := range layout.Objects {
		if obj.Pos == (Position{X: 23, Y: 17}) && obj.Kind == Floor {
			floorAtSpawn = true
		}
	}
	if !floorAtSpawn {
		t.Error("spawn tile should be a floor object")
	}
}

func TestBuildLayoutIsDeterministic(t *testing.T) {
	a := BuildLayout(DefaultMapConfig())
	b := BuildLayout(DefaultMapConfig())
	if len(a.Objects) != len(b.Objects) {
		t.Fatalf("object counts differ: %d vs %d", len(a.Objects), len(b.Objects))
	}
	for i := range a.Objects {
		if a.Objects[i].ID != b.Objects[i].ID || a.Objects[i].Pos != b.Objects[i].Pos {
			t.Fatalf("object %d differs: %+v vs %+v", i, a.Objects[i], b.Objects[i])
		}
	}
}

func TestBuildLayoutAppliesColors(t *testing.T) {
	config := createTestConfig()
	config.Doors = map[string]ObjectOptions{"door2": {Color: "red"}}
	config.Keys = map[string]ObjectOptions{"key1": {Color: "red"}}
	if err := ValidateMapConfig(config); err != nil {
		t.Fatal(err)
	}

	layout := BuildLayout(config)
	for _, obj := range layout.Objects {
		switch obj.ID {
		case "door1":
			if obj.Door.Color != "" {
				t.Errorf("door1 should accept any key, got color %q", obj.Door.Color)
			}
		case "door2":
			if obj.Door.Color != "red" {
				t.Errorf("door2 color: got %q", obj.Door.Color)
			}
		case "key1":
			if obj.Key.Color != "red" {
				t.Errorf("key1 color: got %q", obj.Key.Color)
			}
		}
	}
}

func TestLayoutReachable(t *testing.T) {
	reached := BuildLayout(DefaultMapConfig()).Reachable()
	want := map[string]bool{"door1": true, "door2": true, "door3": true, "key1": true, "key2": true, "key3": true}
	for _, id := range reached {
		delete(want, id)
	}
	if len(want) != 0 {
		t.Errorf("unreached objects: %v", want)
	}

	sealed := &MapConfig{
		Name: "sealed",
		Layout: []string{
			"BBBBB",
			"BPBKB",
			"BBBDB",
			"BBBBB",
		},
	}
	if err := ValidateMapConfig(sealed); err != nil {
		t.Fatal(err)
	}
	if got := BuildLayout(sealed).Reachable(); len(got) != 0 {
		t.Errorf("expected nothing reachable, got %v", got)
	}
}

func TestLoadMapConfig(t *testing.T) {
	dir := t.TempDir()

	valid := `{
		"name": "tiny",
		"description": "tiny map",
		"layout": ["BBBB", "BPKB", "BD.B", "BBBB"]
	}`
	validPath := filepath.Join(dir, "tiny.json")
	if err := os.WriteFile(validPath, []byte(valid), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadMapConfig(validPath)
	if err != nil {
		t.Fatalf("LoadMapConfig: %v", err)
	}
	if config.Name != "tiny" {
		t.Errorf("expected tiny, got %s", config.Name)
	}
	if config.FootprintSize() != DefaultFootprint {
		t.Errorf("expected default footprint, got %v", config.FootprintSize())
	}
	if config.FallbackSpawn() != (Position{X: 1, Y: 1}) {
		t.Errorf("expected (1,1) fallback, got %+v", config.FallbackSpawn())
	}

	brokenPath := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(brokenPath, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMapConfig(brokenPath); err == nil {
		t.Error("expected parse error")
	}

	if _, err := LoadMapConfig(filepath.Join(dir, "missing.json")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"wall":     Wall,
		"floor":    Floor,
		"door":     Door,
		"key":      Key,
		"pushable": Key,
		"spawn":    Spawn,
	}
	for in, want := range cases {
		got, ok := ParseKind(in)
		if !ok || got != want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseKind("lava"); ok {
		t.Error("lava is not a kind")
	}
	if Key.WireType() != "pushable" || Door.WireType() != "door" {
		t.Error("unexpected wire tags")
	}
}
