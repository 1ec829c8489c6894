package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
)

func createValidConfig() *engine.MapConfig {
	return &engine.MapConfig{
		Name:        "Test Map",
		Description: "Test map",
		Layout: []string{
			"BBBBB",
			"BPKDB",
			"BP..B",
			"BBBBB",
		},
	}
}

func writeConfigFile(t *testing.T, dir, name string, config *engine.MapConfig) {
	t.Helper()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("valid directory", func(t *testing.T) {
		dir := t.TempDir()
		config := createValidConfig()
		config.Name = "Small"
		writeConfigFile(t, dir, "small", config)

		manager, err := NewManager(dir, "small")
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if got := manager.GetDefault().Name; got != "Small" {
			t.Errorf("Expected default 'Small', got '%s'", got)
		}
	})

	t.Run("non-existent directory", func(t *testing.T) {
		if _, err := NewManager("/non/existent/path", ""); err == nil {
			t.Error("Expected error for non-existent directory")
		}
	})

	t.Run("empty directory falls back to the built-in map", func(t *testing.T) {
		manager, err := NewManager(t.TempDir(), "")
		if err != nil {
			t.Fatalf("NewManager should succeed without map files: %v", err)
		}
		if got := manager.GetDefault().Name; got != DefaultMapName {
			t.Errorf("Expected built-in default, got '%s'", got)
		}
	})

	t.Run("no directory", func(t *testing.T) {
		manager, err := NewManager("", "")
		if err != nil {
			t.Fatalf("NewManager without a directory: %v", err)
		}
		if manager.GetDefault() == nil {
			t.Error("Expected built-in default")
		}
	})

	t.Run("unknown default", func(t *testing.T) {
		_, err := NewManager(t.TempDir(), "missing")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound, got %v", err)
		}
	})
}

func TestManager_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	config := createValidConfig()
	config.Name = "Easy"
	writeConfigFile(t, dir, "easy", config)

	manager, err := NewManager(dir, "")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	t.Run("load existing config", func(t *testing.T) {
		loaded, err := manager.LoadConfig("easy")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if loaded.Name != "Easy" {
			t.Errorf("Expected config name 'Easy', got '%s'", loaded.Name)
		}
	})

	t.Run("load with .json extension", func(t *testing.T) {
		loaded, err := manager.LoadConfig("easy.json")
		if err != nil {
			t.Fatalf("Failed to load config with extension: %v", err)
		}
		if loaded.Name != "Easy" {
			t.Errorf("Expected config name 'Easy', got '%s'", loaded.Name)
		}
	})

	t.Run("load from cache", func(t *testing.T) {
		config1, _ := manager.LoadConfig("easy")
		config2, err := manager.LoadConfig("easy")
		if err != nil {
			t.Fatalf("Failed to load config from cache: %v", err)
		}
		if config1 != config2 {
			t.Error("Expected config to be loaded from cache")
		}
	})

	t.Run("file shadows built-in", func(t *testing.T) {
		classic := createValidConfig()
		classic.Name = "My Classic"
		writeConfigFile(t, dir, "classic", classic)
		if err := manager.RefreshCache(); err != nil {
			t.Fatal(err)
		}
		loaded, err := manager.LoadConfig("classic")
		if err != nil {
			t.Fatal(err)
		}
		if loaded.Name != "My Classic" {
			t.Errorf("Expected file to shadow built-in, got '%s'", loaded.Name)
		}
		os.Remove(filepath.Join(dir, "classic.json"))
		manager.RefreshCache()
	})

	t.Run("load non-existent config", func(t *testing.T) {
		_, err := manager.LoadConfig("non-existent")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("load invalid config", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "invalid.json"), []byte(`{"name": ""}`), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := manager.LoadConfig("invalid")
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("load malformed JSON", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "malformed.json"), []byte(`{"name": "Malformed", invalid json}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := manager.LoadConfig("malformed"); err == nil {
			t.Error("Expected error for malformed JSON")
		}
	})
}

func TestManager_ListConfigs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"easy", "medium", "hard"} {
		config := createValidConfig()
		config.Name = name
		writeConfigFile(t, dir, name, config)
	}
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("readme"), 0644)
	os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644)

	manager, err := NewManager(dir, "easy")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	maps, err := manager.ListConfigs()
	if err != nil {
		t.Fatalf("Failed to list configs: %v", err)
	}

	// three files plus the built-in classic map
	if len(maps) != 4 {
		t.Fatalf("Expected 4 maps, got %d", len(maps))
	}
	wantOrder := []string{"classic", "easy", "hard", "medium"}
	for i, id := range wantOrder {
		if maps[i].ConfigID != id {
			t.Errorf("map %d: expected %s, got %s", i, id, maps[i].ConfigID)
		}
	}

	easy := maps[1]
	if !easy.Default {
		t.Error("easy should be flagged as default")
	}
	if easy.Filename != "easy.json" {
		t.Errorf("Expected filename easy.json, got %s", easy.Filename)
	}
	if easy.Width != 5 || easy.Height != 4 || easy.Doors != 1 || easy.Keys != 1 || easy.Spawns != 2 {
		t.Errorf("unexpected map stats %+v", easy)
	}
	if maps[0].Filename != "" {
		t.Error("built-in maps have no filename")
	}
	if maps[1].Fingerprint != maps[2].Fingerprint {
		t.Error("identical layouts should share a fingerprint")
	}
	if maps[0].Fingerprint == maps[1].Fingerprint {
		t.Error("different layouts should not share a fingerprint")
	}
}

func TestFingerprint(t *testing.T) {
	a := createValidConfig()
	b := createValidConfig()
	b.Name = "renamed"
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("names do not affect the fingerprint")
	}

	b.Layout[2] = "BPP.B"
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("layout changes must change the fingerprint")
	}

	c := createValidConfig()
	c.Legend = map[string]string{"B": "wall", ".": "floor", "D": "door", "K": "key", "P": "floor"}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("legend changes must change the fingerprint")
	}

	red := createValidConfig()
	red.Doors = map[string]engine.ObjectOptions{"door1": {Color: "red"}}
	blue := createValidConfig()
	blue.Doors = map[string]engine.ObjectOptions{"door1": {Color: "blue"}}
	if Fingerprint(red) == Fingerprint(blue) || Fingerprint(red) == Fingerprint(a) {
		t.Error("door colors must change the fingerprint")
	}

	keyed := createValidConfig()
	keyed.Keys = map[string]engine.ObjectOptions{"key1": {Color: "red"}}
	if Fingerprint(keyed) == Fingerprint(a) {
		t.Error("key colors must change the fingerprint")
	}
	if Fingerprint(keyed) == Fingerprint(red) {
		t.Error("door and key colors must not collide")
	}

	wide := createValidConfig()
	wide.Footprint = 2
	if Fingerprint(wide) == Fingerprint(a) {
		t.Error("footprint changes must change the fingerprint")
	}
}

func TestManager_RefreshCache(t *testing.T) {
	dir := t.TempDir()
	config := createValidConfig()
	config.Name = "Before"
	writeConfigFile(t, dir, "changeable", config)

	manager, err := NewManager(dir, "changeable")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	config.Name = "After"
	writeConfigFile(t, dir, "changeable", config)

	if got := manager.GetDefault().Name; got != "Before" {
		t.Errorf("cache should hold the old map until refresh, got %s", got)
	}
	if err := manager.RefreshCache(); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	if got := manager.GetDefault().Name; got != "After" {
		t.Errorf("Expected refreshed default 'After', got %s", got)
	}

	// a broken edit keeps the previous default
	os.WriteFile(filepath.Join(dir, "changeable.json"), []byte("{"), 0644)
	if err := manager.RefreshCache(); err == nil {
		t.Error("Expected reload error")
	}
	if got := manager.GetDefault().Name; got != "After" {
		t.Errorf("Expected previous default to survive, got %s", got)
	}
}

func TestManager_SetDefault(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "small", createValidConfig())

	manager, err := NewManager(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.SetDefault("small"); err != nil {
		t.Fatal(err)
	}
	if manager.DefaultName() != "small" {
		t.Errorf("Expected default small, got %s", manager.DefaultName())
	}
	if err := manager.SetDefault("nope"); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
	if manager.DefaultName() != "small" {
		t.Error("failed SetDefault must not change the default")
	}
}

func TestManager_Watch(t *testing.T) {
	dir := t.TempDir()
	config := createValidConfig()
	config.Name = "v1"
	writeConfigFile(t, dir, "live", config)

	manager, err := NewManager(dir, "live")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.Watch(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	config.Name = "v2"
	writeConfigFile(t, dir, "live", config)

	deadline := time.Now().Add(3 * time.Second)
	for manager.GetDefault().Name != "v2" {
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not pick up the edit, default is %s", manager.GetDefault().Name)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Watch did not return after cancel")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writeConfigFile(t, dir, name, createValidConfig())
	}

	manager, err := NewManager(dir, "a")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := []string{"a", "b", "c"}[i%3]
			if _, err := manager.LoadConfig(name); err != nil {
				t.Errorf("LoadConfig(%s): %v", name, err)
			}
			if i%5 == 0 {
				manager.RefreshCache()
			}
			_ = manager.GetDefault()
		}(i)
	}
	wg.Wait()
}
