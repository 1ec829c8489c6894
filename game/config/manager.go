package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
	"github.com/wricardo/mcp-training/keyquest/game/service"
)

var (
	ErrConfigNotFound = errors.New("map not found")
	ErrInvalidConfig  = errors.New("invalid map")
)

// DefaultMapName is the built-in map used when nothing else is configured.
const DefaultMapName = "classic"

// builtins are served when no file of the same id exists.
var builtins = map[string]func() *engine.MapConfig{
	DefaultMapName: engine.DefaultMapConfig,
}

// Manager handles map definition loading and caching
type Manager struct {
	mapsDir       string
	defaultName   string
	defaultConfig *engine.MapConfig
	configs       map[string]*engine.MapConfig
	mu            sync.RWMutex
}

// NewManager creates a new map manager reading from mapsDir. An empty mapsDir
// serves the built-in maps only.
func NewManager(mapsDir, defaultName string) (*Manager, error) {
	if mapsDir != "" {
		if _, err := os.Stat(mapsDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("maps directory does not exist: %s", mapsDir)
		}
	}
	if defaultName == "" {
		defaultName = DefaultMapName
	}

	m := &Manager{
		mapsDir: mapsDir,
		configs: make(map[string]*engine.MapConfig),
	}
	if err := m.SetDefault(defaultName); err != nil {
		return nil, fmt.Errorf("failed to load default map %s: %w", defaultName, err)
	}

	return m, nil
}

// LoadConfig loads a map by id, reading <mapsDir>/<id>.json and falling back
// to the built-in maps
func (m *Manager) LoadConfig(name string) (*engine.MapConfig, error) {
	name = strings.TrimSuffix(name, ".json")

	m.mu.RLock()
	if config, exists := m.configs[name]; exists {
		m.mu.RUnlock()
		return config, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if config, exists := m.configs[name]; exists {
		return config, nil
	}

	config, err := m.readConfig(name)
	if err != nil {
		return nil, err
	}

	m.configs[name] = config
	return config, nil
}

func (m *Manager) readConfig(name string) (*engine.MapConfig, error) {
	if m.mapsDir != "" {
		config, err := engine.LoadMapConfig(filepath.Join(m.mapsDir, name+".json"))
		switch {
		case err == nil:
			return config, nil
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	if builtin, ok := builtins[name]; ok {
		return builtin(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, name)
}

// ListConfigs returns information about all available maps. Invalid files are
// skipped.
func (m *Manager) ListConfigs() ([]*service.MapInfo, error) {
	seen := make(map[string]bool)
	var maps []*service.MapInfo

	if m.mapsDir != "" {
		entries, err := os.ReadDir(m.mapsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read maps directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".json")
			config, err := m.LoadConfig(name)
			if err != nil {
				log.Debug().Err(err).Str("map", name).Msg("skipping invalid map")
				continue
			}
			info := m.describe(name, config)
			info.Filename = entry.Name()
			maps = append(maps, info)
			seen[name] = true
		}
	}

	for name, builtin := range builtins {
		if !seen[name] {
			maps = append(maps, m.describe(name, builtin()))
		}
	}

	sort.Slice(maps, func(i, j int) bool {
		return maps[i].ConfigID < maps[j].ConfigID
	})
	return maps, nil
}

func (m *Manager) describe(id string, config *engine.MapConfig) *service.MapInfo {
	layout := engine.BuildLayout(config)
	return &service.MapInfo{
		ConfigID:    id,
		Name:        config.Name,
		Description: config.Description,
		Width:       layout.Width,
		Height:      layout.Height,
		Doors:       layout.Counts[engine.Door],
		Keys:        layout.Counts[engine.Key],
		Spawns:      len(layout.Spawns),
		Fingerprint: Fingerprint(config),
		Default:     id == m.DefaultName(),
	}
}

// Fingerprint hashes the parts of a map that shape lobby state, so operators
// can tell whether two lobbies run the same layout.
func Fingerprint(config *engine.MapConfig) string {
	h := xxhash.New()
	for _, row := range config.Layout {
		h.WriteString(row)
		h.WriteString("\n")
	}
	legend := make([]string, 0, len(config.Legend))
	for k, v := range config.Legend {
		legend = append(legend, k+"="+v)
	}
	sort.Strings(legend)
	h.WriteString(strings.Join(legend, ","))
	h.WriteString("\n")
	h.WriteString(sortedColors("door", config.Doors))
	h.WriteString(sortedColors("key", config.Keys))
	fmt.Fprintf(h, "footprint=%g", config.FootprintSize())
	return fmt.Sprintf("%016x", h.Sum64())
}

func sortedColors(kind string, options map[string]engine.ObjectOptions) string {
	colors := make([]string, 0, len(options))
	for id, opt := range options {
		colors = append(colors, id+"="+opt.Color)
	}
	sort.Strings(colors)
	return kind + ":" + strings.Join(colors, ",") + "\n"
}

// GetDefault returns the map new lobbies are built from
func (m *Manager) GetDefault() *engine.MapConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultConfig
}

// DefaultName returns the id of the default map
func (m *Manager) DefaultName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultName
}

// SetDefault sets the default map by id
func (m *Manager) SetDefault(name string) error {
	config, err := m.LoadConfig(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultName = strings.TrimSuffix(name, ".json")
	m.defaultConfig = config
	return nil
}

// RefreshCache drops every cached map and reloads the default. If the default
// no longer loads the previous one stays in effect.
func (m *Manager) RefreshCache() error {
	m.mu.Lock()
	m.configs = make(map[string]*engine.MapConfig)
	name := m.defaultName
	m.mu.Unlock()

	config, err := m.LoadConfig(name)
	if err != nil {
		return fmt.Errorf("failed to reload default map %s: %w", name, err)
	}

	m.mu.Lock()
	m.defaultConfig = config
	m.mu.Unlock()
	return nil
}

// Watch refreshes the cache whenever a JSON file in the maps directory
// changes. It blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	if m.mapsDir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.mapsDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.mapsDir, err)
	}
	log.Info().Str("dir", m.mapsDir).Msg("watching maps directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") || event.Op == fsnotify.Chmod {
				continue
			}
			if err := m.RefreshCache(); err != nil {
				log.Error().Err(err).Str("file", event.Name).Msg("map reload failed, keeping previous default")
				continue
			}
			log.Info().Str("file", event.Name).Str("op", event.Op.String()).Msg("maps reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("maps watcher error")
		}
	}
}
