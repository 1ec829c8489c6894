package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	lobbies LobbyManager
	maps    MapManager
}

// NewGameService creates a new game service instance
func NewGameService(lobbies LobbyManager, maps MapManager) GameService {
	return &gameServiceImpl{
		lobbies: lobbies,
		maps:    maps,
	}
}

// ListLobbies returns a snapshot of every lobby, sorted by code
func (s *gameServiceImpl) ListLobbies(ctx context.Context) ([]*LobbyInfo, error) {
	lobbies := s.lobbies.Snapshots()
	sort.Slice(lobbies, func(i, j int) bool {
		return lobbies[i].Code < lobbies[j].Code
	})
	return lobbies, nil
}

// GetLobby returns a snapshot of one lobby
func (s *gameServiceImpl) GetLobby(ctx context.Context, code string) (*LobbyInfo, error) {
	info, err := s.lobbies.Snapshot(code)
	if err != nil {
		return nil, fmt.Errorf("failed to get lobby %s: %w", code, err)
	}
	return info, nil
}

// DescribeTile lists the objects and players occupying tile (x, y)
func (s *gameServiceImpl) DescribeTile(ctx context.Context, code string, x, y int) (*TileInfo, error) {
	info, err := s.GetLobby(ctx, code)
	if err != nil {
		return nil, err
	}

	tile := engine.FootprintAt(engine.Position{X: float64(x), Y: float64(y)}, 1)
	result := &TileInfo{
		LobbyCode: info.Code,
		X:         x,
		Y:         y,
		Objects:   []engine.ObjectView{},
		Players:   []string{},
	}
	for _, obj := range info.Objects {
		if tile.Contains(engine.Position{X: obj.X, Y: obj.Y}) {
			result.Objects = append(result.Objects, obj)
		}
	}
	for _, p := range info.Players {
		if tile.Contains(p.Pos) {
			result.Players = append(result.Players, p.Name)
		}
	}
	return result, nil
}

// ListMaps returns the available map definitions
func (s *gameServiceImpl) ListMaps(ctx context.Context) ([]*MapInfo, error) {
	return s.maps.ListConfigs()
}

// GetMap loads one map definition by id
func (s *gameServiceImpl) GetMap(ctx context.Context, name string) (*engine.MapConfig, error) {
	config, err := s.maps.LoadConfig(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load map %s: %w", name, err)
	}
	return config, nil
}
