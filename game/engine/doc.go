// Package engine provides the puzzle rules for Key Quest lobbies.
//
// The engine package implements:
//   - Tile map parsing into the initial object table and spawn tiles
//   - The tagged-union object model (wall, floor, door, key)
//   - Axis-aligned footprint geometry used for unlocks and passage
//   - The per-lobby World state machine: join, move, push, leave, reset
//
// Core Types:
//
// MapConfig is a map definition loaded from JSON. World owns the roster and
// object table of one lobby; it does no locking of its own and returns
// Events describing what subscribers need to hear, in order.
//
// Usage:
//
//	world, err := engine.NewWorld(engine.DefaultMapConfig(), engine.Rules{VerifyUnlock: true})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	spawn, events, err := world.Join("alice")
//	events, err = world.Move("alice", engine.Position{X: 2, Y: 11})
//
// Game Rules:
//
// Keys open doors when dropped onto or beside them. Once a door is open
// every player whose footprint touches it is marked as having passed, and
// when the whole roster has passed the lobby completes. Completion fires once
// until the lobby is reset.
package engine
