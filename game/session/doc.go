// Package session provides lobby management for Key Quest.
//
// The session package implements:
//   - Lazily created lobbies keyed by case-insensitive codes
//   - Message routing from connections to lobbies
//   - Ordered broadcast of state snapshots and puzzle events
//   - Disconnect handling that releases players and held keys
//   - Removal of lobbies that stay empty past an idle TTL
//
// Core Types:
//
// Manager owns all lobbies and the index from connection id to the lobby and
// player it joined as. Lobby wraps one engine.World together with the set of
// connections subscribed to it.
//
// Concurrency:
//
// Each lobby has its own mutex. A message is applied and its broadcasts are
// written while that mutex is held, so every member sees a lobby's messages
// in the same order. The manager's lock covers only its maps and is released
// before a lobby is locked; different lobbies never wait on each other.
//
// A connection whose Send fails is removed from the lobby and closed. Its
// player stays on the roster until the transport calls Disconnect, which it
// does when its read loop ends.
//
// Usage:
//
//	manager := session.NewManager(maps, engine.Rules{VerifyUnlock: true})
//
//	// from a connection's read loop
//	if err := manager.HandleMessage(conn, msg); err != nil {
//		log.Debug().Err(err).Msg("message rejected")
//	}
//
//	// when the read loop ends
//	manager.Disconnect(conn)
package session
