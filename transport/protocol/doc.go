// Package protocol defines the line-delimited JSON wire format shared by the
// TCP and WebSocket transports.
//
// Every frame is one UTF-8 JSON object followed by a single '\n'. Clients send
// join, move (or its alias action) and push; the server answers with
// sync_positions, sync_objects, player_passed_door and game_pass. Every server
// message carries the lobby_code it belongs to.
//
// Usage:
//
//	frames := protocol.NewFrameBuffer(protocol.MaxFrameSize)
//	batch, err := frames.Append(chunk)
//	for _, frame := range batch {
//		msg, err := protocol.Decode(frame)
//		...
//	}
package protocol
