// Package websocket serves the Key Quest protocol to browser clients.
//
// A WebSocket client speaks the same JSON messages as a TCP client. Each
// WebSocket message may carry one or more newline-separated frames, and the
// message boundary terminates the last frame even without a trailing newline.
// Outbound frames queued while a write is in progress are batched into one
// WebSocket message, newline-separated.
//
// Architecture:
//
// The Hub runs a single goroutine that owns the registry of live clients.
// Each Client has a read pump, which decodes frames and passes them to the
// Handler, and a write pump, which drains the client's send queue and sends
// pings. Client implements session.Conn; its Send never blocks, and a full
// queue makes the lobby drop the client.
//
// A message longer than protocol.MaxFrameSize is dropped and the connection
// stays open, as on TCP. Only messages past a much larger hard limit close it.
//
// Clients may connect with ?lobby=<code>; a join that names no lobby then
// goes to that lobby.
//
// Usage:
//
//	hub := websocket.NewHub(manager)
//	go hub.Run(ctx)
//
//	router.HandleFunc("/ws", hub.ServeWS)
package websocket
