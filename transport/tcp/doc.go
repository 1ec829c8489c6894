// Package tcp serves the Key Quest line protocol over raw TCP.
//
// Each accepted socket gets a Conn with a UUID and its own read goroutine.
// Bytes are reassembled into newline-terminated frames by a
// protocol.FrameBuffer, decoded, and handed to a Handler (normally the
// session.Manager). Malformed frames are logged and skipped; only EOF, a read
// error, the idle timeout or shutdown end a connection.
//
// When the read loop ends for any reason, including a panic in the handler,
// Handler.Disconnect is called exactly once and the socket is closed.
//
// Usage:
//
//	l := tcp.NewListener("0.0.0.0:5555", manager, tcp.Options{
//		IdleTimeout:  5 * time.Minute,
//		WriteTimeout: 5 * time.Second,
//	})
//	if err := l.ListenAndServe(ctx); err != nil {
//		log.Fatal().Err(err).Msg("tcp server failed")
//	}
package tcp
