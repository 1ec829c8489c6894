package tcp

import (
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/keyquest/game/session"
	"github.com/wricardo/mcp-training/keyquest/transport/protocol"
)

// ErrConnClosed is returned by Send after the connection has been closed.
var ErrConnClosed = errors.New("connection closed")

// Handler receives decoded messages and disconnect notifications.
type Handler interface {
	HandleMessage(conn session.Conn, msg *protocol.Message) error
	Disconnect(conn session.Conn)
}

// Conn is one accepted TCP connection. It owns the socket and the receive
// buffer; Serve runs its read loop.
type Conn struct {
	id      string
	nc      net.Conn
	handler Handler
	opts    Options

	writeMu     sync.Mutex
	closeOnce   sync.Once
	releaseOnce sync.Once
	closed      chan struct{}
}

func newConn(nc net.Conn, handler Handler, opts Options) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		nc:      nc,
		handler: handler,
		opts:    opts,
		closed:  make(chan struct{}),
	}
}

// ID returns the connection's UUID.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Send writes one whole frame. Concurrent senders never interleave.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := c.nc.Write(frame)
	return err
}

// Close closes the socket, which also ends the read loop.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
	})
	return err
}

// Serve runs the read loop until the peer goes away or the socket is closed.
// The handler is told about the disconnect exactly once, even if it panics.
func (c *Conn) Serve() {
	defer c.release()

	logger := log.With().Str("conn", c.id).Str("remote", c.RemoteAddr()).Logger()
	logger.Info().Msg("client connected")

	frames := protocol.NewFrameBuffer(c.opts.MaxFrameSize)
	buf := make([]byte, c.opts.ReadBufferSize)
	for {
		if c.opts.IdleTimeout > 0 {
			c.nc.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		}

		n, err := c.nc.Read(buf)
		if n > 0 {
			c.process(frames, buf[:n])
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Info().Msg("client closed connection")
			case errors.Is(err, net.ErrClosed):
				logger.Debug().Msg("connection closed locally")
			default:
				logger.Warn().Err(err).Msg("read failed")
			}
			return
		}
	}
}

func (c *Conn) process(frames *protocol.FrameBuffer, chunk []byte) {
	batch, err := frames.Append(chunk)
	if err != nil {
		log.Warn().Err(err).Str("conn", c.id).Msg("dropping oversized frame")
	}
	for _, frame := range batch {
		msg, err := protocol.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Str("conn", c.id).Msg("skipping malformed frame")
			continue
		}
		if err := c.handler.HandleMessage(c, msg); err != nil {
			logRejected(c.id, msg, err)
		}
	}
}

// release runs as the read loop's deferred cleanup.
func (c *Conn) release() {
	if r := recover(); r != nil {
		log.Error().
			Str("conn", c.id).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("read loop panicked")
	}
	c.releaseOnce.Do(func() {
		c.handler.Disconnect(c)
		c.Close()
		log.Info().Str("conn", c.id).Msg("client disconnected")
	})
}

func logRejected(connID string, msg *protocol.Message, err error) {
	ev := log.Warn()
	if session.IsSilent(err) {
		ev = log.Debug()
	}
	ev.Err(err).
		Str("conn", connID).
		Str("type", string(msg.Type)).
		Str("player", msg.Player).
		Msg("message rejected")
}
