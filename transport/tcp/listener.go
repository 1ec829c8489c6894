package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Options tune connection handling. Zero values select defaults where noted.
type Options struct {
	IdleTimeout    time.Duration // 0 disables
	WriteTimeout   time.Duration // 0 disables
	ReadBufferSize int           // default 1024
	MaxFrameSize   int           // default protocol.MaxFrameSize
	MaxConns       int           // 0 is unlimited
}

const defaultReadBufferSize = 1024

// Listener accepts TCP connections and serves each one on its own goroutine.
type Listener struct {
	addr    string
	handler Handler
	opts    Options

	mu    sync.Mutex
	ln    net.Listener
	conns map[string]*Conn
	wg    sync.WaitGroup
}

// NewListener creates a listener for addr. Nothing is bound until Listen.
func NewListener(addr string, handler Handler, opts Options) *Listener {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}
	return &Listener{
		addr:    addr,
		handler: handler,
		opts:    opts,
		conns:   make(map[string]*Conn),
	}
}

// Listen binds the socket.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// ListenAndServe binds the socket and serves until ctx is done.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve runs the accept loop until ctx is done or the listener is closed.
// On return every open connection has been closed and its read loop has
// finished.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return errors.New("tcp listener: Serve called before Listen")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-stop:
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("tcp server listening")

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				l.Close()
				l.wg.Wait()
				log.Info().Msg("tcp server stopped")
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			log.Error().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		conn := newConn(nc, l.handler, l.opts)
		if !l.track(conn) {
			log.Warn().Str("remote", nc.RemoteAddr().String()).Int("max", l.opts.MaxConns).Msg("connection limit reached, rejecting")
			nc.Close()
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrack(conn)
			conn.Serve()
		}()
	}
}

func (l *Listener) track(c *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opts.MaxConns > 0 && len(l.conns) >= l.opts.MaxConns {
		return false
	}
	l.conns[c.id] = c
	return true
}

func (l *Listener) untrack(c *Conn) {
	l.mu.Lock()
	delete(l.conns, c.id)
	l.mu.Unlock()
}

// ConnCount returns the number of open connections.
func (l *Listener) ConnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Close stops accepting and closes every open connection.
func (l *Listener) Close() error {
	l.mu.Lock()
	ln := l.ln
	conns := make([]*Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for _, c := range conns {
		c.Close()
	}
	return err
}
