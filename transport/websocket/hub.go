package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/keyquest/game/session"
	"github.com/wricardo/mcp-training/keyquest/transport/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound frames buffered per client before Send starts failing.
	sendQueueSize = 256

	// Largest WebSocket message accepted before the connection is closed.
	// Messages over protocol.MaxFrameSize but under this are dropped.
	maxMessageSize = 16 * protocol.MaxFrameSize
)

var (
	ErrClientClosed  = errors.New("websocket client closed")
	ErrSendQueueFull = errors.New("websocket send queue full")
	ErrHubNotRunning = errors.New("websocket hub not running")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		return true
	},
}

// Handler receives decoded messages and disconnect notifications.
type Handler interface {
	HandleMessage(conn session.Conn, msg *protocol.Message) error
	Disconnect(conn session.Conn)
}

// Client is one WebSocket connection. It satisfies session.Conn, so lobbies
// broadcast to it exactly as they do to TCP clients.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	remote string
	lobby  string // lobby from the ?lobby= query, used when a join names none

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, remote, lobby string) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		remote: remote,
		lobby:  lobby,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// ID returns the client's UUID.
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	return c.remote
}

// Send queues one frame for the write pump. It never blocks; a client that
// cannot keep up gets ErrSendQueueFull and is dropped by the lobby.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close asks the write pump to send a close frame and shut the socket down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Hub tracks live WebSocket clients and hands their messages to the game.
type Hub struct {
	handler Handler

	// Registered clients by the lobby they connected for
	lobbies map[string]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// closed when Run returns
	stopped chan struct{}

	clients atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(handler Handler) *Hub {
	return &Hub{
		handler:    handler,
		lobbies:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop. When ctx is done every client is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			for _, clients := range h.lobbies {
				for client := range clients {
					client.Close()
				}
			}
			log.Info().Int64("clients", h.clients.Load()).Msg("websocket hub stopped")
			return
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	return int(h.clients.Load())
}

// ServeWS upgrades the request and starts the client's pumps. The optional
// lobby query parameter becomes the default lobby for the client's joins.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := newClient(h, conn, r.RemoteAddr, r.URL.Query().Get("lobby"))
	select {
	case h.register <- client:
	case <-h.stopped:
		log.Warn().Err(ErrHubNotRunning).Str("remote", r.RemoteAddr).Msg("rejecting websocket client")
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// registerClient adds a client under its lobby
func (h *Hub) registerClient(client *Client) {
	if h.lobbies[client.lobby] == nil {
		h.lobbies[client.lobby] = make(map[*Client]bool)
	}
	h.lobbies[client.lobby][client] = true
	h.clients.Add(1)

	log.Info().
		Str("conn", client.id).
		Str("remote", client.remote).
		Str("lobby", client.lobby).
		Int("lobby_clients", len(h.lobbies[client.lobby])).
		Msg("websocket client connected")
}

// unregisterClient removes a client from its lobby
func (h *Hub) unregisterClient(client *Client) {
	if clients, ok := h.lobbies[client.lobby]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			h.clients.Add(-1)

			// Clean up empty lobbies
			if len(clients) == 0 {
				delete(h.lobbies, client.lobby)
			}

			log.Info().
				Str("conn", client.id).
				Str("lobby", client.lobby).
				Int("lobby_clients", len(clients)).
				Msg("websocket client disconnected")
		}
	}
}

// readPump feeds client messages to the handler. Each WebSocket message ends
// any frame it carries, so a trailing newline is optional.
func (c *Client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("conn", c.id).Interface("panic", r).Msg("websocket read loop panicked")
		}
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.hub.handler.Disconnect(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	frames := protocol.NewFrameBuffer(protocol.MaxFrameSize)
	for {
		data, err := c.readMessage()
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			log.Warn().Err(err).Str("conn", c.id).Msg("dropping oversized message")
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn", c.id).Msg("websocket read failed")
			}
			return
		}

		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		batch, err := frames.Append(data)
		if err != nil {
			log.Warn().Err(err).Str("conn", c.id).Msg("dropping oversized frame")
		}
		for _, frame := range batch {
			c.dispatch(frame)
		}
	}
}

// readMessage reads the next message, keeping at most one frame of it in
// memory. A longer message is drained and reported as ErrFrameTooLarge.
func (c *Client) readMessage() ([]byte, error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, protocol.MaxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > protocol.MaxFrameSize {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, protocol.ErrFrameTooLarge
	}
	return data, nil
}

func (c *Client) dispatch(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Str("conn", c.id).Msg("skipping malformed frame")
		return
	}
	if msg.Type == protocol.TypeJoin && msg.LobbyCode == "" {
		msg.LobbyCode = c.lobby
	}
	if err := c.hub.handler.HandleMessage(c, msg); err != nil {
		ev := log.Warn()
		if session.IsSilent(err) {
			ev = log.Debug()
		}
		ev.Err(err).Str("conn", c.id).Str("type", string(msg.Type)).Str("player", msg.Player).Msg("message rejected")
	}
}

// writePump pumps queued frames to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			// Add queued frames to the current WebSocket message; each
			// already ends with a newline.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
