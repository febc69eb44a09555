// Package websocket streams the process log to operators over WebSocket
package websocket

import (
	"bytes"
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogHub fans log lines out to every connected operator.
// It implements io.Writer so the slog handler can tee into it.
type LogHub struct {
	clients map[*subscriber]struct{}

	// Buffered; lines are dropped when full so logging never blocks
	broadcast  chan []byte
	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{}

	mu sync.RWMutex

	// Last lines, replayed to new subscribers
	backlog     [][]byte
	backlogNext int
	backlogMu   sync.Mutex

	secretKey string
	upgrader  websocket.Upgrader
}

type subscriber struct {
	hub  *LogHub
	conn *websocket.Conn
	send chan []byte
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64
	backlogSize         = 100

	frameWriteTimeout = 5 * time.Second
	idleTimeout       = 45 * time.Second
	keepaliveEvery    = 30 * time.Second
	maxInboundFrame   = 1 << 10
)

// NewLogHub creates a hub guarded by secretKey (?secret_key=)
func NewLogHub(secretKey string) *LogHub {
	return &LogHub{
		clients:    make(map[*subscriber]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		done:       make(chan struct{}),
		backlog:    make([][]byte, 0, backlogSize),
		secretKey:  secretKey,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			WriteBufferSize:  4096,
			// Operators connect from the dashboard origin; the secret key guards access
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled.
func (h *LogHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			for _, line := range h.Backlog() {
				select {
				case c.send <- line:
				default:
				}
			}
			slog.Info("Log stream client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Log stream client disconnected", "total", total)

		case message := <-h.broadcast:
			h.remember(message)
			h.mu.RLock()
			for c := range h.clients {
				// Slow clients miss lines instead of stalling the hub
				select {
				case c.send <- message:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Write implements io.Writer. Never blocks and never fails.
func (h *LogHub) Write(p []byte) (int, error) {
	msg := bytes.TrimRight(append([]byte(nil), p...), "\n\r")
	select {
	case h.broadcast <- msg:
	default:
	}
	return len(p), nil
}

func (h *LogHub) remember(line []byte) {
	h.backlogMu.Lock()
	defer h.backlogMu.Unlock()
	if len(h.backlog) < backlogSize {
		h.backlog = append(h.backlog, line)
		return
	}
	h.backlog[h.backlogNext] = line
	h.backlogNext = (h.backlogNext + 1) % backlogSize
}

// Backlog returns the remembered lines, oldest first
func (h *LogHub) Backlog() [][]byte {
	h.backlogMu.Lock()
	defer h.backlogMu.Unlock()
	out := make([][]byte, 0, len(h.backlog))
	out = append(out, h.backlog[h.backlogNext:]...)
	out = append(out, h.backlog[:h.backlogNext]...)
	return out
}

// Authorized checks the secret key in constant time
func (h *LogHub) Authorized(key string) bool {
	return h.secretKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(h.secretKey)) == 1
}

// ServeWS upgrades /ws/logs?secret_key=... into a log stream
func (h *LogHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.Authorized(r.URL.Query().Get("secret_key")) {
		http.Error(w, "log stream: missing or wrong secret_key", http.StatusUnauthorized)
		slog.Warn("Unauthorized log stream attempt", "remote_addr", r.RemoteAddr)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{hub: h, conn: conn, send: make(chan []byte, clientBufferSize)}
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go sub.stream()
	go sub.drain()
}

// ClientCount returns the number of connected operators
func (h *LogHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// drain discards inbound frames so control messages (pong, close) are handled
func (c *subscriber) drain() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Log stream read error", "error", err)
			}
			return
		}
	}
}

// stream writes one text frame per log line and keeps the connection alive
func (c *subscriber) stream() {
	keepalive := time.NewTicker(keepaliveEvery)
	defer func() {
		keepalive.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case line, open := <-c.send:
			deadline := time.Now().Add(frameWriteTimeout)
			if !open {
				bye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = c.conn.WriteControl(websocket.CloseMessage, bye, deadline)
				return
			}
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, line); err != nil {
				slog.Debug("Log stream write failed", "error", err)
				return
			}

		case <-keepalive.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(frameWriteTimeout)); err != nil {
				return
			}
		}
	}
}
