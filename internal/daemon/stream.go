package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leefowlercu/mailroom/internal/events"
)

const (
	streamSendBuffer   = 64
	streamWriteTimeout = 5 * time.Second
)

// StreamHub pushes status snapshots and bus events to websocket clients.
// Each client has its own send buffer; frames for a client whose buffer is
// full are dropped.
type StreamHub struct {
	snapshot func(ctx context.Context) Overview
	interval time.Duration
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan StreamFrame
}

// NewStreamHub creates a hub that pushes snapshot() every interval.
func NewStreamHub(snapshot func(ctx context.Context) Overview, interval time.Duration, logger *slog.Logger) *StreamHub {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHub{
		snapshot: snapshot,
		interval: interval,
		logger:   logger.With("component", "stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// Start begins the periodic status push and forwards bus events when bus
// is non-nil.
func (h *StreamHub) Start(ctx context.Context, bus events.Bus) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	if bus != nil {
		h.unsubscribe = bus.SubscribeAll(func(e events.Event) {
			h.Broadcast(StreamFrame{Type: FrameEvent, Event: &e})
		})
	}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if h.ClientCount() == 0 {
					continue
				}
				status := h.snapshot(ctx)
				h.Broadcast(StreamFrame{Type: FrameStatus, Status: &status})
			}
		}
	}()
}

// Stop ends the status push and disconnects every client.
func (h *StreamHub) Stop() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and registers the connection.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.AddClient(r.Context(), conn)
}

// AddClient registers conn, sends it an initial snapshot, and starts its
// reader and writer goroutines.
func (h *StreamHub) AddClient(ctx context.Context, conn *websocket.Conn) {
	c := &streamClient{conn: conn, send: make(chan StreamFrame, streamSendBuffer)}

	status := h.snapshot(context.WithoutCancel(ctx))
	c.send <- StreamFrame{Type: FrameStatus, Status: &status}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "clients", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop is the only goroutine that writes to the connection.
func (h *StreamHub) writeLoop(c *streamClient) {
	defer c.conn.Close()
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := c.conn.WriteJSON(frame); err != nil {
			h.logger.Debug("stream write failed", "error", err)
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(time.Second))
}

// readLoop discards client messages and detects disconnects.
func (h *StreamHub) readLoop(c *streamClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("stream client disconnected", "clients", count)
	}
}

// Broadcast queues frame for every client.
func (h *StreamHub) Broadcast(frame StreamFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *StreamHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
