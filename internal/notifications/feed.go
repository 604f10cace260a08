package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatguard/internal/middleware"
	"chatguard/internal/models"
	"chatguard/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Feed clients only send control frames.
	maxMessageSize = 512

	maxFeedClients = 1000
	sendBuffer     = 64
)

var (
	// ErrFeedFull is returned when the hub is at its connection limit.
	ErrFeedFull = errors.New("action feed connection limit reached")
	// ErrFeedClosed is returned after Shutdown.
	ErrFeedClosed = errors.New("action feed closed")
)

// FeedClient is one websocket subscriber. An empty UserID receives every
// user's actions.
type FeedClient struct {
	hub    *ActionHub
	conn   *websocket.Conn
	UserID string
	send   chan []byte
}

// ActionHub fans applied actions out to websocket subscribers. It is fed
// either by the Redis subscriber, so every instance sees every action, or
// directly as an engine sink when Redis is not configured.
type ActionHub struct {
	mu      sync.RWMutex
	clients map[*FeedClient]struct{}
	closed  bool
	cancel  context.CancelFunc
}

// NewActionHub creates an empty hub.
func NewActionHub() *ActionHub {
	return &ActionHub{clients: make(map[*FeedClient]struct{})}
}

// Start feeds the hub from the Redis action channels until Shutdown.
func (h *ActionHub) Start(ctx context.Context, n *Notifier) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return ErrFeedClosed
	}
	h.cancel = cancel
	h.mu.Unlock()

	return n.StartActionSubscriber(ctx, func(_ string, event ActionEvent) {
		h.Broadcast(event)
	})
}

// ActionApplied lets the hub serve as an engine sink.
func (h *ActionHub) ActionApplied(_ context.Context, a models.Action) error {
	h.Broadcast(NewActionEvent(a))
	return nil
}

// Register adds a subscriber for userID, or for everyone when userID is empty.
func (h *ActionHub) Register(conn *websocket.Conn, userID string) (*FeedClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrFeedClosed
	}
	if len(h.clients) >= maxFeedClients {
		return nil, ErrFeedFull
	}

	c := &FeedClient{hub: h, conn: conn, UserID: userID, send: make(chan []byte, sendBuffer)}
	h.clients[c] = struct{}{}
	observability.FeedConnections.Inc()
	return c, nil
}

// Unregister removes c and closes its send channel. It is safe to call more
// than once.
func (h *ActionHub) Unregister(c *FeedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	observability.FeedConnections.Dec()
}

// Broadcast delivers event to every matching client. Slow clients lose the
// event rather than stall the feed.
func (h *ActionHub) Broadcast(event ActionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		middleware.Logger.Error("encode action event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.UserID != "" && c.UserID != event.Action.UserID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			observability.FeedDrops.WithLabelValues("full").Inc()
			middleware.Logger.Warn("action feed client too slow, dropping event",
				slog.String("user_id", c.UserID))
		}
	}
}

// ClientCount returns the number of registered subscribers.
func (h *ActionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown stops the Redis feed and disconnects every subscriber.
func (h *ActionHub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.cancel != nil {
		h.cancel()
	}
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		observability.FeedConnections.Dec()
	}
}

// ReadPump discards inbound frames so pongs and close frames are processed.
// It returns when the peer goes away and then unregisters the client.
func (c *FeedClient) ReadPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Debug("action feed read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// WritePump pumps events from the hub to the websocket connection.
func (c *FeedClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
