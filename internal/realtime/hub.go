// Package realtime streams the chat room over WebSocket.
//
// The protocol is receive-only: clients get a history snapshot on
// connect, then live message, system, and stats events. Anything a
// client writes is discarded.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/agentchat/internal/chat"
	"github.com/mbd888/agentchat/internal/metrics"
	"github.com/mbd888/agentchat/internal/ratelimit"
)

// HistoryLimit is how many recent messages a client gets on connect.
const HistoryLimit = 50

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Event types pushed to subscribers
const (
	EventHistory = "history"
	EventMessage = "message"
	EventSystem  = "system"
	EventStats   = "stats"
)

// Event is the wire envelope for everything the hub sends.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client represents one WebSocket subscriber
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// afterID is the highest message id in the client's history
	// snapshot; live message events at or below it are skipped.
	// Written on the hub goroutine before the client joins the map.
	afterID int64
}

// Hub manages all WebSocket subscribers.
type Hub struct {
	messages    chat.Store
	connLimiter *ratelimit.Limiter

	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a hub over the message store. connLimiter bounds new
// connections per IP; nil disables the limit (tests).
func NewHub(logger *slog.Logger, messages chat.Store, connLimiter *ratelimit.Limiter) *Hub {
	return &Hub{
		messages:    messages,
		connLimiter: connLimiter,
		clients:     make(map[*Client]bool),
		broadcast:   make(chan *Event, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      logger,
		done:        make(chan struct{}),
		maxClients:  MaxClients,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveSubscribers.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			// Snapshot here, on the hub goroutine, so the cutover to
			// live delivery is atomic: every message event processed
			// after this point either postdates the snapshot or is
			// skipped by the afterID check in deliver.
			client.queueHistory(ctx)
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveSubscribers.Set(float64(n))
			h.logger.Info("subscriber connected", "total", n)
			h.deliver(h.statsEvent(ctx, n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveSubscribers.Set(float64(n))
			h.logger.Info("subscriber disconnected", "total", n)
			h.deliver(h.statsEvent(ctx, n))

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// deliver fans an event out to every subscriber, evicting slow ones.
func (h *Hub) deliver(event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to serialize event", "type", event.Type, "error", err)
		return
	}

	var msgID int64
	if event.Type == EventMessage {
		if msg, ok := event.Data.(*chat.Message); ok {
			msgID = msg.ID
		}
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if msgID > 0 && msgID <= client.afterID {
			continue // already in this client's history snapshot
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) statsEvent(ctx context.Context, connected int) *Event {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	count, err := h.messages.Count(ctx)
	if err != nil {
		h.logger.Warn("failed to count messages for stats", "error", err)
	}
	return &Event{Type: EventStats, Data: map[string]any{
		"connected": connected,
		"messages":  count,
	}}
}

// enqueue pushes an event onto the broadcast channel without blocking.
func (h *Hub) enqueue(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// BroadcastMessage pushes a posted chat message to all subscribers.
func (h *Hub) BroadcastMessage(msg *chat.Message) {
	h.enqueue(&Event{Type: EventMessage, Data: msg})
}

// BroadcastSystem pushes a system notice (bans, announcements).
func (h *Hub) BroadcastSystem(content string) {
	h.enqueue(&Event{Type: EventSystem, Data: map[string]any{"content": content}})
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns hub statistics for the admin surface.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket and registers the client.
// Over-limit IPs are closed with policy violation (1008) after the
// upgrade so the client sees a proper close frame, not an HTTP error.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if h.connLimiter != nil && !h.connLimiter.Allow(clientIP(r)) {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Rate limited")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	// The hub goroutine queues the history snapshot during
	// registration, so it is the first thing the client reads.
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// queueHistory loads the snapshot and queues it as the client's first
// event. Runs on the hub goroutine before the client joins the map.
func (c *Client) queueHistory(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	recent, err := c.hub.messages.Recent(ctx, HistoryLimit)
	if err != nil {
		c.hub.logger.Warn("failed to load history snapshot", "error", err)
		recent = nil
	}
	if recent == nil {
		recent = []*chat.Message{}
	}
	if n := len(recent); n > 0 {
		c.afterID = recent[n-1].ID
	}
	payload, err := json.Marshal(&Event{Type: EventHistory, Data: recent})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		// buffer already full; the client will be evicted on the next delivery
	}
}

// readPump drains the connection. Client input is ignored; reads exist
// only to process pings and detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}

// writePump writes queued events to the WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// clientIP extracts the caller's IP, honoring the first entry of
// X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
