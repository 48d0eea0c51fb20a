// Package ws fans bus events out to monitor websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// backlogSize is how many settlement events a new client receives on
	// connect.
	backlogSize = 50
)

// Channels are the bus channels the hub relays.
var Channels = []string{
	domain.ChannelTradingEvents,
	domain.ChannelScores,
	domain.ChannelSettlements,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is sent by clients to change their channel set:
// {"action":"subscribe","channels":["txoracle:scores"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// envelope wraps a bus payload with the channel it arrived on.
type envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages connected websocket clients and broadcasts bus messages to the
// clients subscribed to their channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger

	mode         string
	participants []string
	startedAt    time.Time

	backlogMu sync.Mutex
	backlog   [][]byte
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Config is reported to clients in the status message sent on connect.
type Config struct {
	Mode         string
	Participants []string
	StartedAt    time.Time
}

// NewHub creates a hub relaying bus to websocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:      make(map[*client]bool),
		broadcast:    make(chan broadcastMsg, 256),
		register:     make(chan *client),
		unregister:   make(chan *client),
		bus:          bus,
		logger:       logger.With(slog.String("component", "ws_hub")),
		mode:         mode,
		participants: cfg.Participants,
		startedAt:    startedAt,
	}
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.loadBacklog(ctx)
	for _, ch := range Channels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client",
							slog.String("channel", msg.channel),
						)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// loadBacklog reads the durable settlements stream so clients connecting
// after a restart still see recent settlements.
func (h *Hub) loadBacklog(ctx context.Context) {
	lastID := "0"
	for {
		msgs, err := h.bus.StreamRead(ctx, domain.ChannelSettlements, lastID, 500)
		if err != nil {
			h.logger.WarnContext(ctx, "ws: settlement backlog unavailable",
				slog.String("error", err.Error()),
			)
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, m := range msgs {
			if data, err := wrap(domain.ChannelSettlements, m.Payload); err == nil {
				h.remember(data)
			}
		}
		lastID = msgs[len(msgs)-1].ID
	}
}

func (h *Hub) remember(data []byte) {
	h.backlogMu.Lock()
	defer h.backlogMu.Unlock()
	h.backlog = append(h.backlog, data)
	if n := len(h.backlog); n > backlogSize {
		h.backlog = append([][]byte(nil), h.backlog[n-backlogSize:]...)
	}
}

func (h *Hub) recent() [][]byte {
	h.backlogMu.Lock()
	defer h.backlogMu.Unlock()
	return append([][]byte(nil), h.backlog...)
}

func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			data, err := wrap(channel, payload)
			if err != nil {
				h.logger.Warn("ws: non-json payload dropped",
					slog.String("channel", channel),
				)
				continue
			}
			if channel == domain.ChannelSettlements {
				h.remember(data)
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func wrap(channel string, payload []byte) ([]byte, error) {
	if !json.Valid(payload) {
		return nil, &json.SyntaxError{}
	}
	return json.Marshal(envelope{Channel: channel, Payload: payload})
}

// HandleWS upgrades the request and registers the client, subscribed to
// every channel until it asks otherwise.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendInitial()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendInitial queues the status message followed by the settlement backlog.
func (c *client) sendInitial() {
	msg, err := json.Marshal(map[string]any{
		"channel": "status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"participants":   c.hub.participants,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	for _, m := range append([][]byte{msg}, c.hub.recent()...) {
		select {
		case c.send <- m:
		default:
			return
		}
	}
}

// isSubscribed checks channel against the client's set; "txoracle:*"
// matches every channel with that prefix.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
