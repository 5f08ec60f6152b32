// Package stream fans engine events out to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/metrics"
)

// EventType names a stream event.
type EventType string

const (
	EventTrade  EventType = "trade"
	EventPayout EventType = "payout"
	EventReview EventType = "review"
	EventAlert  EventType = "alert"
)

// topicEvents maps bus topics to the events they produce.
var topicEvents = map[string]EventType{
	domain.TopicTradeIngested:  EventTrade,
	domain.TopicPayoutAssessed: EventPayout,
	domain.TopicPayoutReviewed: EventReview,
	domain.TopicAlert:          EventAlert,
}

// MaxClients bounds concurrent websocket connections.
const MaxClients = 1000

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Event is one message on the stream.
type Event struct {
	Type      EventType       `json:"type"`
	TraderID  string          `json:"trader_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Filter narrows what a client receives. The zero value receives everything.
type Filter struct {
	EventTypes []EventType `json:"event_types"`
	TraderIDs  []string    `json:"trader_ids"`
}

func (f Filter) match(e *Event) bool {
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, e.Type) {
		return false
	}
	if len(f.TraderIDs) > 0 && !contains(f.TraderIDs, e.TraderID) {
		return false
	}
	return true
}

func contains[T comparable](s []T, v T) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	filter Filter
}

// Hub tracks clients and broadcasts events to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	broadcast  chan *Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
	metrics    *metrics.Collector

	subscriptions []domain.Subscription

	totalEvents atomic.Int64
	dropped     atomic.Int64
}

// NewHub creates a hub. m may be nil.
func NewHub(m *metrics.Collector) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// Attach subscribes the hub to every engine topic on the bus.
func (h *Hub) Attach(ctx context.Context, bus domain.EventBus) error {
	for topic, typ := range topicEvents {
		typ := typ
		sub, err := bus.Subscribe(ctx, topic, func(_ context.Context, msg *domain.Message) error {
			h.Publish(typ, msg.Key, msg.Payload)
			return nil
		})
		if err != nil {
			return err
		}
		h.subscriptions = append(h.subscriptions, sub)
	}
	return nil
}

// Detach removes the hub's bus subscriptions.
func (h *Hub) Detach() {
	for _, sub := range h.subscriptions {
		_ = sub.Unsubscribe()
	}
	h.subscriptions = nil
}

// Publish queues an event for broadcast. Events are dropped when the hub
// is saturated.
func (h *Hub) Publish(typ EventType, traderID string, payload []byte) {
	e := &Event{
		Type:      typ,
		TraderID:  traderID,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(payload),
	}
	select {
	case h.broadcast <- e:
	default:
		h.dropped.Add(1)
		slog.Warn("stream broadcast full, dropping event", "type", typ)
	}
}

// Run is the hub loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.setGauge(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.setGauge(n)
			slog.Debug("stream client connected", "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setGauge(n)
			slog.Debug("stream client disconnected", "total", n)

		case e := <-h.broadcast:
			h.totalEvents.Add(1)
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("failed to encode stream event", "type", e.Type, "error", err)
				continue
			}

			var slow []*client
			h.mu.RLock()
			for c := range h.clients {
				c.mu.RLock()
				ok := c.filter.match(e)
				c.mu.RUnlock()
				if !ok {
					continue
				}
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						close(c.send)
						delete(h.clients, c)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.setGauge(n)
			}
		}
	}
}

func (h *Hub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(n))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket. Query parameters "type"
// and "trader_id" set the initial filter; clients may send a Filter as JSON
// to change it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.Clients() >= MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	var filter Filter
	for _, t := range r.URL.Query()["type"] {
		filter.EventTypes = append(filter.EventTypes, EventType(t))
	}
	filter.TraderIDs = r.URL.Query()["trader_id"]

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		filter: filter,
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}
		var f Filter
		if err := json.Unmarshal(message, &f); err == nil {
			c.mu.Lock()
			c.filter = f
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
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
				slog.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
