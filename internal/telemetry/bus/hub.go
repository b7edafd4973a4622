// Package bus implements the Telemetry Bus: a WebSocket hub broadcasting
// status, statistics, and log envelopes to connected observers, with
// batching and debounced statistics fan-out.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"castrelay/internal/observability/metrics"
	"castrelay/internal/telemetry/parser"
)

const (
	batchInterval      = 50 * time.Millisecond
	maxMessagesPerTick = 10
	statsDebounce      = 100 * time.Millisecond
	queueDepth         = 1024
)

// Envelope is the wire message shape delivered to every connected client.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// StatSample is one destination's entry within a "statistics" envelope.
type StatSample struct {
	DestinationID string        `json:"destinationId"`
	Stats         *parser.Stats `json:"stats"`
}

type client struct {
	id   string
	conn *wsConn
}

// Hub owns the WebSocket client table and the outbound envelope queue; both
// are exclusively mutated by the hub's own goroutines.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*client

	queue chan Envelope
	stop  chan struct{}

	statsMu     sync.Mutex
	latest      map[string]*parser.Stats
	changed     map[string]struct{}
	debounce    *time.Timer
	debouncePending bool
}

// New constructs a Hub; call Activate to begin its batching drain loop.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "telemetry_bus"),
		clients: make(map[string]*client),
		queue:   make(chan Envelope, queueDepth),
		latest:  make(map[string]*parser.Stats),
		changed: make(map[string]struct{}),
	}
}

// Initialize performs no I/O.
func (h *Hub) Initialize() error { return nil }

// Activate starts the batching drain loop.
func (h *Hub) Activate() error {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return nil
	}
	h.stop = make(chan struct{})
	stop := h.stop
	h.mu.Unlock()
	go h.drainLoop(stop)
	return nil
}

// Deactivate stops the batching loop and disconnects every client.
func (h *Hub) Deactivate() error {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, c := range clients {
		c.conn.Close()
	}
	return nil
}

// Destroy releases no further resources.
func (h *Hub) Destroy() error { return nil }

// ServeHTTP upgrades the request to a WebSocket connection, registers the
// client, and serves it until disconnection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := acceptWebSocket(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetBusClients(count)

	h.sendDirect(c, Envelope{Type: "connected", Data: map[string]string{"clientId": c.id}, Timestamp: nowMillis()})
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.removeClient(c.id)
	for {
		payload, err := c.conn.readMessage(context.Background())
		if err != nil {
			return
		}
		var incoming struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &incoming); err != nil {
			continue
		}
		if incoming.Type == "ping" {
			h.sendDirect(c, Envelope{Type: "pong", Timestamp: nowMillis()})
		}
		// Subscription requests are accepted but the hub does not
		// currently filter broadcasts by topic.
	}
}

func (h *Hub) removeClient(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.SetBusClients(count)
		c.conn.Close()
	}
}

func (h *Hub) sendDirect(c *client, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := c.conn.writeText(data); err != nil {
		h.removeClient(c.id)
	}
}

// Broadcast enqueues env for delivery to every connected client on the next
// batching tick.
func (h *Hub) Broadcast(env Envelope) {
	if env.Timestamp == 0 {
		env.Timestamp = nowMillis()
	}
	select {
	case h.queue <- env:
	default:
		h.logger.Warn("broadcast queue full, dropping envelope", "type", env.Type)
	}
}

// BroadcastLog is a convenience wrapper producing a "log" envelope.
func (h *Hub) BroadcastLog(level, message, source, platformID string) {
	h.Broadcast(Envelope{Type: "log", Data: map[string]any{
		"level": level, "message": message, "source": source, "platformId": platformID,
	}})
}

// PublishStats records a fresh statistics sample for a destination and
// schedules a debounced "statistics" broadcast covering every destination
// whose stats have changed since the last flush.
func (h *Hub) PublishStats(destinationID string, stats *parser.Stats) {
	h.statsMu.Lock()
	h.latest[destinationID] = stats
	h.changed[destinationID] = struct{}{}
	if !h.debouncePending {
		h.debouncePending = true
		h.debounce = time.AfterFunc(statsDebounce, h.flushStats)
	}
	h.statsMu.Unlock()
}

func (h *Hub) flushStats() {
	h.statsMu.Lock()
	samples := make([]StatSample, 0, len(h.changed))
	for id := range h.changed {
		samples = append(samples, StatSample{DestinationID: id, Stats: h.latest[id]})
	}
	h.changed = make(map[string]struct{})
	h.debouncePending = false
	h.statsMu.Unlock()

	if len(samples) > 0 {
		h.Broadcast(Envelope{Type: "statistics", Data: samples})
	}
}

func (h *Hub) drainLoop(stop chan struct{}) {
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.drainTick()
		}
	}
}

func (h *Hub) drainTick() {
	for i := 0; i < maxMessagesPerTick; i++ {
		select {
		case env := <-h.queue:
			h.broadcastNow(env)
		default:
			return
		}
	}
}

func (h *Hub) broadcastNow(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	metrics.TelemetryMessageBroadcast()
	for _, c := range targets {
		if err := c.conn.writeText(data); err != nil {
			h.removeClient(c.id)
		}
	}
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
