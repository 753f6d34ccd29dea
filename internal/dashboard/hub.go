package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/coal/ddosguard/internal/session"
	"github.com/coal/ddosguard/internal/settings"
)

const writeTimeout = 5 * time.Second

// Controller is the slice of the session machine the dashboard drives.
type Controller interface {
	Current() session.State
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	UpdateThresholds(ctx context.Context, t settings.AlertThresholds) error
	UpdateAdaptiveConfig(ctx context.Context, c settings.AdaptiveConfig) error
}

// Hub manages WebSocket clients, event broadcasting, and stats.
type Hub struct {
	ctl    Controller
	events *RingBuffer
	stats  *Stats
	logger zerolog.Logger
	seq    atomic.Uint64

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a new dashboard hub over ctl.
func NewHub(ctl Controller, logger zerolog.Logger) *Hub {
	return &Hub{
		ctl:     ctl,
		events:  NewRingBuffer(defaultBufferSize),
		stats:   NewStats(),
		logger:  logger.With().Str("component", "dashboard").Logger(),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// OnEvent is the observer callback to register with the session machine.
func (h *Hub) OnEvent(ev session.Event) {
	event := &DashboardEvent{
		ID:    fmt.Sprintf("evt-%d", h.seq.Add(1)),
		Event: ev,
	}

	h.events.Add(event)
	h.stats.Record(event)
	h.broadcast(WSMessage{Type: "event", Payload: event})
}

// Follow broadcasts every state received on updates until ctx ends or the
// channel closes.
func (h *Hub) Follow(ctx context.Context, updates <-chan session.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			h.broadcast(WSMessage{Type: "session_update", Payload: st})
		}
	}
}

// Register adds a WebSocket client and sends it the initial state.
func (h *Hub) Register(ctx context.Context, conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	initial := WSMessage{
		Type: "initial_state",
		Payload: InitialState{
			Session: h.ctl.Current(),
			Events:  h.events.All(),
			Stats:   h.stats.Snapshot(),
		},
	}

	data, err := json.Marshal(initial)
	if err != nil {
		h.logger.Error().Err(err).Msg("encoding initial state")
		return
	}
	if err := h.write(ctx, conn, data); err != nil {
		h.Unregister(conn)
	}
}

// Unregister removes a WebSocket client.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast sends a message to all connected clients. Clients that fail a
// write are dropped.
func (h *Hub) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("encoding broadcast")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := h.write(context.Background(), c, data); err != nil {
			h.logger.Debug().Err(err).Msg("dropping websocket client")
			h.Unregister(c)
			c.CloseNow()
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// StartStatsBroadcast pushes stats snapshots to all clients every interval.
func (h *Hub) StartStatsBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast(WSMessage{Type: "stats_update", Payload: h.stats.Snapshot()})
		}
	}
}

// Events returns the ring buffer (for API handlers).
func (h *Hub) Events() *RingBuffer {
	return h.events
}

// StatsSnapshot returns a snapshot of accumulated stats.
func (h *Hub) StatsSnapshot() *StatsSnapshot {
	return h.stats.Snapshot()
}
