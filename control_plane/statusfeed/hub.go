// Package statusfeed is the one narrow seam where an external WebSocket
// layer touches the core: it broadcasts a periodic status
// snapshot (agent counts, queue depth, leader state, recent scaling
// events) to connected dashboard clients. Grounded on the teacher's
// ws_hub.go single-broadcaster MetricsHub, generalized from per-tenant
// dashboard metrics to this repository's single-tenant control plane.
package statusfeed

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fluxforge/orchestrator/control_plane/logging"
)

const maxConnections = 200

// Snapshot is one broadcast payload.
type Snapshot struct {
	AgentCounts map[string]int   `json:"agent_counts"`
	QueueDepth  int              `json:"queue_depth"`
	OldestWait  time.Duration    `json:"oldest_wait_ns"`
	IsLeader    bool             `json:"is_leader"`
	Epoch       int64            `json:"epoch"`
	RecentScale []ScalingSummary `json:"recent_scaling_events"`
	Timestamp   time.Time        `json:"timestamp"`
}

// ScalingSummary is the status feed's trimmed view of a timeline.Event.
type ScalingSummary struct {
	PolicyID string `json:"policy_id"`
	Decision string `json:"decision"`
	Success  bool   `json:"success"`
}

// SnapshotSource collects the current status, called once per broadcast
// tick. Implemented by the top-level wiring code, pulling from
// agentpool.Registry, scheduler.Scheduler, coordination.LeaderElector,
// and timeline.Store.
type SnapshotSource interface {
	Collect(ctx context.Context) Snapshot
}

// Hub manages WebSocket connections and broadcasts Snapshots. Single
// broadcaster pattern: one ticker drives every client, rather than one
// ticker per connection.
type Hub struct {
	source SnapshotSource

	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func NewHub(source SnapshotSource) *Hub {
	return &Hub{
		source:     source,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main loop, broadcasting every interval until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	log := logging.Component(ctx, "statusfeed")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown(log)
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				conn.Close()
				log.Warn().Int("max", maxConnections).Msg("status feed connection rejected: at capacity")
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
			log.Info().Int("total", len(h.clients)).Msg("status feed client registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Info().Int("total", len(h.clients)).Msg("status feed client unregistered")

		case <-ticker.C:
			h.broadcast(ctx, log)
		}
	}
}

func (h *Hub) broadcast(ctx context.Context, log zerolog.Logger) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	snap := h.source.Collect(ctx)
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			log.Warn().Err(err).Msg("status feed write error")
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown(log zerolog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	log.Info().Int("clients", len(h.clients)).Msg("shutting down status feed hub")
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a new client connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
