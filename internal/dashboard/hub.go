// Package dashboard broadcasts live campaign snapshots to connected
// operator UIs over WebSocket. Grounded on control_plane/ws_hub.go's
// MetricsHub: single-broadcaster goroutine, register/unregister
// channels, a per-tick fan-out keyed by campaign instead of tenant.
package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxConnections = 200

// Snapshot is the payload pushed to every subscriber of a campaign.
type Snapshot struct {
	CampaignID         string         `json:"campaign_id"`
	Round              uint32         `json:"round"`
	IsTrainingComplete bool           `json:"is_training_complete"`
	Counters           map[string]int `json:"counters"`
}

// SnapshotSource produces the current Snapshot for a campaign. host.Loop
// implements this.
type SnapshotSource interface {
	Snapshot(campaignID string) (Snapshot, error)
}

type registration struct {
	conn       *websocket.Conn
	campaignID string
}

// Hub manages WebSocket connections and broadcasts campaign snapshots.
// A single ticking goroutine avoids one broadcaster per connection.
type Hub struct {
	clients    map[*websocket.Conn]string
	register   chan registration
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	source     SnapshotSource
	interval   time.Duration
}

// NewHub builds a Hub pulling snapshots from source.
func NewHub(source SnapshotSource, interval time.Duration) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]string),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		source:     source,
		interval:   interval,
	}
}

// Run drives the hub's main loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("dashboard: connection rejected, max connections (%d) reached", maxConnections)
				continue
			}
			h.clients[reg.conn] = reg.campaignID
			h.mu.Unlock()
			log.Printf("dashboard: client registered for campaign %s, total %d", reg.campaignID, len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcastAll()
		}
	}
}

func (h *Hub) broadcastAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	campaigns := make(map[string]bool)
	for _, campaignID := range h.clients {
		campaigns[campaignID] = true
	}

	for campaignID := range campaigns {
		snap, err := h.source.Snapshot(campaignID)
		if err != nil {
			log.Printf("dashboard: snapshot for campaign %s: %v", campaignID, err)
			continue
		}

		for conn, cid := range h.clients {
			if cid != campaignID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				log.Printf("dashboard: write error: %v", err)
				go h.Unregister(conn)
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
}

// Register adds a new client connection subscribed to campaignID.
func (h *Hub) Register(conn *websocket.Conn, campaignID string) {
	h.register <- registration{conn: conn, campaignID: campaignID}
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
