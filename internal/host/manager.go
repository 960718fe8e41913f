package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fedcoord/coordinator/internal/aggregator"
	"github.com/fedcoord/coordinator/internal/coordination"
	"github.com/fedcoord/coordinator/internal/coordinator"
	"github.com/fedcoord/coordinator/internal/history"
	"github.com/fedcoord/coordinator/internal/registry"
	"github.com/fedcoord/coordinator/internal/selector"
)

// Manager hosts one Loop per campaign running on this coordinatord
// replica (SPEC_FULL.md §13: one deployment, many concurrent
// campaigns). Campaigns are created on demand by CreateCampaign and
// looked up by the HTTP and WebSocket layers via Loop.
type Manager struct {
	registry registry.Registry
	agg      aggregator.Aggregator
	history  history.History

	// lease/epochs back per-campaign leader election. Both nil disables
	// election entirely (single-replica deployments): every Loop's
	// elector field stays nil and every call proceeds unconditionally.
	lease    coordination.LeaseBackend
	epochs   coordination.DurableEpochSource
	nodeID   string
	leaseTTL time.Duration

	mu    sync.RWMutex
	loops map[string]*Loop
}

// NewManager builds a Manager sharing one registry, aggregator, and
// history backend across every campaign it hosts. lease and epochs may
// both be nil to run without leader election; nodeID identifies this
// replica in election logs and metrics.
func NewManager(reg registry.Registry, agg aggregator.Aggregator, hist history.History, lease coordination.LeaseBackend, epochs coordination.DurableEpochSource, nodeID string, leaseTTL time.Duration) *Manager {
	return &Manager{
		registry: reg,
		agg:      agg,
		history:  hist,
		lease:    lease,
		epochs:   epochs,
		nodeID:   nodeID,
		leaseTTL: leaseTTL,
		loops:    make(map[string]*Loop),
	}
}

// CreateCampaign registers a new campaign with settings, rejecting a
// duplicate campaignID. When the Manager carries a lease backend and
// epoch source, a LeaderElector is started for the campaign and wired
// into the Loop so only the elected replica drives it (spec.md §5).
func (m *Manager) CreateCampaign(campaignID string, settings coordinator.Settings) (*Loop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.loops[campaignID]; exists {
		return nil, fmt.Errorf("host: campaign %s already exists", campaignID)
	}

	loop := New(campaignID, settings, m.registry, nil, m.agg, m.history)
	loop.selector = selector.NewRendezvousSelector(m.registry, loop.driver.CurrentRound)

	if m.lease != nil && m.epochs != nil {
		elector := coordination.NewLeaderElector(m.lease, m.epochs, campaignID, m.nodeID, m.leaseTTL)
		elector.Start(context.Background())
		loop.elector = elector
	}

	m.loops[campaignID] = loop
	return loop, nil
}

// Loop looks up an existing campaign's Loop.
func (m *Manager) Loop(campaignID string) (*Loop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loops[campaignID]
	return l, ok
}

// Campaigns lists every campaign ID this replica currently hosts.
func (m *Manager) Campaigns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.loops))
	for id := range m.loops {
		ids = append(ids, id)
	}
	return ids
}
