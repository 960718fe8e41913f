// Package coordination supplies the host-side timers and leader
// election the driver assumes but never owns (spec.md §5, §7.1): the
// driver only ever observes "time passed" as a heartbeat_timeout call.
package coordination

import (
	"context"
	"log"
	"time"

	"github.com/fedcoord/coordinator/internal/coordinator"
	"github.com/fedcoord/coordinator/internal/observability"
	"github.com/fedcoord/coordinator/internal/registry"
)

// TimeoutHandler is the host's single serialized entry point for
// delivering a heartbeat_timeout to a campaign's driver. The monitor
// never touches a Driver directly — only the host loop is allowed to
// call into it, so concurrent timer and request processing can never
// race on the same driver instance (spec.md §5).
type TimeoutHandler interface {
	HeartBeatTimeout(ctx context.Context, campaignID, clientID string, priorState coordinator.ClientState)
}

// HeartBeatMonitor periodically scans a campaign's registry for
// clients whose last heartbeat predates threshold and reports them to
// handler. Grounded on the teacher's AgentMonitor: same poll-and-scan
// shape, generalized from a single global agent list to a per-campaign
// client population.
type HeartBeatMonitor struct {
	registry   registry.Registry
	handler    TimeoutHandler
	campaignID string
	interval   time.Duration
	threshold  time.Duration
}

// NewHeartBeatMonitor builds a monitor for one campaign.
func NewHeartBeatMonitor(reg registry.Registry, handler TimeoutHandler, campaignID string, interval, threshold time.Duration) *HeartBeatMonitor {
	return &HeartBeatMonitor{
		registry:   reg,
		handler:    handler,
		campaignID: campaignID,
		interval:   interval,
		threshold:  threshold,
	}
}

// Start runs the scan loop until ctx is cancelled.
func (m *HeartBeatMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *HeartBeatMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("coordination: starting heartbeat monitor for campaign %s (interval=%v threshold=%v)",
		m.campaignID, m.interval, m.threshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *HeartBeatMonitor) scan(ctx context.Context) {
	records, err := m.registry.List(ctx, m.campaignID)
	if err != nil {
		log.Printf("coordination: heartbeat monitor: list campaign %s: %v", m.campaignID, err)
		return
	}

	now := time.Now()
	live := 0
	for _, rec := range records {
		priorState, err := m.registry.State(ctx, m.campaignID, rec.ClientID)
		if err != nil {
			log.Printf("coordination: heartbeat monitor: state lookup for %s: %v", rec.ClientID, err)
			continue
		}
		// A client already DoneAndInactive has nothing left for a
		// timeout to do, and driver.HeartBeatTimeout panics on a
		// second delivery for it (coordinator.Driver, priorState
		// invariant). Unknown means the record disappeared between
		// List and State; either way there is no live deadline to
		// enforce here.
		if priorState == coordinator.DoneAndInactive || priorState == coordinator.Unknown {
			continue
		}

		if rec.LastHeartbeat.IsZero() {
			// Never heartbeated (e.g. just accepted); use JoinedAt as
			// the clock origin instead.
			if now.Sub(rec.JoinedAt) <= m.threshold {
				live++
			}
			continue
		}
		if now.Sub(rec.LastHeartbeat) > m.threshold {
			observability.HeartbeatTimeouts.WithLabelValues(m.campaignID, priorState.String()).Inc()
			m.handler.HeartBeatTimeout(ctx, m.campaignID, rec.ClientID, priorState)
			continue
		}
		live++
	}
	observability.ConnectedClients.WithLabelValues(m.campaignID).Set(float64(live))
}
