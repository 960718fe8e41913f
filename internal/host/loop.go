// Package host wires a campaign's coordinator.Driver together with its
// collaborators: the client registry, the selector, the aggregator,
// and durable history. It is the only code permitted to call into a
// Driver, serializing every entry point behind one mutex per campaign
// (spec.md §5) and applying the Driver's outbound Event queue against
// the registry and the other collaborators after each call.
//
// Grounded on control_plane/reconciler.go's Reconciler: a single
// exclusive worker per managed resource (there, a node; here, a
// campaign), a hard per-call timeout, and best-effort metrics/side
// effects that never block the critical path.
package host

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fedcoord/coordinator/internal/aggregator"
	"github.com/fedcoord/coordinator/internal/coordinator"
	"github.com/fedcoord/coordinator/internal/dashboard"
	"github.com/fedcoord/coordinator/internal/history"
	"github.com/fedcoord/coordinator/internal/observability"
	"github.com/fedcoord/coordinator/internal/registry"
	"github.com/fedcoord/coordinator/internal/selector"
)

// leaderGate is the one method of internal/coordination.LeaderElector a
// Loop needs: whether this replica currently holds the campaign's
// lease. A
// nil leaderGate (the zero value of the field below) means no election
// is configured, so every call proceeds unconditionally — the
// single-replica deployment mode.
type leaderGate interface {
	IsLeader() bool
}

// Loop owns exactly one campaign's Driver and every call that reaches
// it. Every exported method here corresponds to one driver entry point
// plus the event-application work that must happen around it.
type Loop struct {
	campaignID string

	mu     sync.Mutex
	driver *coordinator.Driver

	registry   registry.Registry
	selector   selector.Selector
	aggregator aggregator.Aggregator
	history    history.History // optional; nil disables durable round logging

	// elector gates every driver entry point on IsLeader() when set
	// (multi-replica deployments). nil in single-replica/dev mode.
	elector leaderGate

	maxCallRuntime time.Duration
}

// New builds a Loop for one campaign. history may be nil.
func New(campaignID string, settings coordinator.Settings, reg registry.Registry, sel selector.Selector, agg aggregator.Aggregator, hist history.History) *Loop {
	return &Loop{
		campaignID:     campaignID,
		driver:         coordinator.NewDriver(settings),
		registry:       reg,
		selector:       sel,
		aggregator:     agg,
		history:        hist,
		maxCallRuntime: 5 * time.Second,
	}
}

// Snapshot implements dashboard.SnapshotSource.
func (l *Loop) Snapshot(campaignID string) (dashboard.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counters := l.driver.Counters()
	l.publishMetrics(counters)
	return dashboard.Snapshot{
		CampaignID:         l.campaignID,
		Round:              l.driver.CurrentRound(),
		IsTrainingComplete: l.driver.IsTrainingComplete(),
		Counters: map[string]int{
			"waiting":           int(counters.Waiting),
			"selected":          int(counters.Selected),
			"done":              int(counters.Done),
			"done_and_inactive": int(counters.DoneAndInactive),
			"ignored":           int(counters.Ignored),
		},
	}, nil
}

// publishMetrics pushes the driver's current counters, round, and
// completion flag to the per-campaign gauges scraped over /metrics.
// Must be called with l.mu held.
func (l *Loop) publishMetrics(counters coordinator.Counters) {
	observability.PopulationWaiting.WithLabelValues(l.campaignID).Set(float64(counters.Waiting))
	observability.PopulationSelected.WithLabelValues(l.campaignID).Set(float64(counters.Selected))
	observability.PopulationDone.WithLabelValues(l.campaignID).Set(float64(counters.Done))
	observability.PopulationDoneAndInactive.WithLabelValues(l.campaignID).Set(float64(counters.DoneAndInactive))
	observability.PopulationIgnored.WithLabelValues(l.campaignID).Set(float64(counters.Ignored))
	observability.CurrentRound.WithLabelValues(l.campaignID).Set(float64(l.driver.CurrentRound()))

	complete := 0.0
	if l.driver.IsTrainingComplete() {
		complete = 1.0
	}
	observability.TrainingComplete.WithLabelValues(l.campaignID).Set(complete)
}

// requireLeader rejects the call when an elector is configured and
// this replica doesn't currently hold the campaign's lease, so only
// the elected leader ever drives a campaign's Driver (spec.md §5).
// Must be called with l.mu held.
func (l *Loop) requireLeader() error {
	if l.elector != nil && !l.elector.IsLeader() {
		return fmt.Errorf("host: campaign %s: this replica is not the elected leader", l.campaignID)
	}
	return nil
}

// RendezVous looks up clientID's prior state and runs a rendez-vous
// request against the driver, applying any resulting events.
func (l *Loop) RendezVous(ctx context.Context, clientID string) (coordinator.RendezVousResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, l.maxCallRuntime)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireLeader(); err != nil {
		return coordinator.RendezVousReject, err
	}

	prior, err := l.registry.State(ctx, l.campaignID, clientID)
	if err != nil {
		return coordinator.RendezVousReject, fmt.Errorf("host: rendezvous state lookup: %w", err)
	}

	resp := l.driver.RendezVous(clientID, prior)
	if err := l.drain(ctx); err != nil {
		return resp, err
	}
	return resp, nil
}

// HeartBeat looks up clientID's prior state and runs a heartbeat
// request against the driver.
func (l *Loop) HeartBeat(ctx context.Context, clientID string) (coordinator.HeartBeatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, l.maxCallRuntime)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireLeader(); err != nil {
		return coordinator.HeartBeatRoundResponse(0), err
	}

	prior, err := l.registry.State(ctx, l.campaignID, clientID)
	if err != nil {
		return coordinator.HeartBeatRoundResponse(0), fmt.Errorf("host: heartbeat state lookup: %w", err)
	}

	resp := l.driver.HeartBeat(clientID, prior)
	if err := l.drain(ctx); err != nil {
		return resp, err
	}
	return resp, nil
}

// HeartBeatTimeout implements coordination.TimeoutHandler: the
// heartbeat monitor reports a stale client here instead of touching
// the driver directly, so timer-driven and request-driven calls never
// race on the same campaign.
func (l *Loop) HeartBeatTimeout(ctx context.Context, campaignID, clientID string, priorState coordinator.ClientState) {
	if campaignID != l.campaignID {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireLeader(); err != nil {
		return
	}

	l.driver.HeartBeatTimeout(clientID, priorState)
	if err := l.drain(ctx); err != nil {
		log.Printf("host: campaign %s: applying heartbeat timeout events for %s: %v", l.campaignID, clientID, err)
	}
}

// StartTraining looks up clientID's prior state and runs a
// start-training request against the driver. Pure on the driver side;
// no events are ever produced by this entry point.
func (l *Loop) StartTraining(ctx context.Context, clientID string) (coordinator.StartTrainingResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireLeader(); err != nil {
		return coordinator.StartTrainingReject, err
	}

	prior, err := l.registry.State(ctx, l.campaignID, clientID)
	if err != nil {
		return coordinator.StartTrainingReject, fmt.Errorf("host: start_training state lookup: %w", err)
	}
	return l.driver.StartTraining(prior), nil
}

// EndTraining reports clientID's training outcome to the driver and
// applies any resulting events, including running aggregation should
// this call end the round.
func (l *Loop) EndTraining(ctx context.Context, clientID string, success bool) error {
	ctx, cancel := context.WithTimeout(ctx, l.maxCallRuntime)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireLeader(); err != nil {
		return err
	}

	prior, err := l.registry.State(ctx, l.campaignID, clientID)
	if err != nil {
		return fmt.Errorf("host: end_training state lookup: %w", err)
	}

	l.driver.EndTraining(clientID, success, prior)
	return l.drain(ctx)
}

// SubmitContribution records a participant's trained weights for the
// in-flight round's aggregation.
func (l *Loop) SubmitContribution(c aggregator.Contribution) {
	l.aggregator.Submit(l.campaignID, c)
}

// drain applies every queued event against the registry and the other
// collaborators, in emission order. Must be called with l.mu held.
func (l *Loop) drain(ctx context.Context) error {
	for {
		ev, ok := l.driver.NextEvent()
		if !ok {
			l.publishMetrics(l.driver.Counters())
			return nil
		}
		if err := l.apply(ctx, ev); err != nil {
			return fmt.Errorf("host: applying %s: %w", ev, err)
		}
	}
}

func (l *Loop) apply(ctx context.Context, ev coordinator.Event) error {
	switch ev.Kind {
	case coordinator.EventAccept:
		return l.registry.Accept(ctx, l.campaignID, ev.ID)
	case coordinator.EventRemove:
		return l.registry.Remove(ctx, l.campaignID, ev.ID)
	case coordinator.EventSetState:
		return l.registry.SetState(ctx, l.campaignID, ev.ID, ev.NewState)
	case coordinator.EventResetAll:
		return l.registry.ResetAll(ctx, l.campaignID)
	case coordinator.EventResetHeartBeat:
		return l.registry.ResetHeartBeat(ctx, l.campaignID, ev.ID, time.Now())
	case coordinator.EventRunSelection:
		return l.runSelection(ctx, ev.Count)
	case coordinator.EventRunAggregation:
		return l.runAggregation(ctx)
	case coordinator.EventEndRound:
		observability.AggregationsRun.WithLabelValues(l.campaignID, "success").Inc()
		if l.history != nil {
			if err := l.history.RecordRound(ctx, l.campaignID, ev.Round); err != nil {
				log.Printf("host: campaign %s: recording round %d: %v", l.campaignID, ev.Round, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unhandled event kind %s", ev.Kind)
	}
}

func (l *Loop) runSelection(ctx context.Context, n uint32) error {
	observability.SelectionsRequested.WithLabelValues(l.campaignID).Inc()

	candidates, err := l.selector.Select(ctx, l.campaignID, int(n))
	if err != nil {
		return fmt.Errorf("selector: %w", err)
	}
	l.driver.Select(candidates)
	return l.drain(ctx)
}

func (l *Loop) runAggregation(ctx context.Context) error {
	weights, err := l.aggregator.Aggregate(ctx, l.campaignID)
	success := err == nil
	if !success {
		log.Printf("host: campaign %s: aggregation failed: %v", l.campaignID, err)
		observability.AggregationsRun.WithLabelValues(l.campaignID, "failure").Inc()
	} else {
		_ = weights // published to the model store by the caller in a full deployment
	}

	l.driver.EndAggregation(success)
	return l.drain(ctx)
}
