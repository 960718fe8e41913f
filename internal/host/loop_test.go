package host

import (
	"context"
	"testing"

	"github.com/fedcoord/coordinator/internal/aggregator"
	"github.com/fedcoord/coordinator/internal/coordinator"
	"github.com/fedcoord/coordinator/internal/registry"
	"github.com/fedcoord/coordinator/internal/selector"
)

func newTestLoop(t *testing.T) (*Loop, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	settings := coordinator.Settings{Rounds: 1, ParticipantsRatio: 1.0, MinClients: 2}
	l := New("camp1", settings, reg, nil, aggregator.NewFedAvg(), nil)
	sel := selector.NewRendezvousSelector(reg, l.driver.CurrentRound)
	l.selector = sel
	return l, reg
}

func TestLoopRendezVousAcceptsUnknownClient(t *testing.T) {
	l, reg := newTestLoop(t)
	ctx := context.Background()

	resp, err := l.RendezVous(ctx, "c1")
	if err != nil {
		t.Fatalf("rendezvous: %v", err)
	}
	if resp != coordinator.RendezVousAccept {
		t.Fatalf("expected Accept, got %s", resp)
	}

	state, err := reg.State(ctx, "camp1", "c1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != coordinator.Waiting {
		t.Fatalf("expected Waiting, got %s", state)
	}
}

func TestLoopFullRoundToCompletion(t *testing.T) {
	l, _ := newTestLoop(t)
	ctx := context.Background()

	if _, err := l.RendezVous(ctx, "c1"); err != nil {
		t.Fatalf("rendezvous c1: %v", err)
	}
	if _, err := l.RendezVous(ctx, "c2"); err != nil {
		t.Fatalf("rendezvous c2: %v", err)
	}

	if l.driver.Counters().Selected != 2 {
		t.Fatalf("expected both clients selected once minimum reached, got %s", l.driver.Counters())
	}

	for _, id := range []string{"c1", "c2"} {
		resp, err := l.StartTraining(ctx, id)
		if err != nil {
			t.Fatalf("start_training %s: %v", id, err)
		}
		if resp != coordinator.StartTrainingAccept {
			t.Fatalf("expected Accept for %s, got %s", id, resp)
		}
		l.SubmitContribution(aggregator.Contribution{ClientID: id, Weights: []float64{1, 2}, DataSize: 10})
	}

	if err := l.EndTraining(ctx, "c1", true); err != nil {
		t.Fatalf("end_training c1: %v", err)
	}
	if err := l.EndTraining(ctx, "c2", true); err != nil {
		t.Fatalf("end_training c2: %v", err)
	}

	if !l.driver.IsTrainingComplete() {
		t.Fatalf("expected training complete after the only configured round finished")
	}
}
