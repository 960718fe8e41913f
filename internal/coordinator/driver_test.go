package coordinator

import "testing"

func settings(rounds uint32, ratio float64, minClients uint32) Settings {
	return Settings{Rounds: rounds, ParticipantsRatio: ratio, MinClients: minClients}
}

func drainEvents(d *Driver) []Event {
	var out []Event
	for {
		ev, ok := d.NextEvent()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestRendezVousUnknownAccepted(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 1))

	resp := d.RendezVous("c1", Unknown)
	if resp != RendezVousAccept {
		t.Fatalf("reply = %v, want Accept", resp)
	}
	if d.Counters().Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", d.Counters().Waiting)
	}

	events := drainEvents(d)
	if len(events) != 2 {
		t.Fatalf("events = %v, want 2", events)
	}
	if events[0].Kind != EventAccept || events[0].ID != "c1" {
		t.Errorf("events[0] = %v, want Accept(c1)", events[0])
	}
	if events[1].Kind != EventRunSelection || events[1].Count != 1 {
		t.Errorf("events[1] = %v, want RunSelection(1)", events[1])
	}
}

func TestRendezVousWaitingIsNoOp(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	d.counters.Waiting = 1

	resp := d.RendezVous("c1", Waiting)
	if resp != RendezVousAccept {
		t.Fatalf("reply = %v, want Accept", resp)
	}
	if d.Counters().Waiting != 1 {
		t.Fatalf("waiting = %d, want unchanged 1", d.Counters().Waiting)
	}
}

func TestRendezVousSelectedDropsToIgnored(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 1))
	d.counters.Selected = 1

	resp := d.RendezVous("c1", Selected)
	if resp != RendezVousAccept {
		t.Fatalf("reply = %v, want Accept", resp)
	}
	if d.Counters().Selected != 0 || d.Counters().Ignored != 1 {
		t.Fatalf("counters = %v, want selected=0 ignored=1", d.Counters())
	}

	events := drainEvents(d)
	if len(events) != 1 || events[0].Kind != EventSetState || events[0].NewState != Ignored {
		t.Fatalf("events = %v, want [SetState(c1, Ignored)]", events)
	}
}

func TestRendezVousDoneAndDoneAndInactiveIgnored(t *testing.T) {
	for _, prior := range []ClientState{Done, DoneAndInactive} {
		d := NewDriver(settings(2, 1.0, 5))
		d.counters.Done = 1

		resp := d.RendezVous("c1", prior)
		if resp != RendezVousAccept {
			t.Fatalf("prior=%v reply = %v, want Accept", prior, resp)
		}
		if d.Counters().Ignored != 1 {
			t.Fatalf("prior=%v ignored = %d, want 1", prior, d.Counters().Ignored)
		}
	}
}

func TestRendezVousIgnoredIsNoOp(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	d.counters.Ignored = 1

	resp := d.RendezVous("c1", Ignored)
	if resp != RendezVousAccept {
		t.Fatalf("reply = %v, want Accept", resp)
	}
	if d.Counters().Ignored != 1 {
		t.Fatalf("ignored = %d, want unchanged 1", d.Counters().Ignored)
	}
}

func TestRendezVousRejectedWhenTrainingComplete(t *testing.T) {
	d := NewDriver(settings(1, 1.0, 1))
	d.isTrainingComplete = true

	resp := d.RendezVous("c1", Unknown)
	if resp != RendezVousReject {
		t.Fatalf("reply = %v, want Reject", resp)
	}
	if len(drainEvents(d)) != 0 {
		t.Fatalf("expected no events once training is complete")
	}
}

func TestHeartBeatMatrix(t *testing.T) {
	cases := []struct {
		prior ClientState
		want  heartBeatKind
	}{
		{Unknown, HeartBeatReject},
		{DoneAndInactive, HeartBeatReject},
		{Waiting, HeartBeatStandBy},
		{Done, HeartBeatStandBy},
		{Ignored, HeartBeatStandBy},
		{Selected, HeartBeatRound},
	}
	for _, c := range cases {
		d := NewDriver(settings(2, 1.0, 5))
		resp := d.HeartBeat("c1", c.prior)
		if resp.Kind() != c.want {
			t.Errorf("prior=%v reply = %v, want kind %v", c.prior, resp, c.want)
		}
		if d.Counters() != (Counters{}) {
			t.Errorf("prior=%v heartbeat mutated counters: %v", c.prior, d.Counters())
		}
	}
}

func TestHeartBeatFinishAfterTrainingComplete(t *testing.T) {
	d := NewDriver(settings(1, 1.0, 1))
	d.isTrainingComplete = true

	resp := d.HeartBeat("c1", Selected)
	if resp.Kind() != HeartBeatFinish {
		t.Fatalf("reply = %v, want Finish", resp)
	}
	events := drainEvents(d)
	if len(events) != 1 || events[0].Kind != EventResetHeartBeat {
		t.Fatalf("events = %v, want [ResetHeartBeat(c1)]", events)
	}
}

func TestHeartBeatTimeoutMatrix(t *testing.T) {
	cases := []struct {
		prior       ClientState
		wantCounter func(Counters) uint32
	}{
		{Waiting, func(c Counters) uint32 { return c.Waiting }},
		{Selected, func(c Counters) uint32 { return c.Selected }},
		{Ignored, func(c Counters) uint32 { return c.Ignored }},
	}
	for _, c := range cases {
		d := NewDriver(settings(2, 1.0, 5))
		switch c.prior {
		case Waiting:
			d.counters.Waiting = 1
		case Selected:
			d.counters.Selected = 1
		case Ignored:
			d.counters.Ignored = 1
		}
		d.HeartBeatTimeout("c1", c.prior)
		if got := c.wantCounter(d.Counters()); got != 0 {
			t.Errorf("prior=%v counter after timeout = %d, want 0", c.prior, got)
		}
	}
}

// TestHeartBeatTimeoutDoneDoesNotDecrementDone preserves the suspected bug
// from the reference: the transition is Done -> DoneAndInactive but `done`
// is left untouched.
func TestHeartBeatTimeoutDoneDoesNotDecrementDone(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	d.counters.Done = 1

	d.HeartBeatTimeout("c1", Done)

	got := d.Counters()
	if got.Done != 1 || got.DoneAndInactive != 1 {
		t.Fatalf("counters = %v, want done=1 done_and_inactive=1", got)
	}

	events := drainEvents(d)
	if len(events) != 2 {
		t.Fatalf("events = %v, want 2", events)
	}
	if events[0].Kind != EventRemove || events[0].ID != "c1" {
		t.Errorf("events[0] = %v, want Remove(c1)", events[0])
	}
	if events[1].Kind != EventSetState || events[1].NewState != DoneAndInactive {
		t.Errorf("events[1] = %v, want SetState(c1, DoneAndInactive)", events[1])
	}
}

func TestHeartBeatTimeoutOnUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for heartbeat timeout on Unknown")
		}
	}()
	d := NewDriver(settings(2, 1.0, 5))
	d.HeartBeatTimeout("c1", Unknown)
}

func TestHeartBeatTimeoutOnDoneAndInactivePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for heartbeat timeout on DoneAndInactive")
		}
	}()
	d := NewDriver(settings(2, 1.0, 5))
	d.HeartBeatTimeout("c1", DoneAndInactive)
}

func TestStartTrainingOnlyAcceptsSelected(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	if resp := d.StartTraining(Selected); resp != StartTrainingAccept {
		t.Errorf("Selected: reply = %v, want Accept", resp)
	}
	for _, prior := range []ClientState{Unknown, Waiting, Done, DoneAndInactive, Ignored} {
		if resp := d.StartTraining(prior); resp != StartTrainingReject {
			t.Errorf("%v: reply = %v, want Reject", prior, resp)
		}
	}
	if len(drainEvents(d)) != 0 {
		t.Fatal("start_training must not emit events")
	}
}

func TestStartTrainingRejectedWhenTrainingComplete(t *testing.T) {
	d := NewDriver(settings(1, 1.0, 1))
	d.isTrainingComplete = true
	if resp := d.StartTraining(Selected); resp != StartTrainingReject {
		t.Fatalf("reply = %v, want Reject", resp)
	}
}

func TestEndTrainingFailureMovesToIgnored(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	d.counters.Selected = 1

	d.EndTraining("c1", false, Selected)

	got := d.Counters()
	if got.Selected != 0 || got.Ignored != 1 {
		t.Fatalf("counters = %v, want selected=0 ignored=1", got)
	}
}

func TestEndTrainingSuccessTriggersEndOfRound(t *testing.T) {
	// Mirrors the seed-suite scenario: last selected client's successful
	// end_training with nothing left waiting merges done+ignored into
	// waiting and requests aggregation.
	d := NewDriver(settings(2, 1.0, 1))
	d.currentRound = 1
	d.counters = Counters{Selected: 1, Done: 5, DoneAndInactive: 3, Ignored: 2}

	d.EndTraining("c1", true, Selected)

	want := Counters{Waiting: 8}
	if d.Counters() != want {
		t.Fatalf("counters = %v, want %v", d.Counters(), want)
	}
	if !d.WaitingForAggregation() {
		t.Fatal("expected waiting_for_aggregation = true")
	}

	events := drainEvents(d)
	if len(events) != 3 {
		t.Fatalf("events = %v, want 3", events)
	}
	if events[0].Kind != EventSetState || events[0].NewState != Done {
		t.Errorf("events[0] = %v, want SetState(c1, Done)", events[0])
	}
	if events[1].Kind != EventRunAggregation {
		t.Errorf("events[1] = %v, want RunAggregation", events[1])
	}
	if events[2].Kind != EventResetAll {
		t.Errorf("events[2] = %v, want ResetAll", events[2])
	}
}

func TestEndTrainingDiscardedWhenWaitingForAggregation(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	d.waitingForAggregation = true
	d.counters.Selected = 1

	d.EndTraining("c1", true, Selected)

	if d.Counters().Selected != 1 {
		t.Fatalf("selected = %d, want unchanged 1", d.Counters().Selected)
	}
	if len(drainEvents(d)) != 0 {
		t.Fatal("expected no events, request should be discarded")
	}
}

func TestEndTrainingDiscardedWhenTrainingComplete(t *testing.T) {
	d := NewDriver(settings(1, 1.0, 1))
	d.isTrainingComplete = true
	d.counters.Selected = 1

	d.EndTraining("c1", true, Selected)

	if d.Counters().Selected != 1 {
		t.Fatalf("selected = %d, want unchanged 1", d.Counters().Selected)
	}
}

func TestEndTrainingStaleStateIsNoOp(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	d.EndTraining("c1", true, Waiting)
	if d.Counters() != (Counters{}) {
		t.Fatalf("counters = %v, want zero", d.Counters())
	}
}

func TestEndAggregationFailureDoesNotAdvanceRound(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 1))
	d.waitingForAggregation = true

	d.EndAggregation(false)

	if d.WaitingForAggregation() {
		t.Fatal("waiting_for_aggregation should clear regardless of success")
	}
	if d.CurrentRound() != 0 {
		t.Fatalf("current_round = %d, want 0", d.CurrentRound())
	}
	if d.IsTrainingComplete() {
		t.Fatal("training must not be complete after a failed aggregation")
	}
	if len(drainEvents(d)) != 0 {
		t.Fatal("expected no events on failed aggregation")
	}
}

func TestEndAggregationMisuseIsIgnored(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	d.EndAggregation(true)
	if d.CurrentRound() != 0 {
		t.Fatalf("current_round = %d, want unchanged 0", d.CurrentRound())
	}
}

func TestEndAggregationSuccessAdvancesRoundAndEmitsEndRound(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 5))
	d.waitingForAggregation = true

	d.EndAggregation(true)

	if d.CurrentRound() != 1 {
		t.Fatalf("current_round = %d, want 1", d.CurrentRound())
	}
	if d.IsTrainingComplete() {
		t.Fatal("training should not be complete after round 1 of 2")
	}

	events := drainEvents(d)
	if len(events) == 0 || events[0].Kind != EventEndRound || events[0].Round != 0 {
		t.Fatalf("events[0] = %v, want EndRound(0)", events)
	}
}

func TestEndAggregationLastRoundCompletesTraining(t *testing.T) {
	d := NewDriver(settings(1, 1.0, 1))
	d.waitingForAggregation = true

	d.EndAggregation(true)

	if !d.IsTrainingComplete() {
		t.Fatal("expected is_training_complete = true after final round")
	}
	if resp := d.StartTraining(Selected); resp != StartTrainingReject {
		t.Fatalf("start_training after completion = %v, want Reject", resp)
	}
}

func TestSelectConsumesOnlyWaitingUpToNeed(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 2))
	d.counters.Waiting = 2

	d.Select([]Candidate{
		{ID: "stale", State: Selected},
		{ID: "c1", State: Waiting},
		{ID: "c2", State: Waiting},
		{ID: "c3", State: Waiting},
	})

	got := d.Counters()
	if got.Selected != 2 || got.Waiting != 0 {
		t.Fatalf("counters = %v, want selected=2 waiting=0", got)
	}

	events := drainEvents(d)
	count := 0
	for _, ev := range events {
		if ev.Kind == EventSetState && ev.NewState == Selected {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("SetState(Selected) events = %d, want 2", count)
	}
}

func TestSelectReemitsRunSelectionWhenNeedRemains(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 3))
	d.counters.Waiting = 3

	d.Select([]Candidate{{ID: "c1", State: Waiting}})

	events := drainEvents(d)
	last := events[len(events)-1]
	if last.Kind != EventRunSelection || last.Count != 2 {
		t.Fatalf("last event = %v, want RunSelection(2)", last)
	}
}

func TestSelectionFiresExactlyAtMinClientsWithRatioOne(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 3))

	d.RendezVous("c1", Unknown)
	drainEvents(d)
	d.RendezVous("c2", Unknown)
	drainEvents(d)

	resp := d.RendezVous("c3", Unknown)
	if resp != RendezVousAccept {
		t.Fatalf("reply = %v, want Accept", resp)
	}

	events := drainEvents(d)
	last := events[len(events)-1]
	if last.Kind != EventRunSelection || last.Count != 3 {
		t.Fatalf("last event = %v, want RunSelection(3)", last)
	}
}

// TestFullTwoRoundCampaign walks the seed-suite end-to-end scenario: two
// clients across two rounds, ending in is_training_complete and every
// subsequent start_training rejected.
func TestFullTwoRoundCampaign(t *testing.T) {
	d := NewDriver(settings(2, 1.0, 2))

	for _, id := range []string{"c1", "c2"} {
		if resp := d.RendezVous(id, Unknown); resp != RendezVousAccept {
			t.Fatalf("rendez_vous(%s) = %v, want Accept", id, resp)
		}
	}
	drainEvents(d)

	for round := uint32(0); round < 2; round++ {
		d.Select([]Candidate{{ID: "c1", State: Waiting}, {ID: "c2", State: Waiting}})
		drainEvents(d)

		for _, id := range []string{"c1", "c2"} {
			if resp := d.StartTraining(Selected); resp != StartTrainingAccept {
				t.Fatalf("round %d: start_training(%s) = %v, want Accept", round, id, resp)
			}
		}

		d.EndTraining("c1", true, Selected)
		drainEvents(d)
		d.EndTraining("c2", true, Selected)
		drainEvents(d)

		if !d.WaitingForAggregation() {
			t.Fatalf("round %d: expected waiting_for_aggregation after both clients finish", round)
		}

		d.EndAggregation(true)
		drainEvents(d)
	}

	if !d.IsTrainingComplete() {
		t.Fatal("expected training complete after two rounds")
	}
	if resp := d.StartTraining(Selected); resp != StartTrainingReject {
		t.Fatalf("start_training after completion = %v, want Reject", resp)
	}
	if resp := d.RendezVous("c3", Unknown); resp != RendezVousReject {
		t.Fatalf("rendez_vous after completion = %v, want Reject", resp)
	}
}
