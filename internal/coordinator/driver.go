package coordinator

import "log"

// Driver is the protocol state machine. One instance exists per
// training campaign; it is created fresh, never reset, and is not
// safe for concurrent use — the host must serialize calls to its entry
// points (spec.md §5).
type Driver struct {
	settings Settings
	counters Counters

	currentRound uint32

	// isTrainingComplete latches true once currentRound == settings.Rounds
	// after a successful aggregation. Never cleared.
	isTrainingComplete bool

	// waitingForAggregation is true iff an aggregation has been
	// requested but not yet concluded.
	waitingForAggregation bool

	events []Event
}

// NewDriver creates a Driver for round 0 with fresh (zero) counters,
// both flags false, and an empty event queue.
func NewDriver(settings Settings) *Driver {
	return &Driver{settings: settings}
}

// Counters returns a snapshot of the current population counters.
func (d *Driver) Counters() Counters {
	return d.counters
}

// CurrentRound returns the zero-based index of the round in progress.
func (d *Driver) CurrentRound() uint32 {
	return d.currentRound
}

// IsTrainingComplete reports whether the campaign has finished.
func (d *Driver) IsTrainingComplete() bool {
	return d.isTrainingComplete
}

// WaitingForAggregation reports whether an aggregation is in flight.
func (d *Driver) WaitingForAggregation() bool {
	return d.waitingForAggregation
}

// NextEvent pops and returns the oldest pending outbound event, or
// false when the queue is empty.
func (d *Driver) NextEvent() (Event, bool) {
	if len(d.events) == 0 {
		return Event{}, false
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, true
}

func (d *Driver) emit(ev Event) {
	d.events = append(d.events, ev)
}

// selectionNeed returns the number of additional clients that should
// be selected right now, and whether a selection should run at all
// (spec.md §4.1).
func (d *Driver) selectionNeed() (uint32, bool) {
	if d.isTrainingComplete || d.waitingForAggregation {
		return 0, false
	}

	participants := d.counters.Participants()
	if participants >= d.settings.minimumParticipants() {
		return 0, false
	}

	total := participants + d.counters.Waiting
	if total < d.settings.MinClients {
		return 0, false
	}

	target := ceilUint32(d.settings.ParticipantsRatio * float64(total))
	if target <= participants {
		return 0, false
	}
	return target - participants, true
}

func ceilUint32(v float64) uint32 {
	n := uint32(v)
	if float64(n) < v {
		n++
	}
	return n
}

// maybeStartSelection re-evaluates the selection policy and, if
// additional clients are needed, emits RunSelection. This is the
// driver's single point of selection initiation; every state-changing
// entry point ends by calling it.
func (d *Driver) maybeStartSelection() {
	if need, ok := d.selectionNeed(); ok {
		d.emit(Event{Kind: EventRunSelection, Count: need})
	}
}

// isEndOfRound reports whether the current round is complete: no
// clients remain Selected, and the selection policy would select no
// one.
func (d *Driver) isEndOfRound() bool {
	if d.counters.Selected != 0 {
		return false
	}
	_, wouldSelect := d.selectionNeed()
	return !wouldSelect
}

// RendezVous handles a rendez-vous request from id, currently in
// priorState.
func (d *Driver) RendezVous(id string, priorState ClientState) RendezVousResponse {
	if d.isTrainingComplete {
		return RendezVousReject
	}

	switch priorState {
	case Unknown:
		d.counters.Waiting++
		d.emit(Event{Kind: EventAccept, ID: id})
	case Waiting:
		// no-op: re-entrant rendez-vous from an already-waiting client.
	case Selected:
		// Restart mid-round: drop from this round, keep eligible for
		// the next. Mitigates connect-then-drop attacks without
		// penalizing honest reconnects.
		d.counters.Selected--
		d.counters.Ignored++
		d.emit(Event{Kind: EventSetState, ID: id, NewState: Ignored})
	case Done, DoneAndInactive:
		d.counters.Ignored++
		d.emit(Event{Kind: EventSetState, ID: id, NewState: Ignored})
	case Ignored:
		// no-op.
	}

	d.maybeStartSelection()
	return RendezVousAccept
}

// HeartBeat handles a heartbeat from id, currently in priorState.
func (d *Driver) HeartBeat(id string, priorState ClientState) HeartBeatResponse {
	if d.isTrainingComplete {
		d.emit(Event{Kind: EventResetHeartBeat, ID: id})
		return heartBeatFinishResponse
	}

	switch priorState {
	case Unknown, DoneAndInactive:
		return heartBeatRejectResponse
	case Waiting, Done, Ignored:
		d.emit(Event{Kind: EventResetHeartBeat, ID: id})
		return heartBeatStandByResponse
	case Selected:
		d.emit(Event{Kind: EventResetHeartBeat, ID: id})
		return HeartBeatRoundResponse(d.currentRound)
	default:
		return heartBeatRejectResponse
	}
}

// HeartBeatTimeout informs the driver that id missed its heartbeat
// deadline. Always emits Remove(id).
//
// Unknown and DoneAndInactive are invariant violations: the host
// should never have armed a timer for a non-live client. As in the
// reference implementation, this terminates the process — the host
// has a bug and recovery is undefined (spec.md §7.1, §9).
func (d *Driver) HeartBeatTimeout(id string, priorState ClientState) {
	d.emit(Event{Kind: EventRemove, ID: id})

	switch priorState {
	case Waiting:
		d.counters.Waiting--
	case Selected:
		d.counters.Selected--
	case Ignored:
		d.counters.Ignored--
	case Done:
		// Subtle, preserved exactly from the reference: done is not
		// decremented here even though the client moves to
		// DoneAndInactive. See spec.md §9 open question 1.
		d.emit(Event{Kind: EventSetState, ID: id, NewState: DoneAndInactive})
		d.counters.DoneAndInactive++
	case Unknown:
		log.Panicf("coordinator: invariant violation: heartbeat timeout for unknown client %s", id)
	case DoneAndInactive:
		log.Panicf("coordinator: invariant violation: heartbeat timeout for done-and-inactive client %s", id)
	}

	d.maybeStartSelection()
}

// StartTraining handles a start-training request. Pure: no mutation,
// no events.
func (d *Driver) StartTraining(priorState ClientState) StartTrainingResponse {
	if priorState == Selected && !d.isTrainingComplete {
		return StartTrainingAccept
	}
	return StartTrainingReject
}

// EndTraining handles an end-training report for id.
func (d *Driver) EndTraining(id string, success bool, priorState ClientState) {
	if d.isTrainingComplete || d.waitingForAggregation {
		log.Printf("coordinator: warn: end_training for %s discarded (training_complete=%v waiting_for_aggregation=%v)",
			id, d.isTrainingComplete, d.waitingForAggregation)
		return
	}

	if priorState != Selected {
		return
	}

	d.counters.Selected--

	if success {
		d.emit(Event{Kind: EventSetState, ID: id, NewState: Done})
		d.counters.Done++

		if d.isEndOfRound() {
			d.emit(Event{Kind: EventRunAggregation})
			d.waitingForAggregation = true
			d.emit(Event{Kind: EventResetAll})
			d.counters.Waiting += d.counters.Done + d.counters.Ignored
			d.counters.Done = 0
			d.counters.DoneAndInactive = 0
			d.counters.Ignored = 0
		}
	} else {
		d.emit(Event{Kind: EventSetState, ID: id, NewState: Ignored})
		d.counters.Ignored++
	}

	d.maybeStartSelection()
}

// EndAggregation handles the aggregator's success/failure notification.
func (d *Driver) EndAggregation(success bool) {
	if !d.waitingForAggregation {
		log.Printf("coordinator: error: end_aggregation called while not waiting for aggregation")
		return
	}
	d.waitingForAggregation = false

	if success {
		d.emit(Event{Kind: EventEndRound, Round: d.currentRound})
		d.currentRound++
	}

	if d.currentRound == d.settings.Rounds {
		d.isTrainingComplete = true
	} else {
		d.maybeStartSelection()
	}
}

// Candidate is a (id, state) pair offered to Select by the host's
// selector collaborator.
type Candidate struct {
	ID    string
	State ClientState
}

// Select consumes candidates, bounded by the current selection need,
// selecting Waiting clients and discarding stale ones. If additional
// need remains after the sequence is exhausted, it re-emits
// RunSelection so the host can retry.
func (d *Driver) Select(candidates []Candidate) {
	need, ok := d.selectionNeed()
	if ok {
		for i := 0; i < len(candidates) && need > 0; i++ {
			c := candidates[i]
			if c.State != Waiting {
				continue
			}
			d.counters.Selected++
			d.counters.Waiting--
			d.emit(Event{Kind: EventSetState, ID: c.ID, NewState: Selected})
			need--
		}
	}
	d.maybeStartSelection()
}
