// Package coordinator implements the federated-learning coordinator's
// protocol state machine: a pure, synchronous transformation from
// (current state, input event) to (new state, outbound events, reply).
//
// The Driver has no I/O, no timers, and no goroutines of its own. It
// never reads the client registry directly — every entry point takes
// the caller-supplied prior state as an argument, and every
// side-effecting intent leaves the driver as an Event on the outbound
// queue for the host to apply.
package coordinator

import "fmt"

// ClientState is the lifecycle bucket a client occupies, as seen by the
// driver. Unknown is the absence of a record and is never counted.
type ClientState int

const (
	Unknown ClientState = iota
	Waiting
	Selected
	Done
	DoneAndInactive
	Ignored
)

func (s ClientState) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Waiting:
		return "Waiting"
	case Selected:
		return "Selected"
	case Done:
		return "Done"
	case DoneAndInactive:
		return "DoneAndInactive"
	case Ignored:
		return "Ignored"
	default:
		return "Invalid"
	}
}

// Counters is the population tuple. Unknown clients are never counted.
type Counters struct {
	Waiting         uint32
	Selected        uint32
	Done            uint32
	DoneAndInactive uint32
	Ignored         uint32
}

func (c Counters) String() string {
	return fmt.Sprintf("Counters(waiting=%d selected=%d done=%d done_and_inactive=%d ignored=%d)",
		c.Waiting, c.Selected, c.Done, c.DoneAndInactive, c.Ignored)
}

// Participants returns the number of clients participating in the
// current round: Selected + Done + DoneAndInactive.
func (c Counters) Participants() uint32 {
	return c.Selected + c.Done + c.DoneAndInactive
}

// Settings is the driver's immutable configuration (spec.md §6.1).
type Settings struct {
	// Rounds is the number of rounds to run; training completes after
	// the r-th successful aggregation.
	Rounds uint32
	// ParticipantsRatio is the fraction of known clients selected per
	// round, in (0, 1].
	ParticipantsRatio float64
	// MinClients is the minimum known clients before selection may
	// start.
	MinClients uint32
}

// minimumParticipants is floor(ParticipantsRatio * MinClients) — the
// lower bound on participants before selection halts.
func (s Settings) minimumParticipants() uint32 {
	return uint32(s.ParticipantsRatio * float64(s.MinClients))
}

// EventKind tags an outbound Event.
type EventKind int

const (
	EventAccept EventKind = iota
	EventRemove
	EventSetState
	EventResetAll
	EventResetHeartBeat
	EventRunAggregation
	EventRunSelection
	EventEndRound
)

func (k EventKind) String() string {
	switch k {
	case EventAccept:
		return "Accept"
	case EventRemove:
		return "Remove"
	case EventSetState:
		return "SetState"
	case EventResetAll:
		return "ResetAll"
	case EventResetHeartBeat:
		return "ResetHeartBeat"
	case EventRunAggregation:
		return "RunAggregation"
	case EventRunSelection:
		return "RunSelection"
	case EventEndRound:
		return "EndRound"
	default:
		return "Invalid"
	}
}

// Event is an outbound, tagged record the host must apply externally.
// Only the fields relevant to Kind are populated:
//
//	Accept(ID), Remove(ID), SetState(ID, NewState), ResetAll,
//	ResetHeartBeat(ID), RunAggregation, RunSelection(Count), EndRound(Round)
type Event struct {
	Kind     EventKind
	ID       string
	NewState ClientState
	Count    uint32
	Round    uint32
}

func (e Event) String() string {
	switch e.Kind {
	case EventAccept, EventRemove, EventResetHeartBeat:
		return fmt.Sprintf("%s(%s)", e.Kind, e.ID)
	case EventSetState:
		return fmt.Sprintf("SetState(%s, %s)", e.ID, e.NewState)
	case EventRunSelection:
		return fmt.Sprintf("RunSelection(%d)", e.Count)
	case EventEndRound:
		return fmt.Sprintf("EndRound(%d)", e.Round)
	default:
		return e.Kind.String()
	}
}

// RendezVousResponse is the reply to a rendez-vous request.
type RendezVousResponse int

const (
	RendezVousAccept RendezVousResponse = iota
	RendezVousReject
)

func (r RendezVousResponse) String() string {
	if r == RendezVousAccept {
		return "Accept"
	}
	return "Reject"
}

// HeartBeatResponse is the reply to a heartbeat request.
type HeartBeatResponse struct {
	kind  heartBeatKind
	round uint32
}

type heartBeatKind int

const (
	HeartBeatReject heartBeatKind = iota
	HeartBeatStandBy
	HeartBeatRound
	HeartBeatFinish
)

// HeartBeatRoundResponse builds the Round(r) reply variant.
func HeartBeatRoundResponse(round uint32) HeartBeatResponse {
	return HeartBeatResponse{kind: HeartBeatRound, round: round}
}

var (
	heartBeatRejectResponse  = HeartBeatResponse{kind: HeartBeatReject}
	heartBeatStandByResponse = HeartBeatResponse{kind: HeartBeatStandBy}
	heartBeatFinishResponse  = HeartBeatResponse{kind: HeartBeatFinish}
)

// Kind reports which reply variant this is.
func (r HeartBeatResponse) Kind() heartBeatKind { return r.kind }

// Round returns the round number carried by a Round(r) reply. Only
// meaningful when Kind() == HeartBeatRound.
func (r HeartBeatResponse) Round() uint32 { return r.round }

func (r HeartBeatResponse) String() string {
	switch r.kind {
	case HeartBeatReject:
		return "Reject"
	case HeartBeatStandBy:
		return "StandBy"
	case HeartBeatRound:
		return fmt.Sprintf("Round(%d)", r.round)
	case HeartBeatFinish:
		return "Finish"
	default:
		return "Invalid"
	}
}

// StartTrainingResponse is the reply to a start-training request.
type StartTrainingResponse int

const (
	StartTrainingAccept StartTrainingResponse = iota
	StartTrainingReject
)

func (r StartTrainingResponse) String() string {
	if r == StartTrainingAccept {
		return "Accept"
	}
	return "Reject"
}
