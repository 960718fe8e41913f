package registry

import (
	"context"
	"time"

	"github.com/fedcoord/coordinator/internal/coordinator"
)

// Registry is the client-registry collaborator: it owns the
// (client-id -> state) mapping the driver assumes but never reads
// directly. The host applies every coordinator.Event against a
// Registry after draining the driver's queue.
type Registry interface {
	// Accept registers id as Waiting, creating a record if none exists.
	Accept(ctx context.Context, campaignID, clientID string) error
	// Remove forgets id entirely.
	Remove(ctx context.Context, campaignID, clientID string) error
	// SetState updates the recorded state for id.
	SetState(ctx context.Context, campaignID, clientID string, state coordinator.ClientState) error
	// ResetAll moves every surviving client to Waiting and discards
	// DoneAndInactive clients.
	ResetAll(ctx context.Context, campaignID string) error
	// ResetHeartBeat restarts the heartbeat deadline for id.
	ResetHeartBeat(ctx context.Context, campaignID, clientID string, now time.Time) error

	// State returns the prior state the driver needs for its next
	// entry point call. Unknown clients return coordinator.Unknown.
	State(ctx context.Context, campaignID, clientID string) (coordinator.ClientState, error)
	// List returns every record known for a campaign.
	List(ctx context.Context, campaignID string) ([]Record, error)
	// ListByState returns every record in a given state, for selector
	// candidate enumeration and heartbeat-deadline scanning.
	ListByState(ctx context.Context, campaignID string, state coordinator.ClientState) ([]Record, error)
}

// stateString and parseState translate between the driver's closed
// enum and the wire/storage representation, so Redis and logs carry
// readable state names instead of raw integers.
func stateString(s coordinator.ClientState) string {
	return s.String()
}

func parseState(s string) coordinator.ClientState {
	switch s {
	case "Waiting":
		return coordinator.Waiting
	case "Selected":
		return coordinator.Selected
	case "Done":
		return coordinator.Done
	case "DoneAndInactive":
		return coordinator.DoneAndInactive
	case "Ignored":
		return coordinator.Ignored
	default:
		return coordinator.Unknown
	}
}
