// Package selector is the selector collaborator the driver calls out
// to via RunSelection(n): given a set of Waiting clients, nominate n
// of them and hand the result back through coordinator.Driver.Select.
package selector

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/dgryski/go-rendezvous"

	"github.com/fedcoord/coordinator/internal/coordinator"
	"github.com/fedcoord/coordinator/internal/registry"
)

// Selector enumerates Waiting candidates for a campaign and ranks
// them for nomination.
type Selector interface {
	Select(ctx context.Context, campaignID string, n int) ([]coordinator.Candidate, error)
}

// RendezvousSelector picks the n Waiting clients with the highest
// rendezvous-hash weight relative to (campaignID, round), so repeated
// RunSelection calls against an unchanged Waiting pool nominate the
// same clients first — useful when more than one selector worker races
// to answer the same RunSelection event.
type RendezvousSelector struct {
	registry registry.Registry
	round    func() uint32
}

// NewRendezvousSelector builds a selector backed by reg. round reports
// the campaign's current round, used as the rendezvous-hash key so
// rankings rotate from round to round instead of always favoring the
// same clients.
func NewRendezvousSelector(reg registry.Registry, round func() uint32) *RendezvousSelector {
	return &RendezvousSelector{registry: reg, round: round}
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Select returns up to n Waiting clients for campaignID, ranked by
// rendezvous weight. Clients are consumed from the ranking one at a
// time via Rendezvous.Remove so each pick reflects the weights of the
// clients not yet chosen — this is what makes the top-n stable under
// partial selection (a candidate from position 2 doesn't change if
// position 1 is later removed from the Waiting pool).
func (s *RendezvousSelector) Select(ctx context.Context, campaignID string, n int) ([]coordinator.Candidate, error) {
	if n <= 0 {
		return nil, nil
	}

	waiting, err := s.registry.ListByState(ctx, campaignID, coordinator.Waiting)
	if err != nil {
		return nil, err
	}
	if len(waiting) == 0 {
		return nil, nil
	}

	ids := make([]string, len(waiting))
	for i, rec := range waiting {
		ids[i] = rec.ClientID
	}

	ring := rendezvous.New(ids, hashString)
	key := fmt.Sprintf("%s:%d", campaignID, s.round())

	out := make([]coordinator.Candidate, 0, n)
	for i := 0; i < n && i < len(ids); i++ {
		pick := ring.Lookup(key)
		out = append(out, coordinator.Candidate{ID: pick, State: coordinator.Waiting})
		ring.Remove(pick)
	}
	return out, nil
}
