// Package aggregator is the aggregator collaborator: it combines
// participants' trained contributions and reports success or failure
// back to the driver through coordinator.Driver.EndAggregation.
package aggregator

import (
	"context"
	"fmt"
	"sync"
)

// Contribution is one participant's reported update: flat model
// weights (convention: last element is the bias term, matching the
// reference client's FlatWeights serialisation) and the size of the
// local dataset it was trained on, used as the averaging weight.
type Contribution struct {
	ClientID string
	Weights  []float64
	DataSize int
}

// Aggregator performs FedAvg over a round's submitted contributions
// and reports the outcome upstream.
type Aggregator interface {
	// Submit records a participant's contribution for a campaign's
	// current round. Safe for concurrent callers across a round.
	Submit(campaignID string, c Contribution)
	// Aggregate combines every contribution submitted for campaignID
	// since the last Aggregate, producing the new global weights, and
	// clears the round's buffer regardless of outcome.
	Aggregate(ctx context.Context, campaignID string) ([]float64, error)
}

// FedAvg implements a data-size-weighted mean over flat weight
// vectors: weighted_mean = sum(w_i * n_i) / sum(n_i).
type FedAvg struct {
	mu     sync.Mutex
	rounds map[string][]Contribution
}

// NewFedAvg returns an empty aggregator.
func NewFedAvg() *FedAvg {
	return &FedAvg{rounds: make(map[string][]Contribution)}
}

func (f *FedAvg) Submit(campaignID string, c Contribution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds[campaignID] = append(f.rounds[campaignID], c)
}

// Aggregate weight-averages every contribution submitted for
// campaignID. An empty or length-mismatched contribution set is an
// aggregation failure: the host should call
// coordinator.Driver.EndAggregation(false) and retry next round, per
// spec.md §4.2 (no automatic retry is defined by the driver itself).
func (f *FedAvg) Aggregate(ctx context.Context, campaignID string) ([]float64, error) {
	f.mu.Lock()
	contributions := f.rounds[campaignID]
	delete(f.rounds, campaignID)
	f.mu.Unlock()

	if len(contributions) == 0 {
		return nil, fmt.Errorf("aggregator: no contributions submitted for campaign %s", campaignID)
	}

	width := len(contributions[0].Weights)
	if width == 0 {
		return nil, fmt.Errorf("aggregator: contribution from %s has no weights", contributions[0].ClientID)
	}

	totalSize := 0
	merged := make([]float64, width)
	for _, c := range contributions {
		if len(c.Weights) != width {
			return nil, fmt.Errorf("aggregator: weight vector width mismatch for %s: got %d, want %d",
				c.ClientID, len(c.Weights), width)
		}
		if c.DataSize <= 0 {
			return nil, fmt.Errorf("aggregator: non-positive data size from %s", c.ClientID)
		}
		for i, w := range c.Weights {
			merged[i] += w * float64(c.DataSize)
		}
		totalSize += c.DataSize
	}

	for i := range merged {
		merged[i] /= float64(totalSize)
	}
	return merged, nil
}
