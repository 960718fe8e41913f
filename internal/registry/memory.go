package registry

import (
	"context"
	"sync"
	"time"

	"github.com/fedcoord/coordinator/internal/coordinator"
)

// MemoryRegistry holds client records in process memory. It implements
// Registry and is used by cmd/coordinatord in single-replica mode and
// by internal/host's tests.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]*Record)}
}

func (r *MemoryRegistry) Accept(ctx context.Context, campaignID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := CampaignKey(campaignID, clientID)
	r.records[key] = &Record{
		ClientID:   clientID,
		CampaignID: campaignID,
		State:      stateString(coordinator.Waiting),
		JoinedAt:   time.Now(),
	}
	return nil
}

func (r *MemoryRegistry) Remove(ctx context.Context, campaignID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, CampaignKey(campaignID, clientID))
	return nil
}

func (r *MemoryRegistry) SetState(ctx context.Context, campaignID, clientID string, state coordinator.ClientState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := CampaignKey(campaignID, clientID)
	rec, ok := r.records[key]
	if !ok {
		rec = &Record{ClientID: clientID, CampaignID: campaignID, JoinedAt: time.Now()}
		r.records[key] = rec
	}
	rec.State = stateString(state)
	return nil
}

func (r *MemoryRegistry) ResetAll(ctx context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := CampaignPrefix(campaignID)
	for key, rec := range r.records {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if rec.State == stateString(coordinator.DoneAndInactive) {
			delete(r.records, key)
			continue
		}
		rec.State = stateString(coordinator.Waiting)
	}
	return nil
}

func (r *MemoryRegistry) ResetHeartBeat(ctx context.Context, campaignID, clientID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := CampaignKey(campaignID, clientID)
	rec, ok := r.records[key]
	if !ok {
		return nil
	}
	rec.LastHeartbeat = now
	return nil
}

func (r *MemoryRegistry) State(ctx context.Context, campaignID, clientID string) (coordinator.ClientState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[CampaignKey(campaignID, clientID)]
	if !ok {
		return coordinator.Unknown, nil
	}
	return parseState(rec.State), nil
}

func (r *MemoryRegistry) List(ctx context.Context, campaignID string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefix := CampaignPrefix(campaignID)
	out := make([]Record, 0, len(r.records))
	for key, rec := range r.records {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (r *MemoryRegistry) ListByState(ctx context.Context, campaignID string, state coordinator.ClientState) ([]Record, error) {
	all, err := r.List(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	want := stateString(state)
	for _, rec := range all {
		if rec.State == want {
			out = append(out, rec)
		}
	}
	return out, nil
}
