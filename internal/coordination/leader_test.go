package coordination

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeLeaseBackend struct {
	mu    sync.Mutex
	owner string
	value string
}

func (f *fakeLeaseBackend) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value != "" {
		return false, nil
	}
	f.value = value
	return true, nil
}

func (f *fakeLeaseBackend) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value == value, nil
}

func (f *fakeLeaseBackend) ReleaseLease(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value == value {
		f.value = ""
	}
	return nil
}

type fakeEpochSource struct {
	mu    sync.Mutex
	value int64
}

func (f *fakeEpochSource) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value++
	return f.value, nil
}

func TestLeaderElectorBecomesLeaderAndCallsOnElected(t *testing.T) {
	lease := &fakeLeaseBackend{}
	epochs := &fakeEpochSource{}
	elector := NewLeaderElector(lease, epochs, "camp1", "node-a", 30*time.Millisecond)

	elected := make(chan struct{}, 1)
	elector.SetCallbacks(func(ctx context.Context) { elected <- struct{}{} }, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	elector.Start(ctx)
	defer elector.Stop()

	select {
	case <-elected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for leadership election")
	}

	if !elector.IsLeader() {
		t.Fatal("expected IsLeader() == true after election")
	}
}

func TestLeaderElectorSecondReplicaDoesNotElect(t *testing.T) {
	lease := &fakeLeaseBackend{}
	epochs := &fakeEpochSource{}

	first := NewLeaderElector(lease, epochs, "camp1", "node-a", 50*time.Millisecond)
	second := NewLeaderElector(lease, epochs, "camp1", "node-b", 50*time.Millisecond)

	firstElected := make(chan struct{}, 1)
	first.SetCallbacks(func(ctx context.Context) { firstElected <- struct{}{} }, func() {})
	second.SetCallbacks(func(ctx context.Context) {}, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first.Start(ctx)
	defer first.Stop()
	second.Start(ctx)
	defer second.Stop()

	select {
	case <-firstElected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first replica's election")
	}

	time.Sleep(100 * time.Millisecond)
	if second.IsLeader() {
		t.Fatal("second replica should not become leader while first holds the lease")
	}
}
