package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fedcoord/coordinator/internal/observability"
)

// LeaseBackend is the distributed-lock primitive leader election
// needs: acquire/renew/release a named lease with a caller-chosen
// opaque value. registry.RedisRegistry implements this.
type LeaseBackend interface {
	AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, value string) error
}

// DurableEpochSource hands out the monotonic fencing token backing a
// lease, so a token survives even if the lease backend's state is
// flushed. history.PostgresHistory implements this.
type DurableEpochSource interface {
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
}

type leaseMetadata struct {
	OwnerID   string    `json:"owner_id"`
	Epoch     int64     `json:"epoch"`
	CreatedAt time.Time `json:"created_at"`
}

// LeaderElector elects exactly one coordinatord replica to drive a
// given campaign's host.Loop at a time. Grounded on the teacher's
// LeaderElector: lease acquire/renew with exponential backoff on
// error, a durable epoch as fencing token, onElected/onLost callbacks.
type LeaderElector struct {
	lease   LeaseBackend
	epochs  DurableEpochSource
	nodeID  string
	lockKey string
	ttl     time.Duration

	mu           sync.RWMutex
	isLeader     bool
	currentValue string
	currentEpoch int64

	onElected func(ctx context.Context)
	onLost    func()

	leaderCtx    context.Context
	leaderCancel context.CancelFunc

	cancel context.CancelFunc
}

// NewLeaderElector builds an elector for campaignID. nodeID identifies
// this coordinatord replica in logs and metrics.
func NewLeaderElector(lease LeaseBackend, epochs DurableEpochSource, campaignID, nodeID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{
		lease:   lease,
		epochs:  epochs,
		nodeID:  nodeID,
		lockKey: fmt.Sprintf("fedcoord:lock:%s:leader", campaignID),
		ttl:     ttl,
	}
}

// SetCallbacks installs the functions invoked on becoming leader and
// on losing leadership. onElected receives a context cancelled the
// moment leadership is lost, suitable as the host loop's run context.
func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

// Start runs the acquire/renew loop until ctx is cancelled.
func (l *LeaderElector) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.loop(runCtx)
}

// Stop ends the loop and releases the lease if held.
func (l *LeaderElector) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.IsLeader() {
		l.release()
	}
}

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

func (l *LeaderElector) loop(ctx context.Context) {
	interval := l.ttl / 3
	minInterval := interval
	maxInterval := 10 * l.ttl

	const maxRenewFailures = 3
	renewFailures := 0

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.release()
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.renew(ctx)
				if err == nil {
					renewFailures = 0
					if !renewed {
						l.stepDown()
					}
				} else {
					renewFailures++
					log.Printf("coordination: leader renew failed (%d/%d): %v", renewFailures, maxRenewFailures, err)
					if renewFailures >= maxRenewFailures {
						log.Printf("coordination: too many renew failures, stepping down")
						l.stepDown()
						renewFailures = 0
					}
				}
			} else {
				var acquired bool
				acquired, err = l.acquire(ctx)
				if err == nil && acquired {
					l.becomeLeader()
					renewFailures = 0
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
				log.Printf("coordination: leader election backing off for %v", interval)
			} else {
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, error) {
	epoch, err := l.epochs.IncrementDurableEpoch(ctx, "leader_election")
	if err != nil {
		return false, err
	}

	meta := leaseMetadata{OwnerID: l.nodeID, Epoch: epoch, CreatedAt: time.Now()}
	valBytes, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}
	val := string(valBytes)

	acquired, err := l.lease.AcquireLease(ctx, l.lockKey, val, l.ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		l.mu.Lock()
		l.currentValue = val
		l.currentEpoch = epoch
		l.mu.Unlock()
	}
	return acquired, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return false, nil
	}
	return l.lease.RenewLease(ctx, l.lockKey, val, l.ttl)
}

func (l *LeaderElector) release() {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.lease.ReleaseLease(ctx, l.lockKey, val); err != nil {
		log.Printf("coordination: release lease: %v", err)
	}
}

func (l *LeaderElector) becomeLeader() {
	l.mu.Lock()
	l.isLeader = true
	ctx, cancel := context.WithCancel(context.Background())
	l.leaderCancel = cancel
	l.leaderCtx = ctx
	epoch := l.currentEpoch
	l.mu.Unlock()

	log.Printf("coordination: %s acquired leadership (epoch %d)", l.nodeID, epoch)
	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	observability.LeadershipEpoch.WithLabelValues(l.nodeID).Set(float64(epoch))
	observability.LeaderStatus.Set(1)

	if l.onElected != nil {
		go l.onElected(ctx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	if l.leaderCancel != nil {
		l.leaderCancel()
	}
	l.mu.Unlock()

	observability.LeaderStatus.Set(0)
	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()
	log.Printf("coordination: %s lost leadership", l.nodeID)

	if l.onLost != nil {
		l.onLost()
	}
}
