package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fedcoord/coordinator/internal/coordinator"
	"github.com/fedcoord/coordinator/internal/observability"
	"github.com/redis/go-redis/v9"
)

// RedisRegistry implements Registry over a shared Redis instance, so
// every coordinatord replica for a campaign sees the same client
// population. It also exposes the lease primitives consumed by
// internal/coordination's leader elector: both concerns share one
// connection for the same reason the teacher's RedisStore doubles as
// Coordinator.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry dials addr and verifies connectivity.
func NewRedisRegistry(addr, password string, db int) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisRegistry{client: client}, nil
}

func (r *RedisRegistry) get(ctx context.Context, key string) (*Record, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal client record: %w", err)
	}
	return &rec, nil
}

func (r *RedisRegistry) put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal client record: %w", err)
	}
	return r.client.Set(ctx, CampaignKey(rec.CampaignID, rec.ClientID), data, 0).Err()
}

func (r *RedisRegistry) Accept(ctx context.Context, campaignID, clientID string) error {
	return r.put(ctx, &Record{
		ClientID:   clientID,
		CampaignID: campaignID,
		State:      stateString(coordinator.Waiting),
		JoinedAt:   time.Now(),
	})
}

func (r *RedisRegistry) Remove(ctx context.Context, campaignID, clientID string) error {
	return r.client.Del(ctx, CampaignKey(campaignID, clientID)).Err()
}

func (r *RedisRegistry) SetState(ctx context.Context, campaignID, clientID string, state coordinator.ClientState) error {
	rec, err := r.get(ctx, CampaignKey(campaignID, clientID))
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{ClientID: clientID, CampaignID: campaignID, JoinedAt: time.Now()}
	}
	rec.State = stateString(state)
	return r.put(ctx, rec)
}

func (r *RedisRegistry) ResetAll(ctx context.Context, campaignID string) error {
	match := CampaignPrefix(campaignID) + "*"
	iter := r.client.Scan(ctx, 0, match, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		rec, err := r.get(ctx, key)
		if err != nil || rec == nil {
			continue
		}
		if rec.State == stateString(coordinator.DoneAndInactive) {
			r.client.Del(ctx, key)
			continue
		}
		rec.State = stateString(coordinator.Waiting)
		if err := r.put(ctx, rec); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *RedisRegistry) ResetHeartBeat(ctx context.Context, campaignID, clientID string, now time.Time) error {
	rec, err := r.get(ctx, CampaignKey(campaignID, clientID))
	if err != nil || rec == nil {
		return err
	}
	rec.LastHeartbeat = now
	return r.put(ctx, rec)
}

func (r *RedisRegistry) State(ctx context.Context, campaignID, clientID string) (coordinator.ClientState, error) {
	rec, err := r.get(ctx, CampaignKey(campaignID, clientID))
	if err != nil {
		return coordinator.Unknown, err
	}
	if rec == nil {
		return coordinator.Unknown, nil
	}
	return parseState(rec.State), nil
}

func (r *RedisRegistry) List(ctx context.Context, campaignID string) ([]Record, error) {
	match := CampaignPrefix(campaignID) + "*"
	iter := r.client.Scan(ctx, 0, match, 0).Iterator()
	var out []Record
	for iter.Next(ctx) {
		rec, err := r.get(ctx, iter.Val())
		if err != nil || rec == nil {
			continue
		}
		out = append(out, *rec)
	}
	return out, iter.Err()
}

func (r *RedisRegistry) ListByState(ctx context.Context, campaignID string, state coordinator.ClientState) ([]Record, error) {
	all, err := r.List(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	want := stateString(state)
	out := make([]Record, 0, len(all))
	for _, rec := range all {
		if rec.State == want {
			out = append(out, rec)
		}
	}
	return out, nil
}

// --- Lease primitives shared with internal/coordination.LeaderElector ---

// AcquireLease attempts to become the leader for key, holding it for
// ttl. Mirrors the teacher's RedisStore.AcquireLock (SET NX EX).
func (r *RedisRegistry) AcquireLease(ctx context.Context, key, ownerID string, ttl time.Duration) (bool, error) {
	defer func(start time.Time) { observability.RedisLatency.Observe(time.Since(start).Seconds()) }(time.Now())
	return r.client.SetNX(ctx, key, ownerID, ttl).Result()
}

// RenewLease extends ttl if ownerID still holds the lease. Lua keeps
// the check-and-expire atomic, same as the teacher's renew script.
func (r *RedisRegistry) RenewLease(ctx context.Context, key, ownerID string, ttl time.Duration) (bool, error) {
	defer func(start time.Time) { observability.RedisLatency.Observe(time.Since(start).Seconds()) }(time.Now())
	script := `
		local val = redis.call("get", KEYS[1])
		if not val then
			return -1
		end
		if val == ARGV[1] then
			return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
		end
		return -2
	`
	res, err := r.client.Eval(ctx, script, []string{key}, ownerID, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	val, _ := res.(int64)
	return val == 1, nil
}

// ReleaseLease drops the lease if ownerID still holds it.
func (r *RedisRegistry) ReleaseLease(ctx context.Context, key, ownerID string) error {
	defer func(start time.Time) { observability.RedisLatency.Observe(time.Since(start).Seconds()) }(time.Now())
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	return r.client.Eval(ctx, script, []string{key}, ownerID).Err()
}

// IncrementEpoch bumps the monotonic fencing counter backing key's
// lease, used to reject writes from a leader that has since lost it.
func (r *RedisRegistry) IncrementEpoch(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key+":epoch").Result()
}
