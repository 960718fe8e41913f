// Package history is the durable collaborator that survives a Redis
// flush: it records completed rounds and the monotonic fencing epoch
// leader election depends on, the same role Postgres plays in the
// teacher's control plane alongside its ephemeral Redis store.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Round is one durable record of a completed EndRound event.
type Round struct {
	CampaignID string
	Round      uint32
	EndedAt    time.Time
}

// History is the durable-log collaborator. Implementations must be
// safe for concurrent use by multiple coordinatord replicas.
type History interface {
	RecordRound(ctx context.Context, campaignID string, round uint32) error
	ListRounds(ctx context.Context, campaignID string) ([]Round, error)
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
	GetDurableEpoch(ctx context.Context, resourceID string) (int64, error)
}

// PostgresHistory implements History over a pgx connection pool,
// grounded on the teacher's PostgresStore: a tuned pgxpool.Pool and
// parameterized SQL, no ORM.
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory opens a pool against connString and verifies
// connectivity. The schema (rounds, epochs tables) is expected to
// already exist; this package does not run migrations.
func NewPostgresHistory(ctx context.Context, connString string) (*PostgresHistory, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresHistory{pool: pool}, nil
}

// Close releases the pool's connections.
func (h *PostgresHistory) Close() {
	h.pool.Close()
}

func (h *PostgresHistory) RecordRound(ctx context.Context, campaignID string, round uint32) error {
	_, err := h.pool.Exec(ctx, `
		INSERT INTO rounds (campaign_id, round, ended_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (campaign_id, round) DO NOTHING
	`, campaignID, round)
	return err
}

func (h *PostgresHistory) ListRounds(ctx context.Context, campaignID string) ([]Round, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT campaign_id, round, ended_at FROM rounds
		WHERE campaign_id = $1
		ORDER BY round ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(&r.CampaignID, &r.Round, &r.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IncrementDurableEpoch atomically bumps and returns the epoch for
// resourceID, used as a fencing token so a stale leader's writes can
// be rejected even after a Redis lease flush.
func (h *PostgresHistory) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	var epoch int64
	err := h.pool.QueryRow(ctx, `
		INSERT INTO epochs (resource_id, value) VALUES ($1, 1)
		ON CONFLICT (resource_id) DO UPDATE SET value = epochs.value + 1
		RETURNING value
	`, resourceID).Scan(&epoch)
	return epoch, err
}

func (h *PostgresHistory) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	var epoch int64
	err := h.pool.QueryRow(ctx, `SELECT value FROM epochs WHERE resource_id = $1`, resourceID).Scan(&epoch)
	if err != nil {
		return 0, nil
	}
	return epoch, nil
}
