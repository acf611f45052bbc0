// Package coordination provides best-effort cross-process resource locking
// for leader-only maintenance jobs (e.g. schema bootstrap's index rebuilds),
// adapted from the teacher's internal/leader.LeaderElector: the same
// lease-row-in-Postgres technique, generalised from a fixed "collection
// name" lock subject to an arbitrary resource name.
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Elector acquires and renews named leases backed by a `leader_locks` table
// (resource_name text primary key, leader_id text, lease_expires_at
// timestamptz).
type Elector struct {
	pool       *pgxpool.Pool
	instanceID string
}

// NewElector constructs an Elector identified by instanceID, which should be
// stable for the process's lifetime but unique across the fleet (e.g.
// hostname+pid).
func NewElector(pool *pgxpool.Pool, instanceID string) *Elector {
	return &Elector{pool: pool, instanceID: instanceID}
}

// TryAcquire attempts to acquire or renew the lease on resource. It
// succeeds if no lease is held, the existing lease expired, or this
// instance already holds it.
func (e *Elector) TryAcquire(ctx context.Context, resource string, leaseDuration time.Duration) (bool, error) {
	sql := `
		INSERT INTO leader_locks (resource_name, leader_id, lease_expires_at)
		VALUES ($1, $2, NOW() + $3 * interval '1 second')
		ON CONFLICT (resource_name) DO UPDATE SET
			leader_id = EXCLUDED.leader_id,
			lease_expires_at = EXCLUDED.lease_expires_at
		WHERE leader_locks.lease_expires_at < NOW() OR leader_locks.leader_id = $2;
	`
	leaseSeconds := int(leaseDuration.Seconds())

	acquireCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := e.pool.Exec(acquireCtx, sql, resource, e.instanceID, leaseSeconds)
	if err != nil {
		return false, fmt.Errorf("coordination: acquire/renew lease on %s: %w", resource, err)
	}

	acquired := tag.RowsAffected() > 0
	if acquired {
		slog.Debug("acquired/renewed lease", "resource", resource, "duration", leaseDuration)
	}
	return acquired, nil
}

// Release drops the lease on resource if this instance holds it.
func (e *Elector) Release(resource string) error {
	sql := `DELETE FROM leader_locks WHERE resource_name = $1 AND leader_id = $2;`

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := e.pool.Exec(ctx, sql, resource, e.instanceID); err != nil {
		return fmt.Errorf("coordination: release lease on %s: %w", resource, err)
	}
	return nil
}

// ReleaseAll drops every lease this instance holds, for use at shutdown.
func (e *Elector) ReleaseAll() {
	sql := `DELETE FROM leader_locks WHERE leader_id = $1;`

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tag, err := e.pool.Exec(ctx, sql, e.instanceID)
	if err != nil {
		slog.Error("failed to release leases on shutdown", "instance", e.instanceID, "error", err)
		return
	}
	slog.Debug("released leases on shutdown", "instance", e.instanceID, "count", tag.RowsAffected())
}

// IsLeader extends the lease on resource, returning false if this instance
// no longer holds it.
func (e *Elector) IsLeader(resource string, leaseDuration time.Duration) bool {
	sql := `
		UPDATE leader_locks SET lease_expires_at = NOW() + $3 * interval '1 second'
		WHERE resource_name = $1 AND leader_id = $2;
	`
	leaseSeconds := int(leaseDuration.Seconds())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tag, err := e.pool.Exec(ctx, sql, resource, e.instanceID, leaseSeconds)
	if err != nil {
		slog.Warn("failed to extend lease", "resource", resource, "error", err)
		return false
	}
	return tag.RowsAffected() > 0
}

// EnsureSchema creates the leader_locks table if it doesn't exist. Elector's
// queries assume the table exists; bootstrap.Init does not call this.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS leader_locks (
			resource_name text PRIMARY KEY,
			leader_id text NOT NULL,
			lease_expires_at timestamptz NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("coordination: ensure leader_locks table: %w", err)
	}
	return nil
}
