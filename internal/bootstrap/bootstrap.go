// Package bootstrap ensures the target database has a table and index set
// matching the schema before the engine starts serving traffic. DDL
// generation for the Postgres driver follows the teacher's
// ensureCollectionTableAndIndexes technique (internal/follower/sqlite_helpers.go):
// quoted identifiers, CREATE TABLE IF NOT EXISTS, CREATE INDEX IF NOT EXISTS,
// per-column type mapping — translated from SQLite DDL to a generic
// Database-interface call so the same bootstrap logic drives both the
// Postgres and Mongo drivers.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaycrud/engine/internal/dbdriver"
	"github.com/relaycrud/engine/internal/schema"
)

// Leaser is the subset of internal/coordination.Elector bootstrap needs, so
// this package depends on a small local interface rather than on a
// Postgres-pool-specific concrete type. When a fleet of engine instances
// start concurrently, only the one holding the "schema-bootstrap" lease
// performs the DDL reconciliation; the rest skip it and return immediately,
// without waiting for the leader's Init call to finish.
type Leaser interface {
	TryAcquire(ctx context.Context, resource string, leaseDuration time.Duration) (bool, error)
	Release(resource string) error
}

const bootstrapLeaseResource = "schema-bootstrap"

// Options configures a bootstrap run.
type Options struct {
	// IndexesToBuild, keyed by "model.indexName", forces a drop-and-recreate
	// of an index that already exists, rather than leaving it alone.
	IndexesToBuild map[string]bool

	// Leaser, when set, serializes Init across a fleet of instances via a
	// named lease. A nil Leaser runs Init unconditionally, appropriate for a
	// single-instance deployment or a test.
	Leaser        Leaser
	LeaseDuration time.Duration
}

// Init is one-shot and idempotent: for each model it ensures the table
// exists, then reconciles the declared index set against what's already
// present, creating missing indexes and rebuilding any named in
// opts.IndexesToBuild. It awaits completion before returning.
func Init(ctx context.Context, db dbdriver.Database, sch *schema.Schema, opts Options) error {
	if opts.Leaser != nil {
		leaseDuration := opts.LeaseDuration
		if leaseDuration <= 0 {
			leaseDuration = 30 * time.Second
		}
		acquired, err := opts.Leaser.TryAcquire(ctx, bootstrapLeaseResource, leaseDuration)
		if err != nil {
			return fmt.Errorf("bootstrap: acquire lease: %w", err)
		}
		if !acquired {
			slog.Info("schema bootstrap already owned by another instance, skipping")
			return nil
		}
		defer func() {
			if err := opts.Leaser.Release(bootstrapLeaseResource); err != nil {
				slog.Warn("failed to release schema bootstrap lease", "error", err)
			}
		}()
	}

	for name, model := range sch.Models {
		if err := db.TableCreate(ctx, name); err != nil {
			return fmt.Errorf("bootstrap: ensure table for %s: %w", name, err)
		}

		existing, err := db.IndexList(ctx, name)
		if err != nil {
			return fmt.Errorf("bootstrap: list indexes for %s: %w", name, err)
		}
		existingSet := make(map[string]bool, len(existing))
		for _, idxName := range existing {
			existingSet[idxName] = true
		}

		for _, idx := range model.Indexes {
			if err := reconcileIndex(ctx, db, name, idx, existingSet, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func reconcileIndex(ctx context.Context, db dbdriver.Database, model string, idx schema.IndexDef, existing map[string]bool, opts Options) error {
	key := model + "." + idx.Name
	rebuild := opts.IndexesToBuild[key]

	if existing[idx.Name] {
		if !rebuild {
			return nil
		}
		if err := db.IndexDrop(ctx, model, idx.Name); err != nil {
			return fmt.Errorf("bootstrap: drop index %s on %s: %w", idx.Name, model, err)
		}
		slog.Info("rebuilding index", "model", model, "index", idx.Name)
	}

	def := dbdriver.IndexDef{
		Name:   idx.Name,
		Fields: idx.Fields(),
	}
	if idx.Fn != nil {
		fn := idx.Fn
		def.Fn = func(handle any) error { return fn(handle) }
	}

	if err := db.IndexCreate(ctx, model, def); err != nil {
		return fmt.Errorf("bootstrap: create index %s on %s: %w", idx.Name, model, err)
	}
	slog.Info("index ensured", "model", model, "index", idx.Name)
	return nil
}
