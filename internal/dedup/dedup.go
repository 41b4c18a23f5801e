// Package dedup serializes backfill attempts across workers. A shared
// expiring marker, keyed per (installation, tenant, app-variant), guarantees
// at most one in-flight execution per key no matter how many workers pull
// duplicate deliveries from the queue.
package dedup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Result is the tri-state outcome of a guarded execution.
type Result int

const (
	// ResultOK means the attempt ran (successfully or not).
	ResultOK Result = iota
	// ResultOtherWorkerDoingThisJob means another worker clearly holds the
	// marker; the caller should drop the message.
	ResultOtherWorkerDoingThisJob
	// ResultNotSureTryAgainLater means the marker state is ambiguous; the
	// caller should redeliver after a jittered delay rather than risk a
	// double execution.
	ResultNotSureTryAgainLater
)

// MarkerStore is the shared expiring-marker capability. TrySet must be
// atomic across workers and must succeed over an expired marker.
type MarkerStore interface {
	TrySet(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Age reports how long the live marker has been held, and whether one
	// is held at all.
	Age(ctx context.Context, key string) (time.Duration, bool, error)
	Clear(ctx context.Context, key string) error
}

// Deduplicator guards execution with a marker store. MarkerTTL must exceed
// the worst-case single-task attempt so a slow worker is never pre-empted by
// a false stale reading; GraceWindow is the heuristic threshold below which
// a held marker is considered "maybe just acquired" and therefore ambiguous.
// Both are deployment tuning parameters, not correctness requirements.
type Deduplicator struct {
	store       MarkerStore
	markerTTL   time.Duration
	graceWindow time.Duration
	logger      *zap.Logger
}

// NewDeduplicator creates a guard over the given marker store.
func NewDeduplicator(store MarkerStore, markerTTL, graceWindow time.Duration, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{
		store:       store,
		markerTTL:   markerTTL,
		graceWindow: graceWindow,
		logger:      logger,
	}
}

// Execute runs attempt at most once per key across all workers. The marker
// is released on every exit path, so the result is ResultOK even when the
// attempt itself returned an error; that error is passed through. When the
// marker store is unreachable the guard fails safe toward
// ResultNotSureTryAgainLater instead of double-executing.
func (d *Deduplicator) Execute(ctx context.Context, key string, attempt func(ctx context.Context) error) (Result, error) {
	acquired, err := d.store.TrySet(ctx, key, d.markerTTL)
	if err != nil {
		d.logger.Warn("marker store unreachable, deferring",
			zap.String("key", key),
			zap.Error(err),
		)
		return ResultNotSureTryAgainLater, nil
	}
	if !acquired {
		age, held, err := d.store.Age(ctx, key)
		if err != nil || !held {
			return ResultNotSureTryAgainLater, nil
		}
		if age <= d.graceWindow {
			// The other worker may have only just started; can't tell a
			// fresh acquisition from a race we lost.
			return ResultNotSureTryAgainLater, nil
		}
		return ResultOtherWorkerDoingThisJob, nil
	}

	defer func() {
		if err := d.store.Clear(ctx, key); err != nil {
			d.logger.Warn("failed to release marker, it will expire",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()

	return ResultOK, attempt(ctx)
}
