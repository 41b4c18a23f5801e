// Package activities binds the backfill engine to the Temporal worker.
package activities

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/backfill"
	"github.com/clintrovert/praxis/internal/dedup"
	"github.com/clintrovert/praxis/internal/queue"
	"github.com/clintrovert/praxis/pkg/types"
)

// BackfillActivities wires one engine attempt per activity invocation,
// guarded against concurrent execution of the same installation's sync.
type BackfillActivities struct {
	engine *backfill.Engine
	guard  *dedup.Deduplicator
	sender queue.Sender
	logger *zap.Logger
}

// NewBackfillActivities creates the activity set.
func NewBackfillActivities(engine *backfill.Engine, guard *dedup.Deduplicator, sender queue.Sender, logger *zap.Logger) *BackfillActivities {
	return &BackfillActivities{
		engine: engine,
		guard:  guard,
		sender: sender,
		logger: logger,
	}
}

// ProcessBackfill handles one delivered message. Failures it returns feed
// the transport's retry policy; everything else is absorbed here.
func (a *BackfillActivities) ProcessBackfill(ctx context.Context, msg types.BackfillMessage) error {
	result, err := a.guard.Execute(ctx, msg.DedupKey(), func(ctx context.Context) error {
		return a.engine.ProcessMessage(ctx, &msg)
	})

	switch result {
	case dedup.ResultOtherWorkerDoingThisJob:
		a.logger.Info("another worker is syncing this installation, dropping message",
			zap.Int64("installation_id", msg.InstallationID),
		)
		return nil
	case dedup.ResultNotSureTryAgainLater:
		delay := ambiguousLockDelay()
		a.logger.Info("lock state ambiguous, redelivering with jitter",
			zap.Int64("installation_id", msg.InstallationID),
			zap.Duration("delay", delay),
		)
		_, serr := a.sender.Send(ctx, msg, delay)
		return serr
	}
	return err
}

// MarkTaskFailed runs when the transport has given up redelivering.
func (a *BackfillActivities) MarkTaskFailed(ctx context.Context, msg types.BackfillMessage) error {
	return a.engine.MarkTaskFailedAndContinue(ctx, &msg)
}

// ambiguousLockDelay produces a jittered redelivery delay so contending
// deliveries of the same installation spread out instead of re-colliding.
func ambiguousLockDelay() time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 30 * time.Second
	bo.RandomizationFactor = 0.5
	return bo.NextBackOff()
}
