package backfill

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/queue"
	"github.com/clintrovert/praxis/pkg/types"
)

// scheduler collects "run again after N" requests raised during one attempt
// and collapses them into at most one outgoing follow-up message.
type scheduler struct {
	logger   *zap.Logger
	requests []time.Duration
}

func newScheduler(logger *zap.Logger) *scheduler {
	return &scheduler{logger: logger}
}

// requestNextRun records one continuation request.
func (s *scheduler) requestNextRun(delay time.Duration) {
	s.requests = append(s.requests, delay)
}

// flush sends at most one follow-up message carrying the most urgent of the
// requested delays. Normally only one continuation path fires per attempt;
// more than one is logged but still handled by taking the minimum.
func (s *scheduler) flush(ctx context.Context, sender queue.Sender, msg *types.BackfillMessage) error {
	if len(s.requests) == 0 {
		return nil
	}
	if len(s.requests) > 1 {
		s.logger.Warn("multiple continuation requests in one attempt",
			zap.Int("count", len(s.requests)),
		)
	}
	min := s.requests[0]
	for _, d := range s.requests[1:] {
		if d < min {
			min = d
		}
	}

	receipt, err := sender.Send(ctx, *msg, min)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled follow-up",
		zap.Duration("delay", min),
		zap.String("receipt", receipt),
	)
	return nil
}

// DelaySeconds converts a delay to the transport's unit: whole seconds,
// rounded up so a positive delay never becomes an immediate redelivery.
func DelaySeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
