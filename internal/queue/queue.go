// Package queue defines the outgoing side of the backfill message transport.
// The transport itself (delivery, visibility timeouts, redelivery) lives
// behind this interface; the engine only ever sends.
package queue

import (
	"context"
	"time"

	"github.com/clintrovert/praxis/pkg/types"
)

// Sender enqueues one backfill message for delivery after the given delay.
// It returns an opaque receipt identifying the enqueued message.
type Sender interface {
	Send(ctx context.Context, msg types.BackfillMessage, delay time.Duration) (string, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg types.BackfillMessage, delay time.Duration) (string, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg types.BackfillMessage, delay time.Duration) (string, error) {
	return f(ctx, msg, delay)
}
