package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/clintrovert/praxis/pkg/types"
)

// BackfillWorkflow delivers one backfill message to a worker. The activity
// retry policy is the transport's redelivery mechanism for unknown failures;
// when it is exhausted, the current task is marked failed so the rest of the
// sync can still proceed.
func BackfillWorkflow(ctx workflow.Context, msg types.BackfillMessage) error {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	err := workflow.ExecuteActivity(ctx, "ProcessBackfill", msg).Get(ctx, nil)
	if err == nil {
		return nil
	}

	logger.Error("backfill attempt exhausted redelivery, marking task failed",
		"installation_id", msg.InstallationID,
		"error", err,
	)
	return workflow.ExecuteActivity(ctx, "MarkTaskFailed", msg).Get(ctx, nil)
}
