package backfill

import (
	"context"

	"go.uber.org/zap"

	"github.com/clintrovert/praxis/pkg/types"
)

// updateTaskStatusAndContinue reconciles one task's result into durable
// state and decides whether the sync continues. The subscription is fetched
// fresh rather than reusing the copy from earlier in the attempt; if it
// vanished, another process legitimately deleted it and we stop.
func (e *Engine) updateTaskStatusAndContinue(
	ctx context.Context,
	msg *types.BackfillMessage,
	task *types.Task,
	result *types.TaskResult,
	sched *scheduler,
	logger *zap.Logger,
) error {
	sub, err := e.store.FindSubscription(ctx, msg.JiraHost, msg.InstallationID, messageAppID(msg))
	if err != nil {
		return err
	}
	if sub == nil {
		logger.Warn("subscription removed during attempt, stopping")
		return nil
	}

	isComplete := result.Complete()
	status := types.StatusPending
	if isComplete {
		status = types.StatusComplete
	}

	fields := map[string]any{StatusField(task.Type): status}
	if !isComplete {
		fields[CursorField(task.Type)] = result.LastCursor()
	}
	if isComplete && task.Type == types.TaskCommit && msg.CommitsFromDate != nil {
		// The floor reflects the earliest commit-history start ever
		// requested; the store keeps it monotonically non-increasing.
		fields[FieldCommitFrom] = *msg.CommitsFromDate
	}

	if err := e.store.MergeSyncFields(ctx, sub, task.RepositoryID, fields); err != nil {
		return err
	}

	logger.Info("task status updated",
		zap.String("task_type", string(task.Type)),
		zap.Int64("repository_id", task.RepositoryID),
		zap.String("status", string(status)),
	)

	if !isComplete {
		sched.requestNextRun(0)
		return nil
	}

	next, err := NextTask(ctx, e.store, sub, msg.TargetTasks)
	if err != nil {
		return err
	}
	if next == nil {
		return e.completeSync(ctx, msg, sub, logger)
	}
	sched.requestNextRun(0)
	return nil
}

// MarkTaskFailedAndContinue handles the transport giving up on redelivery:
// the current task is marked failed, and unless the failed task was
// repository discovery itself (without which nothing downstream can run, so
// the whole subscription fails) a follow-up is sent so later categories
// still get their chance.
func (e *Engine) MarkTaskFailedAndContinue(ctx context.Context, msg *types.BackfillMessage) error {
	logger := e.logger.With(
		zap.Int64("installation_id", msg.InstallationID),
		zap.String("jira_host", msg.JiraHost),
	)

	sub, err := e.store.FindSubscription(ctx, msg.JiraHost, msg.InstallationID, messageAppID(msg))
	if err != nil {
		return err
	}
	if sub == nil {
		logger.Info("no subscription for failed message")
		return nil
	}

	task, err := NextTask(ctx, e.store, sub, msg.TargetTasks)
	if err != nil {
		return err
	}
	if task == nil {
		// Nothing outstanding; the failure raced with completion.
		return nil
	}

	e.metrics.TaskFailed(ctx, string(task.Type), sub.Product())

	if task.Type == types.TaskRepository {
		logger.Error("repository discovery failed permanently, failing sync")
		if err := e.store.UpdateSubscription(ctx, sub, map[string]any{
			FieldSyncStatus:       types.SyncFailed,
			FieldRepositoryStatus: types.StatusFailed,
		}); err != nil {
			return err
		}
		e.metrics.SyncFailed(ctx, sub.Product())
		return nil
	}

	logger.Warn("marking task failed and continuing",
		zap.String("task_type", string(task.Type)),
		zap.Int64("repository_id", task.RepositoryID),
	)
	if err := e.store.MergeSyncFields(ctx, sub, task.RepositoryID, map[string]any{
		StatusField(task.Type): types.StatusFailed,
	}); err != nil {
		return err
	}

	sched := newScheduler(logger)
	sched.requestNextRun(0)
	return sched.flush(ctx, e.sender, msg)
}
