// Package backfill implements the resumable GitHub-to-Jira backfill engine:
// task selection, bounded page execution, progress persistence and the
// error-driven retry policy. One queue message drives exactly one bounded
// attempt; the engine re-enqueues itself until the subscription is complete.
package backfill

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	ghclient "github.com/clintrovert/praxis/internal/github"
	"github.com/clintrovert/praxis/internal/metrics"
	"github.com/clintrovert/praxis/internal/queue"
	"github.com/clintrovert/praxis/pkg/types"
)

// Merge field names understood by ProgressStore implementations. Discovery
// fields belong to the subscription row; category fields belong to the repo
// row identified by the merge's repository id.
const (
	FieldSyncStatus       = "syncStatus"
	FieldBackfillSince    = "backfillSince"
	FieldRepositoryStatus = "repositoryStatus"
	FieldRepositoryCursor = "repositoryCursor"
	FieldTotalRepos       = "totalRepos"
	FieldCommitFrom       = "commitFrom"
)

// StatusField returns the merge field holding a task type's status.
func StatusField(t types.TaskType) string {
	if t == types.TaskRepository {
		return FieldRepositoryStatus
	}
	return string(t) + "Status"
}

// CursorField returns the merge field holding a task type's cursor.
func CursorField(t types.TaskType) string {
	if t == types.TaskRepository {
		return FieldRepositoryCursor
	}
	return string(t) + "Cursor"
}

// ClientFactory builds an authenticated upstream client for one message.
type ClientFactory interface {
	NewInstallationClient(ctx context.Context, installationID int64, app *types.GitHubAppConfig) (*ghclient.Client, error)
}

// JiraSubmitter is the category-specific Jira submission path consumed by
// the engine. Backfill submissions always prevent workflow transitions.
type JiraSubmitter interface {
	SubmitDevInfo(ctx context.Context, jiraHost string, p *types.JiraPayload, opts types.SubmitOptions) error
	SubmitBuilds(ctx context.Context, jiraHost string, p *types.JiraPayload, opts types.SubmitOptions) error
	SubmitDeployments(ctx context.Context, jiraHost string, p *types.JiraPayload, opts types.SubmitOptions) error
}

// Engine orchestrates one backfill attempt per message: select the next
// task, run its processor, forward results to Jira, persist progress and
// emit at most one follow-up message.
type Engine struct {
	store     ProgressStore
	catalog   *Catalog
	submitter JiraSubmitter
	clients   ClientFactory
	sender    queue.Sender
	metrics   *metrics.Recorder
	pageSize  int
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine wires the engine's collaborators. pageSize bounds every upstream
// fetch, which in turn bounds worst-case attempt duration.
func NewEngine(
	store ProgressStore,
	catalog *Catalog,
	submitter JiraSubmitter,
	clients ClientFactory,
	sender queue.Sender,
	rec *metrics.Recorder,
	pageSize int,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:     store,
		catalog:   catalog,
		submitter: submitter,
		clients:   clients,
		sender:    sender,
		metrics:   rec,
		pageSize:  pageSize,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessMessage runs one bounded attempt for the message. Rate limits and
// deleted repositories are absorbed here; any other failure is returned so
// the transport applies its own redelivery policy.
func (e *Engine) ProcessMessage(ctx context.Context, msg *types.BackfillMessage) error {
	logger := e.logger.With(
		zap.Int64("installation_id", msg.InstallationID),
		zap.String("jira_host", msg.JiraHost),
	)
	sched := newScheduler(logger)

	if err := e.processInstallation(ctx, msg, sched, logger); err != nil {
		if herr := e.handleFailure(ctx, msg, err, sched, logger); herr != nil {
			return herr
		}
	}
	return sched.flush(ctx, e.sender, msg)
}

// processInstallation performs steps 1-5 of one attempt: at most one task,
// one page, one repository.
func (e *Engine) processInstallation(ctx context.Context, msg *types.BackfillMessage, sched *scheduler, logger *zap.Logger) error {
	sub, err := e.store.FindSubscription(ctx, msg.JiraHost, msg.InstallationID, messageAppID(msg))
	if err != nil {
		return err
	}
	if sub == nil {
		// The org was removed mid-sync. Nothing to do and nothing wrong.
		logger.Info("no subscription for message, skipping")
		return nil
	}

	task, err := NextTask(ctx, e.store, sub, msg.TargetTasks)
	if err != nil {
		return err
	}
	if task == nil {
		return e.completeSync(ctx, msg, sub, logger)
	}

	if sub.SyncStatus != types.SyncActive {
		if err := e.store.UpdateSubscription(ctx, sub, map[string]any{FieldSyncStatus: types.SyncActive}); err != nil {
			return err
		}
	}

	// Snapshot before dispatch so a later failure stays attributable even
	// if the task value is mutated downstream.
	snapshot := *task

	proc, ok := e.catalog.Processor(task.Type)
	if !ok {
		return &TaskError{Task: snapshot, Err: errors.New("no processor registered for task type " + string(task.Type))}
	}

	client, err := e.clients.NewInstallationClient(ctx, msg.InstallationID, msg.GitHubAppConfig)
	if err != nil {
		return &TaskError{Task: snapshot, Err: err}
	}

	logger.Info("processing task",
		zap.String("task_type", string(task.Type)),
		zap.Int64("repository_id", task.RepositoryID),
		zap.String("cursor", task.Cursor),
	)

	result, err := proc.Process(ctx, ProcessInput{
		Logger:       logger,
		Client:       client,
		Subscription: sub,
		JiraHost:     msg.JiraHost,
		Repository:   task.Repository,
		Cursor:       task.Cursor,
		PageSize:     e.pageSize,
		Message:      msg,
	})
	if err != nil {
		return &TaskError{Task: snapshot, Err: err}
	}

	if result != nil && !result.JiraPayload.Empty() {
		if err := e.submitToJira(ctx, msg.JiraHost, task.Type, result.JiraPayload); err != nil {
			logger.Error("failed to submit payload to jira", zap.Error(err))
			return &TaskError{Task: snapshot, Err: err}
		}
	}

	if err := e.updateTaskStatusAndContinue(ctx, msg, &snapshot, result, sched, logger); err != nil {
		return &TaskError{Task: snapshot, Err: err}
	}

	e.metrics.TaskComplete(ctx, string(task.Type), sub.Product())
	return nil
}

// submitToJira routes a payload through the submission path matching the
// task's category, with backfill transition-prevention semantics.
func (e *Engine) submitToJira(ctx context.Context, jiraHost string, t types.TaskType, p *types.JiraPayload) error {
	opts := types.SubmitOptions{
		PreventTransitions: true,
		OperationType:      "BACKFILL",
	}
	switch t {
	case types.TaskBuild:
		return e.submitter.SubmitBuilds(ctx, jiraHost, p, opts)
	case types.TaskDeployment:
		return e.submitter.SubmitDeployments(ctx, jiraHost, p, opts)
	default:
		return e.submitter.SubmitDevInfo(ctx, jiraHost, p, opts)
	}
}

// completeSync marks the subscription COMPLETE, persists the backfill floor
// and records total wall-clock duration when the initial message carried a
// start time.
func (e *Engine) completeSync(ctx context.Context, msg *types.BackfillMessage, sub *types.Subscription, logger *zap.Logger) error {
	fields := map[string]any{
		FieldSyncStatus:    types.SyncComplete,
		FieldBackfillSince: nil,
	}
	if msg.CommitsFromDate != nil {
		fields[FieldBackfillSince] = *msg.CommitsFromDate
	}
	if err := e.store.UpdateSubscription(ctx, sub, fields); err != nil {
		return err
	}

	e.metrics.SyncComplete(ctx, sub.Product())
	if msg.StartTime != nil {
		e.metrics.SyncDuration(ctx, sub.Product(), e.now().Sub(*msg.StartTime))
	}
	logger.Info("backfill complete", zap.String("product", sub.Product()))
	return nil
}

// handleFailure applies the retry policy: rate limits self-schedule with the
// computed delay, deleted repositories run the normal completion path, and
// anything else propagates for transport-level redelivery.
func (e *Engine) handleFailure(ctx context.Context, msg *types.BackfillMessage, err error, sched *scheduler, logger *zap.Logger) error {
	class, delay := classify(err, e.now())
	switch class {
	case errRateLimited:
		logger.Warn("rate limited by upstream",
			zap.Duration("retry_delay", delay),
		)
		sched.requestNextRun(delay)
		return nil
	case errNotFound:
		var te *TaskError
		if !errors.As(err, &te) {
			// Not attributable to a task; nothing to advance past.
			return err
		}
		logger.Info("repository no longer exists upstream, completing task",
			zap.String("task_type", string(te.Task.Type)),
			zap.Int64("repository_id", te.Task.RepositoryID),
		)
		return e.updateTaskStatusAndContinue(ctx, msg, &te.Task, &types.TaskResult{}, sched, logger)
	default:
		return err
	}
}

func messageAppID(msg *types.BackfillMessage) *int64 {
	if msg.GitHubAppConfig == nil {
		return nil
	}
	return &msg.GitHubAppConfig.AppID
}
