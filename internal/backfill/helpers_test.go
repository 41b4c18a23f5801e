package backfill

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	ghclient "github.com/clintrovert/praxis/internal/github"
	"github.com/clintrovert/praxis/pkg/types"
)

// fakeStore is an in-memory ProgressStore with the same mirror and
// commit-floor semantics as the sqlite store.
type fakeStore struct {
	mu    sync.Mutex
	sub   *types.Subscription
	repos []*types.RepoSyncState
}

func (f *fakeStore) FindSubscription(_ context.Context, _ string, _ int64, _ *int64) (*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub, nil
}

func (f *fakeStore) FindRepoStates(_ context.Context, _ int64) ([]*types.RepoSyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.RepoSyncState, len(f.repos))
	copy(out, f.repos)
	return out, nil
}

func (f *fakeStore) UpdateSubscription(_ context.Context, sub *types.Subscription, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	applySubFields(sub, fields)
	return nil
}

func (f *fakeStore) MergeSyncFields(_ context.Context, sub *types.Subscription, repoID int64, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, value := range fields {
		switch name {
		case FieldSyncStatus, FieldBackfillSince, FieldRepositoryStatus, FieldRepositoryCursor, FieldTotalRepos:
			applySubFields(sub, map[string]any{name: value})
		case FieldCommitFrom:
			t := value.(time.Time)
			if r := f.repo(repoID); r != nil {
				if r.CommitFrom == nil || r.CommitFrom.After(t) {
					tt := t
					r.CommitFrom = &tt
				}
			}
		default:
			if r := f.repo(repoID); r != nil {
				setRepoField(r, name, value)
			}
		}
	}
	return nil
}

func (f *fakeStore) addRepo(r *types.RepoSyncState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.repos {
		if existing.RepoID == r.RepoID {
			return
		}
	}
	f.repos = append(f.repos, r)
}

func (f *fakeStore) repo(repoID int64) *types.RepoSyncState {
	for _, r := range f.repos {
		if r.RepoID == repoID {
			return r
		}
	}
	return nil
}

func applySubFields(sub *types.Subscription, fields map[string]any) {
	for name, value := range fields {
		switch name {
		case FieldSyncStatus:
			sub.SyncStatus = value.(types.SyncStatus)
		case FieldRepositoryStatus:
			sub.RepositoryStatus = value.(types.TaskStatus)
		case FieldRepositoryCursor:
			sub.RepositoryCursor = value.(string)
		case FieldTotalRepos:
			sub.TotalRepos = value.(int)
		case FieldBackfillSince:
			switch v := value.(type) {
			case nil:
				sub.BackfillSince = nil
			case time.Time:
				t := v
				sub.BackfillSince = &t
			}
		}
	}
}

func setRepoField(r *types.RepoSyncState, name string, value any) {
	switch name {
	case "pullStatus":
		r.PullStatus = value.(types.TaskStatus)
	case "pullCursor":
		r.PullCursor = value.(string)
	case "branchStatus":
		r.BranchStatus = value.(types.TaskStatus)
	case "branchCursor":
		r.BranchCursor = value.(string)
	case "commitStatus":
		r.CommitStatus = value.(types.TaskStatus)
	case "commitCursor":
		r.CommitCursor = value.(string)
	case "buildStatus":
		r.BuildStatus = value.(types.TaskStatus)
	case "buildCursor":
		r.BuildCursor = value.(string)
	case "deploymentStatus":
		r.DeploymentStatus = value.(types.TaskStatus)
	case "deploymentCursor":
		r.DeploymentCursor = value.(string)
	}
}

// fakeSender records every outgoing follow-up message.
type fakeSender struct {
	mu    sync.Mutex
	sends []sentMessage
}

type sentMessage struct {
	msg   types.BackfillMessage
	delay time.Duration
}

func (f *fakeSender) Send(_ context.Context, msg types.BackfillMessage, delay time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentMessage{msg: msg, delay: delay})
	return "receipt", nil
}

// fakeSubmitter records Jira submissions by path.
type fakeSubmitter struct {
	calls []submission
}

type submission struct {
	path    string
	host    string
	payload *types.JiraPayload
	opts    types.SubmitOptions
}

func (f *fakeSubmitter) SubmitDevInfo(_ context.Context, host string, p *types.JiraPayload, opts types.SubmitOptions) error {
	f.calls = append(f.calls, submission{path: "devinfo", host: host, payload: p, opts: opts})
	return nil
}

func (f *fakeSubmitter) SubmitBuilds(_ context.Context, host string, p *types.JiraPayload, opts types.SubmitOptions) error {
	f.calls = append(f.calls, submission{path: "builds", host: host, payload: p, opts: opts})
	return nil
}

func (f *fakeSubmitter) SubmitDeployments(_ context.Context, host string, p *types.JiraPayload, opts types.SubmitOptions) error {
	f.calls = append(f.calls, submission{path: "deployments", host: host, payload: p, opts: opts})
	return nil
}

// fakeClients satisfies ClientFactory; stub processors never touch the
// client.
type fakeClients struct{}

func (fakeClients) NewInstallationClient(_ context.Context, _ int64, _ *types.GitHubAppConfig) (*ghclient.Client, error) {
	return &ghclient.Client{}, nil
}

// stubProcessor delegates to a closure.
type stubProcessor struct {
	fn func(ctx context.Context, in ProcessInput) (*types.TaskResult, error)
}

func (s stubProcessor) Process(ctx context.Context, in ProcessInput) (*types.TaskResult, error) {
	return s.fn(ctx, in)
}

// completeImmediately is a processor that reports the category exhausted.
func completeImmediately() Processor {
	return stubProcessor{fn: func(context.Context, ProcessInput) (*types.TaskResult, error) {
		return &types.TaskResult{}, nil
	}}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func timePtr(t time.Time) *time.Time {
	return &t
}
