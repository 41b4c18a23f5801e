package backfill

import (
	"context"
	"fmt"
	"sort"

	"github.com/clintrovert/praxis/pkg/types"
)

// ProgressStore is the durable state consumed by the engine. Implementations
// must apply MergeSyncFields as a single atomic field-merge, routing each
// field to the record that owns it (subscription for discovery fields, the
// repo row for category fields).
type ProgressStore interface {
	FindSubscription(ctx context.Context, jiraHost string, installationID int64, appID *int64) (*types.Subscription, error)
	FindRepoStates(ctx context.Context, subscriptionID int64) ([]*types.RepoSyncState, error)
	MergeSyncFields(ctx context.Context, sub *types.Subscription, repoID int64, fields map[string]any) error
	UpdateSubscription(ctx context.Context, sub *types.Subscription, fields map[string]any) error
}

// NextTask computes the single next unit of work for a subscription, or nil
// when every repository and category is complete.
//
// Repository discovery always runs first. After discovery, repositories are
// ranked most-recently-updated-upstream first, with descending id as the
// tiebreak, and the first outstanding category in fixed order wins. The
// ranking is a product decision (surface fresh repositories first) and must
// stay deterministic.
func NextTask(ctx context.Context, store ProgressStore, sub *types.Subscription, filter []types.TaskType) (*types.Task, error) {
	if sub.RepositoryStatus != types.StatusComplete {
		return &types.Task{
			Type:   types.TaskRepository,
			Cursor: sub.RepositoryCursor,
		}, nil
	}

	repos, err := store.FindRepoStates(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load repo sync states: %w", err)
	}
	rankRepoStates(repos)

	targets := TargetTasks(filter)
	for _, repo := range repos {
		for _, t := range targets {
			status := repo.StatusFor(t)
			if status == types.StatusUnset || status == types.StatusPending {
				return &types.Task{
					Type:         t,
					RepositoryID: repo.RepoID,
					Repository:   repo.Repository(),
					Cursor:       repo.CursorFor(t),
				}, nil
			}
		}
	}
	return nil, nil
}

// rankRepoStates sorts in place by (RepoUpdatedAt DESC, RepoID DESC). Rows
// without an upstream timestamp sort last, among themselves by id.
func rankRepoStates(repos []*types.RepoSyncState) {
	sort.SliceStable(repos, func(i, j int) bool {
		a, b := repos[i], repos[j]
		switch {
		case a.RepoUpdatedAt == nil && b.RepoUpdatedAt == nil:
			return a.RepoID > b.RepoID
		case a.RepoUpdatedAt == nil:
			return false
		case b.RepoUpdatedAt == nil:
			return true
		case a.RepoUpdatedAt.Equal(*b.RepoUpdatedAt):
			return a.RepoID > b.RepoID
		default:
			return a.RepoUpdatedAt.After(*b.RepoUpdatedAt)
		}
	})
}
