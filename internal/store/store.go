// Package store persists subscriptions and per-repository sync state in a
// shared relational database. All mutation goes through single-statement
// field merges scoped to one record, so concurrent attempts on different
// installations never contend and partial updates cannot interleave.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clintrovert/praxis/internal/backfill"
	"github.com/clintrovert/praxis/pkg/types"
)

// Store is the sqlite-backed progress store.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so sibling stores (e.g. the dedup marker
// store) can share one database.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		installation_id   INTEGER NOT NULL,
		jira_host         TEXT NOT NULL,
		github_app_id     INTEGER NOT NULL DEFAULT 0,
		sync_status       TEXT NOT NULL DEFAULT 'PENDING',
		repository_status TEXT NOT NULL DEFAULT '',
		repository_cursor TEXT NOT NULL DEFAULT '',
		total_repos       INTEGER NOT NULL DEFAULT 0,
		backfill_since    INTEGER,
		updated_at        INTEGER NOT NULL,
		UNIQUE (installation_id, jira_host, github_app_id)
	);

	CREATE TABLE IF NOT EXISTS repo_sync_states (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id   INTEGER NOT NULL,
		repo_id           INTEGER NOT NULL,
		repo_name         TEXT NOT NULL,
		repo_owner        TEXT NOT NULL,
		repo_full_name    TEXT NOT NULL,
		repo_url          TEXT NOT NULL,
		repo_updated_at   INTEGER,
		commit_from       INTEGER,
		pull_status       TEXT NOT NULL DEFAULT '',
		pull_cursor       TEXT NOT NULL DEFAULT '',
		branch_status     TEXT NOT NULL DEFAULT '',
		branch_cursor     TEXT NOT NULL DEFAULT '',
		commit_status     TEXT NOT NULL DEFAULT '',
		commit_cursor     TEXT NOT NULL DEFAULT '',
		build_status      TEXT NOT NULL DEFAULT '',
		build_cursor      TEXT NOT NULL DEFAULT '',
		deployment_status TEXT NOT NULL DEFAULT '',
		deployment_cursor TEXT NOT NULL DEFAULT '',
		UNIQUE (subscription_id, repo_id)
	);

	CREATE INDEX IF NOT EXISTS idx_repo_states_subscription
		ON repo_sync_states (subscription_id);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// appIDValue maps a nil (cloud) app id onto the stored sentinel.
func appIDValue(appID *int64) int64 {
	if appID == nil {
		return 0
	}
	return *appID
}

// EnsureSubscription returns the subscription for the triple, creating a
// PENDING one when none exists yet.
func (s *Store) EnsureSubscription(ctx context.Context, jiraHost string, installationID int64, appID *int64) (*types.Subscription, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (installation_id, jira_host, github_app_id, sync_status, updated_at)
		VALUES (?, ?, ?, 'PENDING', ?)
		ON CONFLICT(installation_id, jira_host, github_app_id) DO NOTHING`,
		installationID, jiraHost, appIDValue(appID), time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return s.FindSubscription(ctx, jiraHost, installationID, appID)
}

// FindSubscription implements backfill.ProgressStore. A missing
// subscription yields (nil, nil), not an error.
func (s *Store) FindSubscription(ctx context.Context, jiraHost string, installationID int64, appID *int64) (*types.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, installation_id, jira_host, github_app_id, sync_status,
		       repository_status, repository_cursor, total_repos, backfill_since, updated_at
		FROM subscriptions
		WHERE installation_id = ? AND jira_host = ? AND github_app_id = ?`,
		installationID, jiraHost, appIDValue(appID))

	var sub types.Subscription
	var storedAppID int64
	var backfillSince sql.NullInt64
	var updatedAt int64
	err := row.Scan(&sub.ID, &sub.InstallationID, &sub.JiraHost, &storedAppID, &sub.SyncStatus,
		&sub.RepositoryStatus, &sub.RepositoryCursor, &sub.TotalRepos, &backfillSince, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	if storedAppID != 0 {
		sub.GitHubAppID = &storedAppID
	}
	if backfillSince.Valid {
		t := time.UnixMilli(backfillSince.Int64)
		sub.BackfillSince = &t
	}
	sub.UpdatedAt = time.UnixMilli(updatedAt)
	return &sub, nil
}

// DeleteSubscription removes a subscription and its repo rows (uninstall).
func (s *Store) DeleteSubscription(ctx context.Context, sub *types.Subscription) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM repo_sync_states WHERE subscription_id = ?`, sub.ID); err != nil {
		return fmt.Errorf("failed to delete repo states: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, sub.ID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return tx.Commit()
}

// FindRepoStates implements backfill.ProgressStore, returning rows ranked
// most-recently-pushed first with descending repo id as the tiebreak.
func (s *Store) FindRepoStates(ctx context.Context, subscriptionID int64) ([]*types.RepoSyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subscription_id, repo_id, repo_name, repo_owner, repo_full_name,
		       repo_url, repo_updated_at, commit_from,
		       pull_status, pull_cursor, branch_status, branch_cursor,
		       commit_status, commit_cursor, build_status, build_cursor,
		       deployment_status, deployment_cursor
		FROM repo_sync_states
		WHERE subscription_id = ?
		ORDER BY (repo_updated_at IS NULL), repo_updated_at DESC, repo_id DESC`,
		subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query repo states: %w", err)
	}
	defer rows.Close()

	var states []*types.RepoSyncState
	for rows.Next() {
		var r types.RepoSyncState
		var repoUpdatedAt, commitFrom sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SubscriptionID, &r.RepoID, &r.RepoName, &r.RepoOwner,
			&r.RepoFullName, &r.RepoURL, &repoUpdatedAt, &commitFrom,
			&r.PullStatus, &r.PullCursor, &r.BranchStatus, &r.BranchCursor,
			&r.CommitStatus, &r.CommitCursor, &r.BuildStatus, &r.BuildCursor,
			&r.DeploymentStatus, &r.DeploymentCursor); err != nil {
			return nil, fmt.Errorf("failed to scan repo state: %w", err)
		}
		if repoUpdatedAt.Valid {
			t := time.UnixMilli(repoUpdatedAt.Int64)
			r.RepoUpdatedAt = &t
		}
		if commitFrom.Valid {
			t := time.UnixMilli(commitFrom.Int64)
			r.CommitFrom = &t
		}
		states = append(states, &r)
	}
	return states, rows.Err()
}

// subscriptionColumns maps merge field names onto subscription columns.
var subscriptionColumns = map[string]string{
	backfill.FieldSyncStatus:       "sync_status",
	backfill.FieldBackfillSince:    "backfill_since",
	backfill.FieldRepositoryStatus: "repository_status",
	backfill.FieldRepositoryCursor: "repository_cursor",
	backfill.FieldTotalRepos:       "total_repos",
}

// repoColumns maps merge field names onto repo_sync_states columns.
var repoColumns = map[string]string{
	"pullStatus":       "pull_status",
	"pullCursor":       "pull_cursor",
	"branchStatus":     "branch_status",
	"branchCursor":     "branch_cursor",
	"commitStatus":     "commit_status",
	"commitCursor":     "commit_cursor",
	"buildStatus":      "build_status",
	"buildCursor":      "build_cursor",
	"deploymentStatus": "deployment_status",
	"deploymentCursor": "deployment_cursor",
}

// MergeSyncFields implements backfill.ProgressStore: one atomic field-merge,
// with each field routed to the record that owns it. The commitFrom field is
// applied as a monotonic minimum so the floor only ever moves earlier, even
// under concurrent merges. Subscription-owned fields are mirrored onto the
// in-memory subscription.
func (s *Store) MergeSyncFields(ctx context.Context, sub *types.Subscription, repoID int64, fields map[string]any) error {
	subFields := make(map[string]any)
	repoFields := make(map[string]any)
	var commitFrom *time.Time

	for name, value := range fields {
		switch {
		case subscriptionColumns[name] != "":
			subFields[name] = value
		case name == backfill.FieldCommitFrom:
			t, ok := value.(time.Time)
			if !ok {
				return fmt.Errorf("commitFrom must be a time, got %T", value)
			}
			commitFrom = &t
		case repoColumns[name] != "":
			repoFields[name] = value
		default:
			return fmt.Errorf("unknown sync field %q", name)
		}
	}

	if len(subFields) > 0 {
		if err := s.UpdateSubscription(ctx, sub, subFields); err != nil {
			return err
		}
	}
	if len(repoFields) == 0 && commitFrom == nil {
		return nil
	}

	var sets []string
	var args []any
	for name, value := range repoFields {
		sets = append(sets, repoColumns[name]+" = ?")
		args = append(args, columnValue(value))
	}
	if commitFrom != nil {
		ms := commitFrom.UnixMilli()
		sets = append(sets, "commit_from = CASE WHEN commit_from IS NULL OR commit_from > ? THEN ? ELSE commit_from END")
		args = append(args, ms, ms)
	}
	args = append(args, sub.ID, repoID)

	_, err := s.db.ExecContext(ctx,
		"UPDATE repo_sync_states SET "+strings.Join(sets, ", ")+" WHERE subscription_id = ? AND repo_id = ?",
		args...)
	if err != nil {
		return fmt.Errorf("failed to merge repo sync fields: %w", err)
	}
	return nil
}

// UpdateSubscription implements backfill.ProgressStore for subscription-
// owned fields, mirroring them onto the in-memory value so callers see the
// state they just wrote.
func (s *Store) UpdateSubscription(ctx context.Context, sub *types.Subscription, fields map[string]any) error {
	var sets []string
	var args []any
	for name, value := range fields {
		col := subscriptionColumns[name]
		if col == "" {
			return fmt.Errorf("unknown subscription field %q", name)
		}
		sets = append(sets, col+" = ?")
		args = append(args, columnValue(value))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UnixMilli(), sub.ID)

	_, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET "+strings.Join(sets, ", ")+" WHERE id = ?",
		args...)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	mirrorSubscription(sub, fields)
	return nil
}

// UpsertRepoStates implements backfill.DiscoveryStore: insert newly
// discovered repositories (refreshing identity fields on re-discovery) and
// keep the subscription's total in step.
func (s *Store) UpsertRepoStates(ctx context.Context, sub *types.Subscription, repos []types.Repository) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, repo := range repos {
		var updatedAt any
		if repo.UpdatedAt != nil {
			updatedAt = repo.UpdatedAt.UnixMilli()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO repo_sync_states (subscription_id, repo_id, repo_name, repo_owner, repo_full_name, repo_url, repo_updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(subscription_id, repo_id) DO UPDATE SET
				repo_name = excluded.repo_name,
				repo_owner = excluded.repo_owner,
				repo_full_name = excluded.repo_full_name,
				repo_url = excluded.repo_url,
				repo_updated_at = excluded.repo_updated_at`,
			sub.ID, repo.ID, repo.Name, repo.Owner, repo.FullName, repo.URL, updatedAt); err != nil {
			return fmt.Errorf("failed to upsert repo state: %w", err)
		}
	}

	var total int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repo_sync_states WHERE subscription_id = ?`, sub.ID,
	).Scan(&total); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET total_repos = ? WHERE id = ?`, total, sub.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	sub.TotalRepos = total
	return nil
}

// ResetForBackfill prepares a subscription for a (re-)backfill: targeted
// category statuses and cursors are cleared so selection revisits them. An
// empty target set resets discovery and every category.
func (s *Store) ResetForBackfill(ctx context.Context, sub *types.Subscription, targets []types.TaskType) error {
	if len(targets) == 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE repo_sync_states SET
				pull_status = '', pull_cursor = '',
				branch_status = '', branch_cursor = '',
				commit_status = '', commit_cursor = '',
				build_status = '', build_cursor = '',
				deployment_status = '', deployment_cursor = ''
			WHERE subscription_id = ?`, sub.ID); err != nil {
			return fmt.Errorf("failed to reset repo states: %w", err)
		}
		return s.UpdateSubscription(ctx, sub, map[string]any{
			backfill.FieldSyncStatus:       types.SyncPending,
			backfill.FieldRepositoryStatus: types.StatusUnset,
			backfill.FieldRepositoryCursor: "",
		})
	}

	var sets []string
	for _, t := range targets {
		statusCol, ok := repoColumns[backfill.StatusField(t)]
		if !ok {
			return fmt.Errorf("unknown target task %q", t)
		}
		cursorCol := repoColumns[backfill.CursorField(t)]
		sets = append(sets, statusCol+" = ''", cursorCol+" = ''")
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE repo_sync_states SET "+strings.Join(sets, ", ")+" WHERE subscription_id = ?",
		sub.ID); err != nil {
		return fmt.Errorf("failed to reset targeted states: %w", err)
	}
	return s.UpdateSubscription(ctx, sub, map[string]any{
		backfill.FieldSyncStatus: types.SyncPending,
	})
}

// columnValue converts engine-level values into their stored form.
func columnValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case types.SyncStatus:
		return string(t)
	case types.TaskStatus:
		return string(t)
	case time.Time:
		return t.UnixMilli()
	default:
		return v
	}
}

// mirrorSubscription applies written fields to the in-memory value.
func mirrorSubscription(sub *types.Subscription, fields map[string]any) {
	for name, value := range fields {
		switch name {
		case backfill.FieldSyncStatus:
			if v, ok := value.(types.SyncStatus); ok {
				sub.SyncStatus = v
			}
		case backfill.FieldRepositoryStatus:
			if v, ok := value.(types.TaskStatus); ok {
				sub.RepositoryStatus = v
			}
		case backfill.FieldRepositoryCursor:
			if v, ok := value.(string); ok {
				sub.RepositoryCursor = v
			}
		case backfill.FieldTotalRepos:
			if v, ok := value.(int); ok {
				sub.TotalRepos = v
			}
		case backfill.FieldBackfillSince:
			switch v := value.(type) {
			case nil:
				sub.BackfillSince = nil
			case time.Time:
				t := v
				sub.BackfillSince = &t
			}
		}
	}
	sub.UpdatedAt = time.Now()
}
