package types

import (
	"strconv"
	"time"
)

// SyncStatus is the overall state of one subscription's backfill.
type SyncStatus string

const (
	SyncPending  SyncStatus = "PENDING"
	SyncActive   SyncStatus = "ACTIVE"
	SyncComplete SyncStatus = "COMPLETE"
	SyncFailed   SyncStatus = "FAILED"
)

// TaskStatus is the per-category state within one repository.
// The zero value means the category has never been attempted.
type TaskStatus string

const (
	StatusUnset    TaskStatus = ""
	StatusPending  TaskStatus = "pending"
	StatusComplete TaskStatus = "complete"
	StatusFailed   TaskStatus = "failed"
)

// Subscription links one GitHub installation to one Jira tenant and tracks
// the overall backfill state, including repository discovery progress.
type Subscription struct {
	ID               int64
	InstallationID   int64
	JiraHost         string
	GitHubAppID      *int64 // nil for the cloud product
	SyncStatus       SyncStatus
	RepositoryStatus TaskStatus
	RepositoryCursor string
	TotalRepos       int
	BackfillSince    *time.Time
	UpdatedAt        time.Time
}

// Product names the GitHub product variant this subscription syncs from.
func (s *Subscription) Product() string {
	if s.GitHubAppID != nil {
		return "server"
	}
	return "cloud"
}

// DedupKey identifies the mutual-exclusion domain for this subscription's
// sync. Cloud and server installs of the same org sync independently.
func (s *Subscription) DedupKey() string {
	app := "cloud"
	if s.GitHubAppID != nil {
		app = strconv.FormatInt(*s.GitHubAppID, 10)
	}
	return strconv.FormatInt(s.InstallationID, 10) + "-" + s.JiraHost + "-" + app
}

// RepoSyncState is one repository's per-category progress within a
// subscription. A category cursor is meaningful only while its status is
// pending; it is ignored once the category is complete.
type RepoSyncState struct {
	ID             int64
	SubscriptionID int64
	RepoID         int64
	RepoName       string
	RepoOwner      string
	RepoFullName   string
	RepoURL        string
	RepoUpdatedAt  *time.Time
	CommitFrom     *time.Time

	PullStatus       TaskStatus
	PullCursor       string
	BranchStatus     TaskStatus
	BranchCursor     string
	CommitStatus     TaskStatus
	CommitCursor     string
	BuildStatus      TaskStatus
	BuildCursor      string
	DeploymentStatus TaskStatus
	DeploymentCursor string
}

// StatusFor returns the stored status for a history category.
func (r *RepoSyncState) StatusFor(t TaskType) TaskStatus {
	switch t {
	case TaskPull:
		return r.PullStatus
	case TaskBranch:
		return r.BranchStatus
	case TaskCommit:
		return r.CommitStatus
	case TaskBuild:
		return r.BuildStatus
	case TaskDeployment:
		return r.DeploymentStatus
	}
	return StatusUnset
}

// CursorFor returns the stored cursor for a history category.
func (r *RepoSyncState) CursorFor(t TaskType) string {
	switch t {
	case TaskPull:
		return r.PullCursor
	case TaskBranch:
		return r.BranchCursor
	case TaskCommit:
		return r.CommitCursor
	case TaskBuild:
		return r.BuildCursor
	case TaskDeployment:
		return r.DeploymentCursor
	}
	return ""
}

// Repository is the denormalized repository snapshot carried inside a Task.
func (r *RepoSyncState) Repository() Repository {
	return Repository{
		ID:        r.RepoID,
		Name:      r.RepoName,
		Owner:     r.RepoOwner,
		FullName:  r.RepoFullName,
		URL:       r.RepoURL,
		UpdatedAt: r.RepoUpdatedAt,
	}
}

// Repository identifies one GitHub repository discovered for a subscription.
type Repository struct {
	ID        int64
	Name      string
	Owner     string
	FullName  string
	URL       string
	UpdatedAt *time.Time
}
