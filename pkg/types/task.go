package types

import (
	"strconv"
	"time"
)

// TaskType is one kind of sync work. TaskRepository is the discovery step
// that enumerates repositories; the rest are history categories fetched per
// repository.
type TaskType string

const (
	TaskRepository TaskType = "repository"
	TaskPull       TaskType = "pull"
	TaskBranch     TaskType = "branch"
	TaskCommit     TaskType = "commit"
	TaskBuild      TaskType = "build"
	TaskDeployment TaskType = "deployment"
)

// Task is one unit of work derived from subscription state at selection
// time. It is never persisted; it lives for exactly one attempt.
type Task struct {
	Type         TaskType
	RepositoryID int64
	Repository   Repository
	Cursor       string
}

// BackfillMessage is the queue message body driving one backfill attempt.
// It is immutable once received; follow-up messages carry the same fields.
type BackfillMessage struct {
	InstallationID  int64            `json:"installationId"`
	JiraHost        string           `json:"jiraHost"`
	GitHubAppConfig *GitHubAppConfig `json:"gitHubAppConfig,omitempty"`
	TargetTasks     []TaskType       `json:"targetTasks,omitempty"`
	CommitsFromDate *time.Time       `json:"commitsFromDate,omitempty"`
	StartTime       *time.Time       `json:"startTime,omitempty"`
}

// DedupKey identifies this message's mutual-exclusion domain, matching
// Subscription.DedupKey for the same installation.
func (m *BackfillMessage) DedupKey() string {
	app := "cloud"
	if m.GitHubAppConfig != nil {
		app = strconv.FormatInt(m.GitHubAppConfig.AppID, 10)
	}
	return strconv.FormatInt(m.InstallationID, 10) + "-" + m.JiraHost + "-" + app
}

// GitHubAppConfig carries the connection details for a GitHub Enterprise
// Server app. Absent on cloud installs.
type GitHubAppConfig struct {
	AppID      int64  `json:"appId"`
	APIBaseURL string `json:"apiBaseUrl"`
	ClientID   string `json:"clientId"`
}

// Edge is one upstream record plus the pagination cursor that resumes the
// fetch after it.
type Edge struct {
	Cursor string
}

// TaskResult is what a task processor returns for one page. Empty Edges is
// the sentinel for "this category is exhausted for this repository".
type TaskResult struct {
	Edges       []Edge
	JiraPayload *JiraPayload
}

// Complete reports whether the result exhausted the category.
func (r *TaskResult) Complete() bool {
	return r == nil || len(r.Edges) == 0
}

// LastCursor returns the cursor of the final edge, or empty when the page
// carried no edges.
func (r *TaskResult) LastCursor() string {
	if r == nil || len(r.Edges) == 0 {
		return ""
	}
	return r.Edges[len(r.Edges)-1].Cursor
}
