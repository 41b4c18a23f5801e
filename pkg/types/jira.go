package types

import "time"

// JiraPayload is the data a processor hands to the Jira submission path.
// Exactly one of the three slices is populated, matching the task type that
// produced it.
type JiraPayload struct {
	Repositories []DevInfoRepository `json:"repositories,omitempty"`
	Builds       []JiraBuild         `json:"builds,omitempty"`
	Deployments  []JiraDeployment    `json:"deployments,omitempty"`
}

// Empty reports whether there is nothing to submit.
func (p *JiraPayload) Empty() bool {
	return p == nil || (len(p.Repositories) == 0 && len(p.Builds) == 0 && len(p.Deployments) == 0)
}

// SubmitOptions control how Jira treats a submission. Backfills always set
// PreventTransitions so historical data cannot fire workflow transitions.
type SubmitOptions struct {
	PreventTransitions bool
	OperationType      string
}

// DevInfoRepository is one repository's development-information update:
// commits, branches and pull requests attributed to Jira issue keys.
type DevInfoRepository struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	UpdateSeqID  int64             `json:"updateSequenceId"`
	Commits      []DevInfoCommit   `json:"commits,omitempty"`
	Branches     []DevInfoBranch   `json:"branches,omitempty"`
	PullRequests []DevInfoPullReq  `json:"pullRequests,omitempty"`
}

// DevInfoCommit is one commit entry in a devinfo update.
type DevInfoCommit struct {
	ID             string    `json:"id"`
	IssueKeys      []string  `json:"issueKeys"`
	Message        string    `json:"message"`
	URL            string    `json:"url"`
	AuthorTimestamp time.Time `json:"authorTimestamp"`
}

// DevInfoBranch is one branch entry in a devinfo update.
type DevInfoBranch struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	IssueKeys []string `json:"issueKeys"`
	URL       string   `json:"url"`
}

// DevInfoPullReq is one pull-request entry in a devinfo update.
type DevInfoPullReq struct {
	ID         string    `json:"id"`
	IssueKeys  []string  `json:"issueKeys"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	URL        string    `json:"url"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// JiraBuild is one CI build entry for the builds submission path.
type JiraBuild struct {
	PipelineID  string    `json:"pipelineId"`
	BuildNumber int64     `json:"buildNumber"`
	DisplayName string    `json:"displayName"`
	State       string    `json:"state"`
	URL         string    `json:"url"`
	IssueKeys   []string  `json:"issueKeys"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// JiraDeployment is one deployment entry for the deployments submission path.
type JiraDeployment struct {
	DeploymentSeqNumber int64     `json:"deploymentSequenceNumber"`
	Environment         string    `json:"environment"`
	State               string    `json:"state"`
	URL                 string    `json:"url"`
	IssueKeys           []string  `json:"issueKeys"`
	LastUpdated         time.Time `json:"lastUpdated"`
}
