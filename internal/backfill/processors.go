package backfill

import (
	"context"
	"regexp"
	"strconv"
	"time"

	gh "github.com/google/go-github/v57/github"

	"github.com/clintrovert/praxis/pkg/types"
)

// issueKeyPattern matches Jira issue keys ("PROJ-123") in free text. Records
// that reference no issue are fetched for progress accounting but excluded
// from the Jira payload.
var issueKeyPattern = regexp.MustCompile(`[A-Z][A-Z0-9]+-[0-9]+`)

func issueKeys(text string) []string {
	return issueKeyPattern.FindAllString(text, -1)
}

// DiscoveryStore persists repositories as discovery pages arrive. The total
// repository count on the subscription is maintained by the implementation.
type DiscoveryStore interface {
	UpsertRepoStates(ctx context.Context, sub *types.Subscription, repos []types.Repository) error
}

// RepositoryProcessor is the discovery step: it enumerates repositories
// visible to the installation and records a sync-state row for each.
type RepositoryProcessor struct {
	store DiscoveryStore
}

// NewRepositoryProcessor creates the discovery processor.
func NewRepositoryProcessor(store DiscoveryStore) *RepositoryProcessor {
	return &RepositoryProcessor{store: store}
}

// Process fetches one page of repositories and upserts their rows.
func (p *RepositoryProcessor) Process(ctx context.Context, in ProcessInput) (*types.TaskResult, error) {
	repos, next, err := in.Client.ListRepositories(ctx, in.Cursor, in.PageSize)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return &types.TaskResult{}, nil
	}

	discovered := make([]types.Repository, 0, len(repos))
	for _, r := range repos {
		repo := types.Repository{
			ID:       r.GetID(),
			Name:     r.GetName(),
			Owner:    r.GetOwner().GetLogin(),
			FullName: r.GetFullName(),
			URL:      r.GetHTMLURL(),
		}
		if ts := r.GetPushedAt(); !ts.IsZero() {
			t := ts.Time
			repo.UpdatedAt = &t
		}
		discovered = append(discovered, repo)
	}
	if err := p.store.UpsertRepoStates(ctx, in.Subscription, discovered); err != nil {
		return nil, err
	}

	return &types.TaskResult{Edges: edgesFor(len(repos), next)}, nil
}

// PullProcessor fetches one page of pull requests.
type PullProcessor struct{}

// Process implements the pull category.
func (PullProcessor) Process(ctx context.Context, in ProcessInput) (*types.TaskResult, error) {
	pulls, next, err := in.Client.ListPullRequests(ctx, in.Repository.Owner, in.Repository.Name, in.Cursor, in.PageSize)
	if err != nil {
		return nil, err
	}
	if len(pulls) == 0 {
		return &types.TaskResult{}, nil
	}

	var entries []types.DevInfoPullReq
	for _, pr := range pulls {
		keys := issueKeys(pr.GetTitle() + " " + pr.GetHead().GetRef())
		if len(keys) == 0 {
			continue
		}
		entries = append(entries, types.DevInfoPullReq{
			ID:         strconv.Itoa(pr.GetNumber()),
			IssueKeys:  keys,
			Title:      pr.GetTitle(),
			Status:     pr.GetState(),
			URL:        pr.GetHTMLURL(),
			LastUpdate: pr.GetUpdatedAt().Time,
		})
	}

	return &types.TaskResult{
		Edges:       edgesFor(len(pulls), next),
		JiraPayload: devInfoPayload(in, func(r *types.DevInfoRepository) { r.PullRequests = entries }),
	}, nil
}

// BranchProcessor fetches one page of branches.
type BranchProcessor struct{}

// Process implements the branch category.
func (BranchProcessor) Process(ctx context.Context, in ProcessInput) (*types.TaskResult, error) {
	branches, next, err := in.Client.ListBranches(ctx, in.Repository.Owner, in.Repository.Name, in.Cursor, in.PageSize)
	if err != nil {
		return nil, err
	}
	if len(branches) == 0 {
		return &types.TaskResult{}, nil
	}

	var entries []types.DevInfoBranch
	for _, b := range branches {
		keys := issueKeys(b.GetName())
		if len(keys) == 0 {
			continue
		}
		entries = append(entries, types.DevInfoBranch{
			ID:        b.GetName(),
			Name:      b.GetName(),
			IssueKeys: keys,
			URL:       in.Repository.URL + "/tree/" + b.GetName(),
		})
	}

	return &types.TaskResult{
		Edges:       edgesFor(len(branches), next),
		JiraPayload: devInfoPayload(in, func(r *types.DevInfoRepository) { r.Branches = entries }),
	}, nil
}

// CommitProcessor fetches one page of commits, bounded below by the
// message's commit floor when present.
type CommitProcessor struct{}

// Process implements the commit category.
func (CommitProcessor) Process(ctx context.Context, in ProcessInput) (*types.TaskResult, error) {
	commits, next, err := in.Client.ListCommits(ctx, in.Repository.Owner, in.Repository.Name, in.Message.CommitsFromDate, in.Cursor, in.PageSize)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return &types.TaskResult{}, nil
	}

	var entries []types.DevInfoCommit
	for _, c := range commits {
		keys := issueKeys(c.GetCommit().GetMessage())
		if len(keys) == 0 {
			continue
		}
		entries = append(entries, types.DevInfoCommit{
			ID:              c.GetSHA(),
			IssueKeys:       keys,
			Message:         c.GetCommit().GetMessage(),
			URL:             c.GetHTMLURL(),
			AuthorTimestamp: c.GetCommit().GetAuthor().GetDate().Time,
		})
	}

	return &types.TaskResult{
		Edges:       edgesFor(len(commits), next),
		JiraPayload: devInfoPayload(in, func(r *types.DevInfoRepository) { r.Commits = entries }),
	}, nil
}

// BuildProcessor fetches one page of workflow runs.
type BuildProcessor struct{}

// Process implements the build category.
func (BuildProcessor) Process(ctx context.Context, in ProcessInput) (*types.TaskResult, error) {
	runs, next, err := in.Client.ListWorkflowRuns(ctx, in.Repository.Owner, in.Repository.Name, in.Cursor, in.PageSize)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return &types.TaskResult{}, nil
	}

	var builds []types.JiraBuild
	for _, run := range runs {
		keys := issueKeys(run.GetDisplayTitle() + " " + run.GetHeadBranch())
		if len(keys) == 0 {
			continue
		}
		builds = append(builds, types.JiraBuild{
			PipelineID:  strconv.FormatInt(run.GetWorkflowID(), 10),
			BuildNumber: int64(run.GetRunNumber()),
			DisplayName: run.GetDisplayTitle(),
			State:       buildState(run),
			URL:         run.GetHTMLURL(),
			IssueKeys:   keys,
			LastUpdated: run.GetUpdatedAt().Time,
		})
	}

	result := &types.TaskResult{Edges: edgesFor(len(runs), next)}
	if len(builds) > 0 {
		result.JiraPayload = &types.JiraPayload{Builds: builds}
	}
	return result, nil
}

// DeploymentProcessor fetches one page of deployments.
type DeploymentProcessor struct{}

// Process implements the deployment category.
func (DeploymentProcessor) Process(ctx context.Context, in ProcessInput) (*types.TaskResult, error) {
	deployments, next, err := in.Client.ListDeployments(ctx, in.Repository.Owner, in.Repository.Name, in.Cursor, in.PageSize)
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return &types.TaskResult{}, nil
	}

	var entries []types.JiraDeployment
	for _, d := range deployments {
		keys := issueKeys(d.GetRef() + " " + d.GetDescription())
		if len(keys) == 0 {
			continue
		}
		entries = append(entries, types.JiraDeployment{
			DeploymentSeqNumber: d.GetID(),
			Environment:         d.GetEnvironment(),
			State:               "unknown",
			URL:                 d.GetURL(),
			IssueKeys:           keys,
			LastUpdated:         d.GetUpdatedAt().Time,
		})
	}

	result := &types.TaskResult{Edges: edgesFor(len(deployments), next)}
	if len(entries) > 0 {
		result.JiraPayload = &types.JiraPayload{Deployments: entries}
	}
	return result, nil
}

// DefaultCatalog wires the production processors.
func DefaultCatalog(discovery DiscoveryStore) *Catalog {
	return NewCatalog(map[types.TaskType]Processor{
		types.TaskRepository: NewRepositoryProcessor(discovery),
		types.TaskPull:       PullProcessor{},
		types.TaskBranch:     BranchProcessor{},
		types.TaskCommit:     CommitProcessor{},
		types.TaskBuild:      BuildProcessor{},
		types.TaskDeployment: DeploymentProcessor{},
	})
}

// edgesFor builds n edges all resuming at the same next-page cursor; the
// engine only reads the cursor of the final edge.
func edgesFor(n int, cursor string) []types.Edge {
	edges := make([]types.Edge, n)
	for i := range edges {
		edges[i] = types.Edge{Cursor: cursor}
	}
	return edges
}

// devInfoPayload wraps category entries in the repository envelope devinfo
// submissions require. Returns nil when the page produced no linked records.
func devInfoPayload(in ProcessInput, fill func(*types.DevInfoRepository)) *types.JiraPayload {
	repo := types.DevInfoRepository{
		ID:          strconv.FormatInt(in.Repository.ID, 10),
		Name:        in.Repository.FullName,
		URL:         in.Repository.URL,
		UpdateSeqID: time.Now().UnixMilli(),
	}
	fill(&repo)
	if len(repo.Commits) == 0 && len(repo.Branches) == 0 && len(repo.PullRequests) == 0 {
		return nil
	}
	return &types.JiraPayload{Repositories: []types.DevInfoRepository{repo}}
}

func buildState(run *gh.WorkflowRun) string {
	switch run.GetConclusion() {
	case "success":
		return "successful"
	case "failure", "timed_out":
		return "failed"
	case "cancelled":
		return "cancelled"
	default:
		return "in_progress"
	}
}
