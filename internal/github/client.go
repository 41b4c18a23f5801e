package github

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/clintrovert/praxis/pkg/types"
)

// ErrNotFound marks an upstream response saying the requested repository no
// longer exists. The engine treats it as "nothing left to fetch" rather than
// a failure, so a deleted repository cannot stall a sync.
var ErrNotFound = errors.New("github: resource not found")

// Client wraps the GitHub API for one installation. Cursors are opaque to
// callers; internally they encode the next REST page number.
type Client struct {
	api    *gh.Client
	logger *zap.Logger
}

// NewClient creates an installation client authenticated with the given
// access token.
func NewClient(accessToken string, logger *zap.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	tc := oauth2.NewClient(context.Background(), ts)
	return &Client{
		api:    gh.NewClient(tc),
		logger: logger,
	}
}

// NewEnterpriseClient creates a client against a GitHub Enterprise Server
// instance.
func NewEnterpriseClient(accessToken, baseURL string, logger *zap.Logger) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	tc := oauth2.NewClient(context.Background(), ts)
	api, err := gh.NewClient(tc).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create enterprise client: %w", err)
	}
	return &Client{api: api, logger: logger}, nil
}

// ClientFactory builds per-installation clients for the engine.
type ClientFactory struct {
	accessToken string
	logger      *zap.Logger
}

// NewClientFactory creates a factory issuing clients with the given token.
func NewClientFactory(accessToken string, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{accessToken: accessToken, logger: logger}
}

// NewInstallationClient returns a client for one installation, targeting
// GitHub Enterprise Server when the message carries an app config.
func (f *ClientFactory) NewInstallationClient(ctx context.Context, installationID int64, app *types.GitHubAppConfig) (*Client, error) {
	logger := f.logger.With(zap.Int64("installation_id", installationID))
	if app != nil && app.APIBaseURL != "" {
		return NewEnterpriseClient(f.accessToken, app.APIBaseURL, logger)
	}
	return NewClient(f.accessToken, logger), nil
}

// ListRepositories returns one page of repositories visible to the
// installation, with the cursor resuming after it.
func (c *Client) ListRepositories(ctx context.Context, cursor string, pageSize int) ([]*gh.Repository, string, error) {
	page, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	repos, _, err := c.api.Apps.ListRepos(ctx, &gh.ListOptions{Page: page, PerPage: pageSize})
	if err != nil {
		return nil, "", translate(err)
	}
	if repos == nil || len(repos.Repositories) == 0 {
		return nil, "", nil
	}
	return repos.Repositories, nextCursor(page), nil
}

// ListPullRequests returns one page of pull requests for a repository,
// most recently updated first.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo, cursor string, pageSize int) ([]*gh.PullRequest, string, error) {
	page, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	pulls, _, err := c.api.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{Page: page, PerPage: pageSize},
	})
	if err != nil {
		return nil, "", translate(err)
	}
	if len(pulls) == 0 {
		return nil, "", nil
	}
	return pulls, nextCursor(page), nil
}

// ListBranches returns one page of branches for a repository.
func (c *Client) ListBranches(ctx context.Context, owner, repo, cursor string, pageSize int) ([]*gh.Branch, string, error) {
	page, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	branches, _, err := c.api.Repositories.ListBranches(ctx, owner, repo, &gh.BranchListOptions{
		ListOptions: gh.ListOptions{Page: page, PerPage: pageSize},
	})
	if err != nil {
		return nil, "", translate(err)
	}
	if len(branches) == 0 {
		return nil, "", nil
	}
	return branches, nextCursor(page), nil
}

// ListCommits returns one page of commits for a repository. A non-nil since
// bounds history to commits after that instant.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, since *time.Time, cursor string, pageSize int) ([]*gh.RepositoryCommit, string, error) {
	page, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	opts := &gh.CommitsListOptions{
		ListOptions: gh.ListOptions{Page: page, PerPage: pageSize},
	}
	if since != nil {
		opts.Since = *since
	}
	commits, _, err := c.api.Repositories.ListCommits(ctx, owner, repo, opts)
	if err != nil {
		return nil, "", translate(err)
	}
	if len(commits) == 0 {
		return nil, "", nil
	}
	return commits, nextCursor(page), nil
}

// ListWorkflowRuns returns one page of workflow runs for a repository.
func (c *Client) ListWorkflowRuns(ctx context.Context, owner, repo, cursor string, pageSize int) ([]*gh.WorkflowRun, string, error) {
	page, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	runs, _, err := c.api.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &gh.ListWorkflowRunsOptions{
		ListOptions: gh.ListOptions{Page: page, PerPage: pageSize},
	})
	if err != nil {
		return nil, "", translate(err)
	}
	if runs == nil || len(runs.WorkflowRuns) == 0 {
		return nil, "", nil
	}
	return runs.WorkflowRuns, nextCursor(page), nil
}

// ListDeployments returns one page of deployments for a repository.
func (c *Client) ListDeployments(ctx context.Context, owner, repo, cursor string, pageSize int) ([]*gh.Deployment, string, error) {
	page, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	deployments, _, err := c.api.Repositories.ListDeployments(ctx, owner, repo, &gh.DeploymentsListOptions{
		ListOptions: gh.ListOptions{Page: page, PerPage: pageSize},
	})
	if err != nil {
		return nil, "", translate(err)
	}
	if len(deployments) == 0 {
		return nil, "", nil
	}
	return deployments, nextCursor(page), nil
}

// parseCursor decodes a stored cursor. Empty means start from the first
// page.
func parseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(cursor)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return page, nil
}

// nextCursor encodes the position after the current page. Fetching past the
// final page yields an empty result, which is the completion sentinel.
func nextCursor(page int) string {
	return strconv.Itoa(page + 1)
}

// translate maps a 404 into ErrNotFound while keeping go-github's typed
// rate-limit errors intact for the classifier.
func translate(err error) error {
	var ger *gh.ErrorResponse
	if errors.As(err, &ger) && ger.Response != nil && ger.Response.StatusCode == 404 {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
