// Package jira forwards backfill payloads to Jira's development-information,
// builds and deployments ingestion endpoints.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	jira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/pkg/types"
)

const (
	devInfoPath     = "/rest/devinfo/0.10/bulk"
	buildsPath      = "/rest/builds/0.1/bulk"
	deploymentsPath = "/rest/deployments/0.1/bulk"
)

// Submitter posts backfill payloads to Jira tenants. Clients are created per
// host and reused; one submitter serves every subscription.
type Submitter struct {
	username string
	apiToken string
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[string]*jira.Client
}

// NewSubmitter creates a submitter authenticating with the given credentials.
func NewSubmitter(username, apiToken string, logger *zap.Logger) *Submitter {
	return &Submitter{
		username: username,
		apiToken: apiToken,
		logger:   logger,
		clients:  make(map[string]*jira.Client),
	}
}

// SubmitDevInfo posts commits, branches and pull requests.
func (s *Submitter) SubmitDevInfo(ctx context.Context, jiraHost string, p *types.JiraPayload, opts types.SubmitOptions) error {
	body := map[string]any{
		"repositories":       p.Repositories,
		"preventTransitions": opts.PreventTransitions,
		"properties":         map[string]string{"operationType": opts.OperationType},
	}
	return s.post(ctx, jiraHost, devInfoPath, body)
}

// SubmitBuilds posts CI build data.
func (s *Submitter) SubmitBuilds(ctx context.Context, jiraHost string, p *types.JiraPayload, opts types.SubmitOptions) error {
	body := map[string]any{
		"builds":             p.Builds,
		"preventTransitions": opts.PreventTransitions,
		"properties":         map[string]string{"operationType": opts.OperationType},
	}
	return s.post(ctx, jiraHost, buildsPath, body)
}

// SubmitDeployments posts deployment data.
func (s *Submitter) SubmitDeployments(ctx context.Context, jiraHost string, p *types.JiraPayload, opts types.SubmitOptions) error {
	body := map[string]any{
		"deployments":        p.Deployments,
		"preventTransitions": opts.PreventTransitions,
		"properties":         map[string]string{"operationType": opts.OperationType},
	}
	return s.post(ctx, jiraHost, deploymentsPath, body)
}

func (s *Submitter) post(ctx context.Context, jiraHost, path string, body any) error {
	client, err := s.clientFor(jiraHost)
	if err != nil {
		return err
	}

	req, err := client.NewRequestWithContext(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("failed to build jira request: %w", err)
	}

	resp, err := client.Do(req, nil)
	if err != nil {
		return fmt.Errorf("failed to submit to jira %s: %w", path, err)
	}
	defer resp.Body.Close()

	s.logger.Debug("submitted payload to jira",
		zap.String("jira_host", jiraHost),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}

func (s *Submitter) clientFor(jiraHost string) (*jira.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[jiraHost]; ok {
		return client, nil
	}

	tp := jira.BasicAuthTransport{
		Username: s.username,
		Password: s.apiToken,
	}
	client, err := jira.NewClient(tp.Client(), jiraHost)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client for %s: %w", jiraHost, err)
	}
	s.clients[jiraHost] = client
	return client, nil
}
