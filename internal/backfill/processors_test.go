package backfill

import (
	"testing"

	gh "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clintrovert/praxis/pkg/types"
)

func TestIssueKeys(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single key", "PROJ-123 fix login", []string{"PROJ-123"}},
		{"key mid-sentence", "fix login for PROJ-123 again", []string{"PROJ-123"}},
		{"multiple keys", "PROJ-1 and OPS2-44", []string{"PROJ-1", "OPS2-44"}},
		{"branch name", "feature/ABC-99-add-retries", []string{"ABC-99"}},
		{"no key", "fix login", nil},
		{"lowercase is not a key", "proj-123", nil},
		{"single-letter project is not a key", "A-1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, issueKeys(tt.text))
		})
	}
}

func TestEdgesFor(t *testing.T) {
	edges := edgesFor(3, "7")
	require.Len(t, edges, 3)
	for _, e := range edges {
		assert.Equal(t, "7", e.Cursor)
	}
	assert.Empty(t, edgesFor(0, "7"))
}

func TestDevInfoPayload(t *testing.T) {
	in := ProcessInput{Repository: types.Repository{
		ID:       10,
		FullName: "org/repo",
		URL:      "https://github.com/org/repo",
	}}

	t.Run("no linked records means no payload", func(t *testing.T) {
		p := devInfoPayload(in, func(*types.DevInfoRepository) {})
		assert.Nil(t, p)
	})

	t.Run("records are wrapped in the repository envelope", func(t *testing.T) {
		p := devInfoPayload(in, func(r *types.DevInfoRepository) {
			r.Commits = []types.DevInfoCommit{{ID: "abc", IssueKeys: []string{"PROJ-1"}}}
		})
		require.NotNil(t, p)
		require.Len(t, p.Repositories, 1)
		repo := p.Repositories[0]
		assert.Equal(t, "10", repo.ID)
		assert.Equal(t, "org/repo", repo.Name)
		assert.NotZero(t, repo.UpdateSeqID)
		require.Len(t, repo.Commits, 1)
		assert.Equal(t, "abc", repo.Commits[0].ID)
	})
}

func TestBuildState(t *testing.T) {
	tests := []struct {
		conclusion string
		want       string
	}{
		{"success", "successful"},
		{"failure", "failed"},
		{"timed_out", "failed"},
		{"cancelled", "cancelled"},
		{"", "in_progress"},
		{"action_required", "in_progress"},
	}
	for _, tt := range tests {
		run := &gh.WorkflowRun{Conclusion: gh.String(tt.conclusion)}
		assert.Equal(t, tt.want, buildState(run), "conclusion %q", tt.conclusion)
	}
}
