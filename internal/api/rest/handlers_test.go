package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/store"
	"github.com/clintrovert/praxis/pkg/types"
)

type fakeSender struct {
	sent []types.BackfillMessage
}

func (f *fakeSender) Send(_ context.Context, msg types.BackfillMessage, _ time.Duration) (string, error) {
	f.sent = append(f.sent, msg)
	return "receipt-1", nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *fakeSender) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sender := &fakeSender{}
	router := chi.NewRouter()
	NewHandler(st, sender, zap.NewNop()).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, st, sender
}

func TestStartBackfill(t *testing.T) {
	srv, st, sender := newTestServer(t)

	body, err := json.Marshal(StartBackfillRequest{
		InstallationID: 7,
		JiraHost:       "https://acme.atlassian.net",
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/backfill", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got StartBackfillResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "receipt-1", got.Receipt)
	assert.Equal(t, types.SyncPending, got.SyncStatus)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, int64(7), msg.InstallationID)
	assert.Equal(t, "https://acme.atlassian.net", msg.JiraHost)
	require.NotNil(t, msg.StartTime)

	sub, err := st.FindSubscription(context.Background(), "https://acme.atlassian.net", 7, nil)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, types.SyncPending, sub.SyncStatus)
}

func TestStartBackfillValidation(t *testing.T) {
	srv, _, sender := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/backfill", "application/json", bytes.NewReader([]byte(`{"jira_host": "https://acme.atlassian.net"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, sender.sent)
}

func TestStartBackfillResetsExistingSubscription(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	sub, err := st.EnsureSubscription(ctx, "https://acme.atlassian.net", 7, nil)
	require.NoError(t, err)
	require.NoError(t, st.UpsertRepoStates(ctx, sub, []types.Repository{{ID: 1, Name: "repo", Owner: "org", FullName: "org/repo", URL: "u"}}))
	require.NoError(t, st.MergeSyncFields(ctx, sub, 1, map[string]any{"pullStatus": types.StatusComplete}))

	body := []byte(`{"installation_id": 7, "jira_host": "https://acme.atlassian.net"}`)
	resp, err := http.Post(srv.URL+"/api/backfill", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	states, err := st.FindRepoStates(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, types.StatusUnset, states[0].PullStatus, "a new full backfill revisits every category")
}

func TestGetSubscription(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	sub, err := st.EnsureSubscription(ctx, "https://acme.atlassian.net", 7, nil)
	require.NoError(t, err)
	require.NoError(t, st.UpsertRepoStates(ctx, sub, []types.Repository{
		{ID: 1, Name: "a", Owner: "org", FullName: "org/a", URL: "u"},
		{ID: 2, Name: "b", Owner: "org", FullName: "org/b", URL: "u"},
	}))
	require.NoError(t, st.MergeSyncFields(ctx, sub, 1, map[string]any{"pullStatus": types.StatusComplete}))
	require.NoError(t, st.MergeSyncFields(ctx, sub, 2, map[string]any{"pullStatus": types.StatusPending}))

	resp, err := http.Get(srv.URL + "/api/subscriptions/7?jira_host=https://acme.atlassian.net")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got SubscriptionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(7), got.InstallationID)
	assert.Equal(t, 2, got.TotalRepos)
	assert.Equal(t, TaskSummary{Complete: 1, Pending: 1}, got.Tasks["pull"])
	assert.Equal(t, TaskSummary{Unset: 2}, got.Tasks["commit"])
}

func TestGetSubscriptionNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/subscriptions/404?jira_host=https://acme.atlassian.net")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSubscription(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	_, err := st.EnsureSubscription(ctx, "https://acme.atlassian.net", 7, nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/subscriptions/7?jira_host=https://acme.atlassian.net", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sub, err := st.FindSubscription(ctx, "https://acme.atlassian.net", 7, nil)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
