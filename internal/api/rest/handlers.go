package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/queue"
	"github.com/clintrovert/praxis/internal/store"
	"github.com/clintrovert/praxis/pkg/types"
)

// Handler handles REST API requests for managing backfills.
type Handler struct {
	store  *store.Store
	sender queue.Sender
	logger *zap.Logger
}

// NewHandler creates a new REST handler.
func NewHandler(st *store.Store, sender queue.Sender, logger *zap.Logger) *Handler {
	return &Handler{
		store:  st,
		sender: sender,
		logger: logger,
	}
}

// StartBackfillRequest represents a request to start (or re-run) a backfill.
type StartBackfillRequest struct {
	InstallationID  int64                  `json:"installation_id"`
	JiraHost        string                 `json:"jira_host"`
	GitHubAppConfig *types.GitHubAppConfig `json:"github_app_config,omitempty"`
	TargetTasks     []types.TaskType       `json:"target_tasks,omitempty"`
	CommitsFromDate *time.Time             `json:"commits_from_date,omitempty"`
}

// StartBackfillResponse represents the response from starting a backfill.
type StartBackfillResponse struct {
	Receipt    string           `json:"receipt"`
	SyncStatus types.SyncStatus `json:"sync_status"`
}

// SubscriptionResponse summarizes one subscription's sync progress.
type SubscriptionResponse struct {
	InstallationID int64            `json:"installation_id"`
	JiraHost       string           `json:"jira_host"`
	SyncStatus     types.SyncStatus `json:"sync_status"`
	TotalRepos     int              `json:"total_repos"`
	BackfillSince  *time.Time       `json:"backfill_since,omitempty"`
	Tasks          map[string]TaskSummary `json:"tasks"`
}

// TaskSummary counts repositories per status for one category.
type TaskSummary struct {
	Complete int `json:"complete"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
	Unset    int `json:"unset"`
}

// StartBackfill handles POST /api/backfill.
func (h *Handler) StartBackfill(w http.ResponseWriter, r *http.Request) {
	var req StartBackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.InstallationID == 0 || req.JiraHost == "" {
		http.Error(w, "installation_id and jira_host are required", http.StatusBadRequest)
		return
	}

	var appID *int64
	if req.GitHubAppConfig != nil {
		appID = &req.GitHubAppConfig.AppID
	}

	sub, err := h.store.EnsureSubscription(r.Context(), req.JiraHost, req.InstallationID, appID)
	if err != nil {
		h.logger.Error("failed to ensure subscription", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.store.ResetForBackfill(r.Context(), sub, req.TargetTasks); err != nil {
		h.logger.Error("failed to reset subscription for backfill", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now()
	msg := types.BackfillMessage{
		InstallationID:  req.InstallationID,
		JiraHost:        req.JiraHost,
		GitHubAppConfig: req.GitHubAppConfig,
		TargetTasks:     req.TargetTasks,
		CommitsFromDate: req.CommitsFromDate,
		StartTime:       &now,
	}
	receipt, err := h.sender.Send(r.Context(), msg, 0)
	if err != nil {
		h.logger.Error("failed to enqueue backfill", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("backfill started",
		zap.Int64("installation_id", req.InstallationID),
		zap.String("jira_host", req.JiraHost),
		zap.String("receipt", receipt),
	)

	writeJSON(w, StartBackfillResponse{
		Receipt:    receipt,
		SyncStatus: sub.SyncStatus,
	})
}

// GetSubscription handles GET /api/subscriptions/{installationID}.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	installationID, err := strconv.ParseInt(chi.URLParam(r, "installationID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid installation id", http.StatusBadRequest)
		return
	}
	jiraHost := r.URL.Query().Get("jira_host")
	if jiraHost == "" {
		http.Error(w, "jira_host is required", http.StatusBadRequest)
		return
	}
	appID := optionalAppID(r)

	sub, err := h.store.FindSubscription(r.Context(), jiraHost, installationID, appID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}

	states, err := h.store.FindRepoStates(r.Context(), sub.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := SubscriptionResponse{
		InstallationID: sub.InstallationID,
		JiraHost:       sub.JiraHost,
		SyncStatus:     sub.SyncStatus,
		TotalRepos:     sub.TotalRepos,
		BackfillSince:  sub.BackfillSince,
		Tasks:          make(map[string]TaskSummary),
	}
	for _, t := range []types.TaskType{types.TaskPull, types.TaskBranch, types.TaskCommit, types.TaskBuild, types.TaskDeployment} {
		var sum TaskSummary
		for _, st := range states {
			switch st.StatusFor(t) {
			case types.StatusComplete:
				sum.Complete++
			case types.StatusPending:
				sum.Pending++
			case types.StatusFailed:
				sum.Failed++
			default:
				sum.Unset++
			}
		}
		resp.Tasks[string(t)] = sum
	}

	writeJSON(w, resp)
}

// DeleteSubscription handles DELETE /api/subscriptions/{installationID};
// the uninstall path.
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	installationID, err := strconv.ParseInt(chi.URLParam(r, "installationID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid installation id", http.StatusBadRequest)
		return
	}
	jiraHost := r.URL.Query().Get("jira_host")
	if jiraHost == "" {
		http.Error(w, "jira_host is required", http.StatusBadRequest)
		return
	}

	sub, err := h.store.FindSubscription(r.Context(), jiraHost, installationID, optionalAppID(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	if err := h.store.DeleteSubscription(r.Context(), sub); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"success": true}`))
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// RegisterRoutes registers REST API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Post("/api/backfill", h.StartBackfill)
	r.Get("/api/subscriptions/{installationID}", h.GetSubscription)
	r.Delete("/api/subscriptions/{installationID}", h.DeleteSubscription)
}

func optionalAppID(r *http.Request) *int64 {
	raw := r.URL.Query().Get("github_app_id")
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
