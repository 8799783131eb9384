package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/runlog"
)

const defaultRunsLimit = 50

// RunsAPI provides read-only access to the agent run log
type RunsAPI struct {
	store *runlog.Store
}

// NewRunsAPI creates a new runs API
func NewRunsAPI(store *runlog.Store) *RunsAPI {
	return &RunsAPI{store: store}
}

// RegisterRoutes registers run log routes (all read-only)
func (api *RunsAPI) RegisterRoutes(r chi.Router) {
	r.Get("/agents/runs", api.handleListRuns)                    // GET /api/v1/agents/runs
	r.Get("/agents/runs/summary", api.handleGetSummary)          // GET /api/v1/agents/runs/summary
	r.Get("/agents/{personaID}/runs", api.handleListPersonaRuns) // GET /api/v1/agents/{personaID}/runs
}

// handleListRuns returns run log entries with optional filtering
// GET /api/v1/agents/runs?persona=&status=&task=&since=&until=&limit=&offset=
func (api *RunsAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := runlog.QueryOptions{
		PersonaID: core.PersonaID(query.Get("persona")),
		Status:    core.RunStatus(query.Get("status")),
		TaskType:  core.TaskType(query.Get("task")),
		Limit:     parseLimit(query.Get("limit")),
	}

	if since := query.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}
	if until := query.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			opts.Until = t
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			opts.Offset = o
		}
	}

	api.respondRuns(w, r, opts)
}

// handleListPersonaRuns returns the most recent runs of one persona
// GET /api/v1/agents/{personaID}/runs?limit=
func (api *RunsAPI) handleListPersonaRuns(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	if personaID == "" {
		respondError(w, http.StatusBadRequest, "missing persona ID")
		return
	}

	api.respondRuns(w, r, runlog.QueryOptions{
		PersonaID: core.PersonaID(personaID),
		Limit:     parseLimit(r.URL.Query().Get("limit")),
	})
}

// handleGetSummary returns run counts by status and task type
// GET /api/v1/agents/runs/summary?since=
func (api *RunsAPI) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	if api.store == nil {
		respondError(w, http.StatusServiceUnavailable, "run log not configured")
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}

	summary, err := api.store.GetSummary(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (api *RunsAPI) respondRuns(w http.ResponseWriter, r *http.Request, opts runlog.QueryOptions) {
	if api.store == nil {
		respondError(w, http.StatusServiceUnavailable, "run log not configured")
		return
	}

	runs, err := api.store.Query(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*core.AgentRun{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"count":  len(runs),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func parseLimit(v string) int {
	if l, err := strconv.Atoi(v); err == nil && l > 0 {
		if l > 500 {
			return 500
		}
		return l
	}
	return defaultRunsLimit
}
