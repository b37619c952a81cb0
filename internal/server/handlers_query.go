package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/openfleet/beacon/internal/archive"
	"github.com/openfleet/beacon/internal/model"
)

// HandleListAgents handles GET /api/agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.registry.List())
}

// HandleGetAgent handles GET /api/agents/{agent_id}.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	agent, ok := h.registry.Get(agentID)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "agent not found")
		return
	}
	writeJSON(w, r, http.StatusOK, agent)
}

// HandleAgentActivity handles GET /api/agents/{agent_id}/activity.
// Returns the most recent activity entries in append order.
func (h *Handlers) HandleAgentActivity(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	limit := queryLimit(r, 100)

	activities, ok := h.registry.Activities(agentID, limit)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "agent not found")
		return
	}
	writeJSON(w, r, http.StatusOK, activities)
}

// HandleAgentEvents handles GET /api/agents/{agent_id}/events.
// Serves the in-memory call window by default; ?archived=true reads the
// durable archive instead (when configured).
func (h *Handlers) HandleAgentEvents(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	limit := queryLimit(r, 100)

	if r.URL.Query().Get("archived") == "true" {
		if h.archiveDB == nil {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "archive not configured")
			return
		}
		records, err := h.archiveDB.GetCallEventsByAgent(r.Context(), agentID, limit)
		if err != nil {
			h.writeInternalError(w, r, "failed to read archived events", err)
			return
		}
		writeJSON(w, r, http.StatusOK, records)
		return
	}

	calls, ok := h.registry.Calls(agentID, limit)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "agent not found")
		return
	}
	writeJSON(w, r, http.StatusOK, calls)
}

// HandleListTraces handles GET /api/traces.
// Filters by ?agent_id= when given, otherwise returns the newest traces
// across all agents. Agents whose traces have all aged out of the in-memory
// window fall back to the archive, like HandleGetTrace.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		traces := h.assembler.ListByAgent(agentID)
		if len(traces) == 0 && h.archiveDB != nil {
			archived, err := h.archiveDB.GetTracesByAgent(r.Context(), agentID, queryLimit(r, 100))
			if err != nil {
				h.writeInternalError(w, r, "failed to read archived traces", err)
				return
			}
			if archived == nil {
				archived = []model.Trace{}
			}
			writeJSON(w, r, http.StatusOK, archived)
			return
		}
		writeJSON(w, r, http.StatusOK, traces)
		return
	}
	writeJSON(w, r, http.StatusOK, h.assembler.List(queryLimit(r, 50)))
}

// HandleGetTrace handles GET /api/traces/{trace_id}.
// Falls back to the archive for traces evicted from the in-memory window.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	if tr, ok := h.assembler.Get(traceID); ok {
		writeJSON(w, r, http.StatusOK, tr)
		return
	}

	if h.archiveDB != nil {
		tr, err := h.archiveDB.GetTrace(r.Context(), traceID)
		if err == nil {
			writeJSON(w, r, http.StatusOK, tr)
			return
		}
		if !errors.Is(err, archive.ErrNotFound) {
			h.writeInternalError(w, r, "failed to read archived trace", err)
			return
		}
	}

	writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
}

// HandleMetrics handles GET /api/metrics.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.registry.Snapshot())
}

// queryLimit parses the ?limit= query parameter, falling back to def for
// missing or unparseable values.
func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
