// Package ingest holds the live in-memory telemetry state: the agent
// registry and the trace assembler. State is owned by the server process,
// created at startup and discarded at shutdown; nothing here expires
// entries on its own. Consumers judge agent staleness by last_seen.
package ingest

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfleet/beacon/internal/model"
)

// Per-agent retention windows for the history served to the query surface.
const (
	recentActivityCap = 100
	recentCallCap     = 1000
)

// trendCap bounds each fleet trend ring; at the default sample interval the
// rings cover the last minute.
const trendCap = 60

// agentState bundles one agent with its append-only logs and latency window.
// All mutation happens under mu, so read-modify-write on one agent never
// interleaves across requests.
type agentState struct {
	mu         sync.Mutex
	agent      model.Agent
	latency    model.LatencyWindow
	activities []model.ActivityRecord
	calls      []model.CallRecord
}

// Registry is the in-memory table of known agents, the single source of
// truth for fleet liveness. Mutations to the same agent are serialized on
// that agent's own lock; there is no ordering guarantee across agents.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]*agentState

	// Fleet-level counters, independent of any single agent's lock.
	fleetMu     sync.Mutex
	errorCounts map[string]int64
	tasks       model.TaskQueueCounts

	// Trend rings sampled by SampleTrends; the token/cost accumulators
	// collect the deltas since the previous sample.
	latencyTrend      []model.LatencyTrendPoint
	tokenTrend        []model.TokenTrendPoint
	costTrend         []model.CostTrendPoint
	trendTokensInput  int64
	trendTokensOutput int64
	trendCost         float64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	errorCounts := make(map[string]int64, len(model.ErrorCategories))
	for _, cat := range model.ErrorCategories {
		errorCounts[cat] = 0
	}
	return &Registry{
		logger:      logger,
		agents:      make(map[string]*agentState),
		errorCounts: errorCounts,
	}
}

// getOrCreate returns the state for agentID, creating a minimal idle agent
// on first reference. Creation is the explicit auto-registration policy:
// telemetry producers may emit status or activity before their register
// call lands, and rejecting those events is worse than tolerating a
// partially described agent.
func (r *Registry) getOrCreate(agentID string) *agentState {
	r.mu.RLock()
	st, ok := r.agents[agentID]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.agents[agentID]; ok {
		return st
	}

	now := time.Now().UTC()
	st = &agentState{
		agent: model.Agent{
			AgentID:      agentID,
			Status:       model.StatusIdle,
			Metrics:      model.AgentMetrics{SuccessRate: 100},
			RegisteredAt: now,
			LastSeen:     now,
		},
	}
	r.agents[agentID] = st

	r.fleetMu.Lock()
	r.tasks.Queued++
	r.fleetMu.Unlock()

	r.logger.Debug("ingest: agent created", "agent_id", agentID)
	return st
}

// Upsert creates or overwrites an agent's identity attributes. The call is
// idempotent and safe under concurrent duplicate registration; agent_id
// never changes and accumulated metrics survive re-registration.
func (r *Registry) Upsert(reg model.Registration) model.Agent {
	st := r.getOrCreate(reg.AgentID)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.agent.Name = reg.Name
	st.agent.Model = reg.Model
	st.agent.Description = reg.Description
	st.agent.LastSeen = time.Now().UTC()
	return snapshotAgent(st.agent)
}

// SetStatus applies a caller-declared status atomically, auto-creating the
// agent when unknown. Status transitions come only from explicit calls like
// this one; call event failures never change it.
func (r *Registry) SetStatus(u model.StatusUpdate) model.Agent {
	st := r.getOrCreate(u.AgentID)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.agent.Status = u.Status
	if u.Status == model.StatusRunning {
		st.agent.CurrentTask = u.CurrentTask
	} else {
		st.agent.CurrentTask = nil
	}
	st.agent.LastSeen = time.Now().UTC()
	return snapshotAgent(st.agent)
}

// RecordActivity appends one activity record to the agent's log, in arrival
// order, and advances the fleet task counters for task_* activity types.
func (r *Registry) RecordActivity(ev model.ActivityEvent) model.ActivityRecord {
	st := r.getOrCreate(ev.AgentID)

	st.mu.Lock()
	rec := model.ActivityRecord{
		ID:           uuid.New().String(),
		AgentID:      ev.AgentID,
		AgentName:    st.agent.Name,
		ActivityType: ev.ActivityType,
		Message:      ev.Message,
		Timestamp:    ev.Timestamp,
		Metadata:     ev.Metadata,
		ReceivedAt:   time.Now().UTC(),
	}
	st.activities = append(st.activities, rec)
	if len(st.activities) > recentActivityCap {
		st.activities = st.activities[1:]
	}
	st.agent.LastSeen = rec.ReceivedAt
	st.mu.Unlock()

	r.fleetMu.Lock()
	switch ev.ActivityType {
	case "task_start":
		r.tasks.Running++
		if r.tasks.Queued > 0 {
			r.tasks.Queued--
		}
	case "task_complete":
		r.tasks.Completed++
		if r.tasks.Running > 0 {
			r.tasks.Running--
		}
	case "task_fail":
		r.tasks.Failed++
		if r.tasks.Running > 0 {
			r.tasks.Running--
		}
	}
	r.fleetMu.Unlock()

	return rec
}

// RecordCall appends one call event to the agent's log and folds it into
// the live metrics: request/failure counts, token and cost totals, and the
// latency percentile window. Cost falls back to the built-in rate table
// when the caller did not supply one.
func (r *Registry) RecordCall(ev model.CallEvent) model.CallRecord {
	st := r.getOrCreate(ev.AgentID)

	st.mu.Lock()
	now := time.Now().UTC()
	m := &st.agent.Metrics
	m.TotalRequests++
	if !ev.Succeeded() {
		m.FailedRequests++
		if ev.Error != nil {
			r.countError(model.ClassifyError(*ev.Error))
		}
	}

	var cost float64
	if ev.Kind == model.KindLLMCall {
		m.TotalTokensInput += ev.TokensInput
		m.TotalTokensOutput += ev.TokensOutput
		if ev.Cost != nil {
			cost = *ev.Cost
		} else {
			cost = model.EstimateCost(ev.Model, ev.TokensInput, ev.TokensOutput)
		}
		m.TotalCost = math.Round((m.TotalCost+cost)*1e4) / 1e4

		r.fleetMu.Lock()
		r.trendTokensInput += ev.TokensInput
		r.trendTokensOutput += ev.TokensOutput
		r.trendCost += cost
		r.fleetMu.Unlock()
	}

	// Tool calls with zero latency carry no timing signal; skip the window.
	if ev.Kind == model.KindLLMCall || ev.LatencyMs > 0 {
		st.latency.Push(ev.LatencyMs)
		m.AvgLatencyMs, m.P50LatencyMs, m.P95LatencyMs, m.P99LatencyMs = st.latency.Stats()
	}

	m.SuccessRate = math.Round(float64(m.TotalRequests-m.FailedRequests)/float64(m.TotalRequests)*1000) / 10

	rec := model.CallRecord{
		ID:           uuid.New().String(),
		AgentID:      ev.AgentID,
		Kind:         ev.Kind,
		Timestamp:    ev.Timestamp,
		LatencyMs:    ev.LatencyMs,
		Success:      ev.Succeeded(),
		Error:        ev.Error,
		Model:        ev.Model,
		ToolName:     ev.ToolName,
		TokensInput:  ev.TokensInput,
		TokensOutput: ev.TokensOutput,
		Cost:         cost,
		ReceivedAt:   now,
	}
	st.calls = append(st.calls, rec)
	if len(st.calls) > recentCallCap {
		st.calls = st.calls[1:]
	}
	st.agent.LastSeen = now
	st.mu.Unlock()

	return rec
}

func (r *Registry) countError(category string) {
	r.fleetMu.Lock()
	r.errorCounts[category]++
	r.fleetMu.Unlock()
}

// Touch updates the agent's last_seen, auto-creating it when unknown, and
// returns a snapshot. Used by the gateway for events the registry does not
// store itself (trace submissions).
func (r *Registry) Touch(agentID string) model.Agent {
	st := r.getOrCreate(agentID)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.agent.LastSeen = time.Now().UTC()
	return snapshotAgent(st.agent)
}

// Get returns a read-only snapshot of one agent.
func (r *Registry) Get(agentID string) (model.Agent, bool) {
	r.mu.RLock()
	st, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return model.Agent{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshotAgent(st.agent), true
}

// List returns snapshots of all agents ordered by agent_id.
func (r *Registry) List() []model.Agent {
	r.mu.RLock()
	states := make([]*agentState, 0, len(r.agents))
	for _, st := range r.agents {
		states = append(states, st)
	}
	r.mu.RUnlock()

	agents := make([]model.Agent, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		agents = append(agents, snapshotAgent(st.agent))
		st.mu.Unlock()
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents
}

// Activities returns the agent's most recent activity records, newest last.
// limit <= 0 returns the whole retained window.
func (r *Registry) Activities(agentID string, limit int) ([]model.ActivityRecord, bool) {
	r.mu.RLock()
	st, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	recs := st.activities
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]model.ActivityRecord, len(recs))
	copy(out, recs)
	return out, true
}

// Calls returns the agent's most recent call records, newest last.
// limit <= 0 returns the whole retained window.
func (r *Registry) Calls(agentID string, limit int) ([]model.CallRecord, bool) {
	r.mu.RLock()
	st, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	recs := st.calls
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]model.CallRecord, len(recs))
	copy(out, recs)
	return out, true
}

// Count returns the number of known agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// SampleTrends appends one point to each fleet trend ring: the per-agent
// latency percentiles averaged across the fleet, and the token/cost deltas
// accrued since the previous sample. Called periodically by the server's
// trend sampler goroutine.
func (r *Registry) SampleTrends() {
	agents := r.List()
	now := time.Now().UTC()

	var p50, p95, p99 int64
	if len(agents) > 0 {
		var s50, s95, s99 int64
		for _, a := range agents {
			s50 += a.Metrics.P50LatencyMs
			s95 += a.Metrics.P95LatencyMs
			s99 += a.Metrics.P99LatencyMs
		}
		n := int64(len(agents))
		p50, p95, p99 = s50/n, s95/n, s99/n
	}

	r.fleetMu.Lock()
	defer r.fleetMu.Unlock()
	r.latencyTrend = appendTrend(r.latencyTrend, model.LatencyTrendPoint{Timestamp: now, P50: p50, P95: p95, P99: p99})
	r.tokenTrend = appendTrend(r.tokenTrend, model.TokenTrendPoint{Timestamp: now, Input: r.trendTokensInput, Output: r.trendTokensOutput})
	r.costTrend = appendTrend(r.costTrend, model.CostTrendPoint{Timestamp: now, Cost: math.Round(r.trendCost*1e4) / 1e4})
	r.trendTokensInput = 0
	r.trendTokensOutput = 0
	r.trendCost = 0
}

// appendTrend pushes a point onto a trend ring, evicting the oldest at cap.
func appendTrend[T any](ring []T, point T) []T {
	ring = append(ring, point)
	if len(ring) > trendCap {
		ring = ring[1:]
	}
	return ring
}

// Snapshot assembles the fleet-wide metrics view served by GET /api/metrics.
func (r *Registry) Snapshot() model.MetricsSnapshot {
	agents := r.List()

	var overall model.OverallMetrics
	var sumSuccessRate float64
	var sumAvgLatency, totalFailed int64
	for _, a := range agents {
		if a.Status == model.StatusRunning || a.Status == model.StatusIdle {
			overall.ActiveAgents++
		}
		sumSuccessRate += a.Metrics.SuccessRate
		sumAvgLatency += a.Metrics.AvgLatencyMs
		overall.TotalCost += a.Metrics.TotalCost
		overall.TotalTokensInput += a.Metrics.TotalTokensInput
		overall.TotalTokensOutput += a.Metrics.TotalTokensOutput
		overall.TotalRequests += a.Metrics.TotalRequests
		totalFailed += a.Metrics.FailedRequests
	}
	if len(agents) > 0 {
		overall.SuccessRate = math.Round(sumSuccessRate/float64(len(agents))*10) / 10
		overall.AvgLatencyMs = int64(math.Round(float64(sumAvgLatency) / float64(len(agents))))
	} else {
		overall.SuccessRate = 100
	}
	overall.TotalCost = math.Round(overall.TotalCost*1e4) / 1e4
	if overall.TotalRequests > 0 {
		overall.ErrorRate = math.Round(float64(totalFailed)/float64(overall.TotalRequests)*10000) / 100
	}

	r.fleetMu.Lock()
	var totalErrors int64
	for _, c := range r.errorCounts {
		totalErrors += c
	}
	errorsByType := make([]model.ErrorTypeCount, 0, len(model.ErrorCategories))
	for _, cat := range model.ErrorCategories {
		count := r.errorCounts[cat]
		pct := 0.0
		if totalErrors > 0 {
			pct = math.Round(float64(count)/float64(totalErrors)*1000) / 10
		}
		errorsByType = append(errorsByType, model.ErrorTypeCount{Type: cat, Count: count, Percentage: pct})
	}
	tasks := r.tasks
	latencyTrend := make([]model.LatencyTrendPoint, len(r.latencyTrend))
	copy(latencyTrend, r.latencyTrend)
	tokenTrend := make([]model.TokenTrendPoint, len(r.tokenTrend))
	copy(tokenTrend, r.tokenTrend)
	costTrend := make([]model.CostTrendPoint, len(r.costTrend))
	copy(costTrend, r.costTrend)
	r.fleetMu.Unlock()

	return model.MetricsSnapshot{
		Timestamp:    time.Now().UTC(),
		Agents:       agents,
		Overall:      overall,
		LatencyTrend: latencyTrend,
		TokenTrend:   tokenTrend,
		CostTrend:    costTrend,
		ErrorsByType: errorsByType,
		TaskQueue:    tasks,
	}
}

// snapshotAgent deep-copies an agent so callers never alias registry state.
func snapshotAgent(a model.Agent) model.Agent {
	out := a
	if a.CurrentTask != nil {
		task := *a.CurrentTask
		out.CurrentTask = &task
	}
	return out
}
