package ingest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openfleet/beacon/internal/model"
)

// ErrTraceClosed is returned when a submission targets a trace whose status
// is already terminal. The stored trace is left unchanged; callers must not
// retry the submission.
var ErrTraceClosed = errors.New("ingest: trace is closed")

// recentTraceCap bounds the number of traces retained per agent. Eviction
// forgets the trace entirely, terminal status included, so a trace_id that
// has aged out of the window becomes submittable again. The archive keeps
// the evicted snapshot when configured.
const recentTraceCap = 50

// Assembler accumulates whole-trace submissions. A trace is created on
// first reference to its trace_id and stays mutable until its declared
// status turns terminal; a repeat submission for a non-terminal trace
// replaces the step set (last-writer-wins).
type Assembler struct {
	mu      sync.Mutex
	traces  map[string]*model.Trace
	byAgent map[string][]string // trace IDs per agent, oldest first
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		traces:  make(map[string]*model.Trace),
		byAgent: make(map[string][]string),
	}
}

// Submit stores or replaces the trace identified by ev.TraceID. Totals are
// always recomputed from the steps; caller-declared totals are ignored.
// Returns ErrTraceClosed when the stored trace is already terminal.
func (a *Assembler) Submit(ev model.TraceEvent, agentName string) (model.Trace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.traces[ev.TraceID]; ok {
		if existing.Status.Terminal() {
			return model.Trace{}, ErrTraceClosed
		}
		// Ownership is pinned to the first submission; accepting a new
		// agent_id would leave the trace indexed under the old one.
		if existing.AgentID != ev.AgentID {
			return model.Trace{}, &model.ValidationError{
				Field:  "agentId",
				Reason: fmt.Sprintf("trace %s belongs to agent %s", ev.TraceID, existing.AgentID),
			}
		}
	}

	steps := make([]model.Step, len(ev.Steps))
	var totalTokens int64
	var totalCost float64
	var totalDuration int64
	for i, s := range ev.Steps {
		steps[i] = model.Step{
			ID:           s.ID,
			Type:         s.Type,
			Name:         s.Name,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			Duration:     s.Duration,
			Status:       s.Status,
			Input:        s.Input,
			Output:       s.Output,
			TokensInput:  s.TokensInput,
			TokensOutput: s.TokensOutput,
			Cost:         s.Cost,
			Model:        s.Model,
			Error:        s.Error,
		}
		totalTokens += s.TokensInput + s.TokensOutput
		totalCost += s.Cost
		totalDuration += s.Duration
	}

	tr := model.Trace{
		TraceID:     ev.TraceID,
		AgentID:     ev.AgentID,
		AgentName:   agentName,
		Status:      ev.Status,
		StartTime:   steps[0].StartTime,
		TotalTokens: totalTokens,
		TotalCost:   totalCost,
		Steps:       steps,
		ReceivedAt:  time.Now().UTC(),
	}
	if ev.Status.Terminal() {
		end := steps[len(steps)-1].EndTime
		tr.EndTime = &end
		tr.TotalDuration = &totalDuration
	}

	if _, ok := a.traces[ev.TraceID]; !ok {
		ids := append(a.byAgent[ev.AgentID], ev.TraceID)
		if len(ids) > recentTraceCap {
			delete(a.traces, ids[0])
			ids = ids[1:]
		}
		a.byAgent[ev.AgentID] = ids
	}
	a.traces[ev.TraceID] = &tr

	return snapshotTrace(tr), nil
}

// Get returns a read-only snapshot of one trace.
func (a *Assembler) Get(traceID string) (model.Trace, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tr, ok := a.traces[traceID]
	if !ok {
		return model.Trace{}, false
	}
	return snapshotTrace(*tr), true
}

// ListByAgent returns the agent's retained traces, oldest first.
func (a *Assembler) ListByAgent(agentID string) []model.Trace {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := a.byAgent[agentID]
	out := make([]model.Trace, 0, len(ids))
	for _, id := range ids {
		if tr, ok := a.traces[id]; ok {
			out = append(out, snapshotTrace(*tr))
		}
	}
	return out
}

// List returns up to limit traces across all agents, newest first.
// limit <= 0 returns everything.
func (a *Assembler) List(limit int) []model.Trace {
	a.mu.Lock()
	out := make([]model.Trace, 0, len(a.traces))
	for _, tr := range a.traces {
		out = append(out, snapshotTrace(*tr))
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// snapshotTrace deep-copies a trace so callers never alias assembler state.
func snapshotTrace(tr model.Trace) model.Trace {
	out := tr
	out.Steps = make([]model.Step, len(tr.Steps))
	copy(out.Steps, tr.Steps)
	if tr.EndTime != nil {
		end := *tr.EndTime
		out.EndTime = &end
	}
	if tr.TotalDuration != nil {
		d := *tr.TotalDuration
		out.TotalDuration = &d
	}
	return out
}
