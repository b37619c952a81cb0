package ingest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/beacon/internal/model"
)

func traceEvent(traceID string, status model.TraceStatus, steps ...model.StepInput) model.TraceEvent {
	if len(steps) == 0 {
		steps = []model.StepInput{
			{ID: "s1", Type: "llm_call", Name: "plan", StartTime: ts, EndTime: ts.Add(time.Second), Duration: 1000},
		}
	}
	return model.TraceEvent{
		AgentID:   "a1",
		TraceID:   traceID,
		Timestamp: ts,
		Status:    status,
		Steps:     steps,
	}
}

func TestSubmit_DerivedTotalsOverrideCallerTotals(t *testing.T) {
	a := NewAssembler()

	ev := traceEvent("t1", model.TraceCompleted,
		model.StepInput{ID: "s1", Type: "llm_call", Name: "plan", StartTime: ts, EndTime: ts.Add(time.Second), Duration: 1000, TokensInput: 100, TokensOutput: 50, Cost: 0.01},
		model.StepInput{ID: "s2", Type: "llm_call", Name: "write", StartTime: ts.Add(time.Second), EndTime: ts.Add(2 * time.Second), Duration: 1000, TokensInput: 200, TokensOutput: 150, Cost: 0.02},
	)
	// Caller-declared totals are advisory and must be ignored.
	ev.TotalCost = ptr(999.0)
	ev.TotalTokens = ptr[int64](999)

	tr, err := a.Submit(ev, "Researcher")
	require.NoError(t, err)
	assert.InDelta(t, 0.03, tr.TotalCost, 1e-9)
	assert.Equal(t, int64(500), tr.TotalTokens)

	stored, ok := a.Get("t1")
	require.True(t, ok)
	assert.InDelta(t, 0.03, stored.TotalCost, 1e-9)
}

func TestSubmit_StepOrderIsSubmissionOrder(t *testing.T) {
	a := NewAssembler()

	// Step timestamps deliberately out of order; source order wins.
	ev := traceEvent("t1", model.TraceRunning,
		model.StepInput{ID: "s1", Type: "tool_call", Name: "late", StartTime: ts.Add(time.Minute), EndTime: ts.Add(2 * time.Minute), Duration: 60000},
		model.StepInput{ID: "s2", Type: "tool_call", Name: "early", StartTime: ts, EndTime: ts.Add(time.Second), Duration: 1000},
	)
	tr, err := a.Submit(ev, "")
	require.NoError(t, err)
	require.Len(t, tr.Steps, 2)
	assert.Equal(t, "late", tr.Steps[0].Name)
	assert.Equal(t, "early", tr.Steps[1].Name)
}

func TestSubmit_RunningTraceHasNoEndTime(t *testing.T) {
	a := NewAssembler()
	tr, err := a.Submit(traceEvent("t1", model.TraceRunning), "")
	require.NoError(t, err)
	assert.Nil(t, tr.EndTime)
	assert.Nil(t, tr.TotalDuration)
}

func TestSubmit_TerminalTraceDerivesDuration(t *testing.T) {
	a := NewAssembler()
	ev := traceEvent("t1", model.TraceCompleted,
		model.StepInput{ID: "s1", Type: "llm_call", Name: "one", StartTime: ts, EndTime: ts.Add(time.Second), Duration: 700},
		model.StepInput{ID: "s2", Type: "llm_call", Name: "two", StartTime: ts.Add(time.Second), EndTime: ts.Add(3 * time.Second), Duration: 1300},
	)
	tr, err := a.Submit(ev, "")
	require.NoError(t, err)
	require.NotNil(t, tr.EndTime)
	assert.Equal(t, ts.Add(3*time.Second), *tr.EndTime)
	require.NotNil(t, tr.TotalDuration)
	assert.Equal(t, int64(2000), *tr.TotalDuration)
}

func TestSubmit_ReplaceNonTerminal(t *testing.T) {
	a := NewAssembler()

	_, err := a.Submit(traceEvent("t1", model.TraceRunning), "")
	require.NoError(t, err)

	replaced := traceEvent("t1", model.TraceRunning,
		model.StepInput{ID: "s1", Type: "llm_call", Name: "plan", StartTime: ts, EndTime: ts.Add(time.Second), Duration: 1000},
		model.StepInput{ID: "s2", Type: "tool_call", Name: "search", StartTime: ts.Add(time.Second), EndTime: ts.Add(2 * time.Second), Duration: 1000},
	)
	tr, err := a.Submit(replaced, "")
	require.NoError(t, err)
	assert.Len(t, tr.Steps, 2)

	stored, _ := a.Get("t1")
	assert.Len(t, stored.Steps, 2)
}

func TestSubmit_TerminalTraceRejectsResubmission(t *testing.T) {
	a := NewAssembler()

	_, err := a.Submit(traceEvent("t1", model.TraceCompleted), "")
	require.NoError(t, err)

	late := traceEvent("t1", model.TraceFailed,
		model.StepInput{ID: "x1", Type: "tool_call", Name: "sneaky", StartTime: ts, EndTime: ts.Add(time.Second), Duration: 1000},
	)
	_, err = a.Submit(late, "")
	require.ErrorIs(t, err, ErrTraceClosed)

	// Stored trace is unchanged.
	stored, ok := a.Get("t1")
	require.True(t, ok)
	assert.Equal(t, model.TraceCompleted, stored.Status)
	require.Len(t, stored.Steps, 1)
	assert.Equal(t, "plan", stored.Steps[0].Name)
}

func TestSubmit_RejectsAgentMismatchOnResubmission(t *testing.T) {
	a := NewAssembler()

	_, err := a.Submit(traceEvent("t1", model.TraceRunning), "")
	require.NoError(t, err)

	hijack := traceEvent("t1", model.TraceRunning)
	hijack.AgentID = "a2"
	_, err = a.Submit(hijack, "")

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "agentId", verr.Field)

	// The trace stays owned by and indexed under the original agent.
	stored, ok := a.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "a1", stored.AgentID)
	assert.Len(t, a.ListByAgent("a1"), 1)
	assert.Empty(t, a.ListByAgent("a2"))
}

func TestSubmit_PerAgentRetention(t *testing.T) {
	a := NewAssembler()
	for i := 0; i < recentTraceCap+5; i++ {
		_, err := a.Submit(traceEvent(fmt.Sprintf("t%03d", i), model.TraceCompleted), "")
		require.NoError(t, err)
	}

	traces := a.ListByAgent("a1")
	assert.Len(t, traces, recentTraceCap)
	// Evicted traces are gone entirely.
	_, ok := a.Get("t000")
	assert.False(t, ok)
	_, ok = a.Get("t054")
	assert.True(t, ok)
}

func TestSubmit_EvictedTraceIDIsReusable(t *testing.T) {
	a := NewAssembler()
	for i := 0; i < recentTraceCap+1; i++ {
		_, err := a.Submit(traceEvent(fmt.Sprintf("t%03d", i), model.TraceCompleted), "")
		require.NoError(t, err)
	}

	// Eviction forgets terminal status along with the trace, so the oldest
	// id is accepted as a brand new trace.
	tr, err := a.Submit(traceEvent("t000", model.TraceRunning), "")
	require.NoError(t, err)
	assert.Equal(t, model.TraceRunning, tr.Status)
}

func TestGet_NoAliasing(t *testing.T) {
	a := NewAssembler()
	_, err := a.Submit(traceEvent("t1", model.TraceRunning), "")
	require.NoError(t, err)

	tr, _ := a.Get("t1")
	tr.Steps[0].Name = "mutated"

	again, _ := a.Get("t1")
	assert.Equal(t, "plan", again.Steps[0].Name)
}
