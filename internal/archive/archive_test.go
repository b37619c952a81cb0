package archive_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/beacon/internal/archive"
	"github.com/openfleet/beacon/internal/model"
	"github.com/openfleet/beacon/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *archive.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		os.Exit(1)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func archivedCall(agentID string, occurredAt time.Time) model.CallRecord {
	return model.CallRecord{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Kind:         model.KindLLMCall,
		Timestamp:    occurredAt,
		LatencyMs:    250,
		Success:      true,
		Model:        "Claude Sonnet",
		TokensInput:  100,
		TokensOutput: 50,
		Cost:         0.00105,
		ReceivedAt:   occurredAt,
	}
}

func TestInsertCallEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	records := []model.CallRecord{
		archivedCall("roundtrip-agent", base),
		archivedCall("roundtrip-agent", base.Add(time.Second)),
		archivedCall("roundtrip-agent", base.Add(2*time.Second)),
	}
	errMsg := "Timeout: deadline exceeded"
	records[1].Success = false
	records[1].Error = &errMsg
	records[2].Kind = model.KindToolCall
	records[2].ToolName = "web_search"
	records[2].Model = ""

	count, err := testDB.InsertCallEvents(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	got, err := testDB.GetCallEventsByAgent(ctx, "roundtrip-agent", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first.
	assert.Equal(t, records[2].ID, got[0].ID)
	assert.Equal(t, model.KindToolCall, got[0].Kind)
	assert.Equal(t, "web_search", got[0].ToolName)

	require.NotNil(t, got[1].Error)
	assert.Equal(t, errMsg, *got[1].Error)
	assert.False(t, got[1].Success)

	assert.Equal(t, int64(100), got[2].TokensInput)
	assert.InDelta(t, 0.00105, got[2].Cost, 1e-9)
}

func TestGetCallEventsByAgentLimit(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	var records []model.CallRecord
	for i := 0; i < 10; i++ {
		records = append(records, archivedCall("limit-agent", base.Add(time.Duration(i)*time.Second)))
	}
	_, err := testDB.InsertCallEvents(ctx, records)
	require.NoError(t, err)

	got, err := testDB.GetCallEventsByAgent(ctx, "limit-agent", 4)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	// Newest of the batch comes first.
	assert.Equal(t, records[9].ID, got[0].ID)
}

func archivedTrace(traceID, agentID string, start time.Time) model.Trace {
	end := start.Add(2 * time.Second)
	duration := int64(2000)
	return model.Trace{
		TraceID:       traceID,
		AgentID:       agentID,
		AgentName:     "Researcher",
		Status:        model.TraceCompleted,
		StartTime:     start,
		EndTime:       &end,
		TotalDuration: &duration,
		TotalTokens:   150,
		TotalCost:     0.0030,
		Steps: []model.Step{
			{ID: "s1", Type: "llm_call", Name: "plan", StartTime: start, EndTime: start.Add(time.Second), Duration: 1000, Status: "completed", TokensInput: 100, TokensOutput: 50, Cost: 0.0030, Model: "Claude Sonnet"},
			{ID: "s2", Type: "tool_call", Name: "search", StartTime: start.Add(time.Second), EndTime: end, Duration: 1000, Status: "completed"},
		},
		ReceivedAt: start,
	}
}

func TestUpsertTraceRoundTrip(t *testing.T) {
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)

	tr := archivedTrace("arch-t1", "trace-agent", start)
	require.NoError(t, testDB.UpsertTrace(ctx, tr))

	got, err := testDB.GetTrace(ctx, "arch-t1")
	require.NoError(t, err)
	assert.Equal(t, tr.AgentID, got.AgentID)
	assert.Equal(t, model.TraceCompleted, got.Status)
	require.NotNil(t, got.TotalDuration)
	assert.Equal(t, int64(2000), *got.TotalDuration)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "plan", got.Steps[0].Name)
	assert.Equal(t, "search", got.Steps[1].Name)
}

func TestUpsertTraceReplacesSteps(t *testing.T) {
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)

	tr := archivedTrace("arch-t2", "trace-agent", start)
	require.NoError(t, testDB.UpsertTrace(ctx, tr))

	// Resubmit with a single different step; the old steps must not linger.
	tr.Steps = []model.Step{
		{ID: "s9", Type: "llm_call", Name: "rewrite", StartTime: start, EndTime: start.Add(time.Second), Duration: 1000, Status: "completed"},
	}
	tr.TotalTokens = 10
	require.NoError(t, testDB.UpsertTrace(ctx, tr))

	got, err := testDB.GetTrace(ctx, "arch-t2")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.TotalTokens)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "rewrite", got.Steps[0].Name)
}

func TestGetTraceNotFound(t *testing.T) {
	_, err := testDB.GetTrace(context.Background(), "no-such-trace")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestGetTracesByAgentNewestFirst(t *testing.T) {
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)

	older := archivedTrace("arch-t3", "order-agent", start)
	older.ReceivedAt = start
	newer := archivedTrace("arch-t4", "order-agent", start.Add(time.Minute))
	newer.ReceivedAt = start.Add(time.Minute)
	require.NoError(t, testDB.UpsertTrace(ctx, older))
	require.NoError(t, testDB.UpsertTrace(ctx, newer))

	got, err := testDB.GetTracesByAgent(ctx, "order-agent", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "arch-t4", got[0].TraceID)
	assert.Equal(t, "arch-t3", got[1].TraceID)
	// Summaries exclude steps.
	assert.Empty(t, got[0].Steps)
}
