package beacon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "bcn_deadbeef_0123456789abcdef0123456789abcdef"

// newTestServer returns a server that checks the API key header and replies
// with the given status and payload wrapped in the standard envelope.
func newTestServer(t *testing.T, wantMethod, wantPath string, status int, data any) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantMethod, r.Method)
		assert.Equal(t, wantPath, r.URL.Path)
		assert.Equal(t, testAPIKey, r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: testAPIKey})
	require.NoError(t, err)
	return srv, client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://localhost:8080"})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "http://localhost:8080/", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
}

func TestRegister(t *testing.T) {
	_, client := newTestServer(t, http.MethodPost, "/api/ingest/register", http.StatusOK, Agent{
		AgentID: "a1", Name: "Researcher", Status: "idle",
	})

	agent, err := client.Register(context.Background(), RegisterRequest{
		AgentID: "a1", Name: "Researcher",
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", agent.AgentID)
	assert.Equal(t, "idle", agent.Status)
}

func TestTraceConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "CONFLICT", "message": "trace t1 is already terminal"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: testAPIKey})
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = client.Trace(context.Background(), TraceRequest{
		AgentID: "a1", TraceID: "t1", Timestamp: now, Status: "running",
		Steps: []StepInput{{ID: "s1", Type: "llm_call", Name: "plan", StartTime: now, EndTime: now}},
	})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "CONFLICT", apiErr.Code)
	assert.Contains(t, apiErr.Message, "already terminal")
}

func TestBatchMixedResults(t *testing.T) {
	var received struct {
		Events []json.RawMessage `json:"events"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": BatchResponse{
				Processed: 1,
				Failed:    1,
				Results: []BatchResult{
					{Index: 0, OK: true},
					{Index: 1, Error: &ErrorDetail{Code: "INVALID_INPUT", Message: "model: invalid success: is required"}},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: testAPIKey})
	require.NoError(t, err)

	ok := true
	resp, err := client.Batch(context.Background(), []any{
		CallEvent{Type: EventLLMCall, AgentID: "a1", Timestamp: time.Now().UTC(), LatencyMs: 50, Success: &ok, Model: "Claude Sonnet"},
		CallEvent{Type: EventLLMCall, AgentID: "a1", Timestamp: time.Now().UTC(), LatencyMs: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Processed)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "INVALID_INPUT", resp.Results[1].Error.Code)

	// The request body carried both events with their discriminators.
	require.Len(t, received.Events, 2)
	var probe struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(received.Events[0], &probe))
	assert.Equal(t, EventLLMCall, probe.Type)
}

func TestActivityBatchEventCarriesDiscriminator(t *testing.T) {
	data, err := json.Marshal(NewActivityBatchEvent(ActivityRequest{
		AgentID: "a1", ActivityType: "task_start", Message: "working", Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, err)

	var probe map[string]any
	require.NoError(t, json.Unmarshal(data, &probe))
	assert.Equal(t, "activity", probe["type"])
	assert.Equal(t, "task_start", probe["activityType"])
}

func TestAgentEventsQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agents/a1/events", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("archived"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []CallRecord{{ID: "c1", AgentID: "a1"}}})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: testAPIKey})
	require.NoError(t, err)

	records, err := client.AgentEvents(context.Background(), "a1", 25, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0].ID)
}

func TestNotFoundError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "NOT_FOUND", "message": "trace not found"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: testAPIKey})
	require.NoError(t, err)

	_, err = client.GetTrace(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestHealthUnwrapsEnvelope(t *testing.T) {
	_, client := newTestServer(t, http.MethodGet, "/health", http.StatusOK, Health{
		Status: "healthy", Version: "1.2.3", Agents: 4,
	})

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, 4, health.Agents)
}

func TestErrorResponseWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: testAPIKey})
	require.NoError(t, err)

	_, err = client.Agents(context.Background())
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream broke", apiErr.Message)
}
