package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Beacon server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the raw ingest key (bcn_<prefix>_<secret>), sent with every
	// request in the X-API-Key header.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Beacon agent telemetry API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("beacon: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("beacon: APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
	}, nil
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

// Register announces the agent to the server. Safe to repeat; identity
// fields are overwritten and accumulated metrics survive.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Agent, error) {
	var resp Agent
	if err := c.post(ctx, "/api/ingest/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetStatus declares the agent's lifecycle status. Unknown agents are
// created on the fly.
func (c *Client) SetStatus(ctx context.Context, req StatusRequest) (*Agent, error) {
	var resp Agent
	if err := c.post(ctx, "/api/ingest/status", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Activity records one free-form activity entry in the agent's log.
func (c *Client) Activity(ctx context.Context, req ActivityRequest) (*ActivityRecord, error) {
	var resp ActivityRecord
	if err := c.post(ctx, "/api/ingest/activity", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Trace submits a whole trace. Non-terminal traces may be resubmitted and
// replace the stored snapshot; resubmitting a terminal trace returns an
// error for which IsConflict reports true.
func (c *Client) Trace(ctx context.Context, req TraceRequest) (*Trace, error) {
	var resp Trace
	if err := c.post(ctx, "/api/ingest/trace", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Batch submits multiple events in one request. Each event must carry a
// "type" discriminator (CallEvent, ActivityRequest with a type field via a
// map, or TraceRequest); the typed helpers in this package marshal to the
// right shape. Entries are applied independently: a bad entry is reported
// in its slot of the response without failing the rest.
func (c *Client) Batch(ctx context.Context, events []any) (*BatchResponse, error) {
	body := map[string]any{"events": events}
	var resp BatchResponse
	if err := c.post(ctx, "/api/ingest/batch", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

// Agents lists all registered agents ordered by agent ID.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var resp []Agent
	if err := c.get(ctx, "/api/agents", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Agent fetches one agent by ID.
func (c *Client) Agent(ctx context.Context, agentID string) (*Agent, error) {
	var resp Agent
	if err := c.get(ctx, "/api/agents/"+url.PathEscape(agentID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentActivity returns the agent's most recent activity entries in append
// order. limit <= 0 uses the server default.
func (c *Client) AgentActivity(ctx context.Context, agentID string, limit int) ([]ActivityRecord, error) {
	path := "/api/agents/" + url.PathEscape(agentID) + "/activity" + limitQuery(limit)
	var resp []ActivityRecord
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AgentEvents returns the agent's recent call events. With archived=true the
// server reads the durable archive instead of the in-memory window.
func (c *Client) AgentEvents(ctx context.Context, agentID string, limit int, archived bool) ([]CallRecord, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if archived {
		params.Set("archived", "true")
	}
	path := "/api/agents/" + url.PathEscape(agentID) + "/events"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []CallRecord
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Traces lists traces, newest first. A non-empty agentID filters to that
// agent's retained traces (oldest first, per the server).
func (c *Client) Traces(ctx context.Context, agentID string, limit int) ([]Trace, error) {
	params := url.Values{}
	if agentID != "" {
		params.Set("agent_id", agentID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/traces"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []Trace
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetTrace fetches one trace with its full step sequence.
func (c *Client) GetTrace(ctx context.Context, traceID string) (*Trace, error) {
	var resp Trace
	if err := c.get(ctx, "/api/traces/"+url.PathEscape(traceID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Metrics fetches the fleet-wide metrics snapshot.
func (c *Client) Metrics(ctx context.Context) (*MetricsSnapshot, error) {
	var resp MetricsSnapshot
	if err := c.get(ctx, "/api/metrics", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health fetches the server health report. No authentication required.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func limitQuery(limit int) string {
	if limit > 0 {
		return "?limit=" + strconv.Itoa(limit)
	}
	return ""
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("beacon: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("beacon: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("beacon: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("beacon: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("beacon: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("beacon: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
