package beacon

import "time"

// Event type discriminators for batch entries.
const (
	EventLLMCall  = "llm_call"
	EventToolCall = "tool_call"
	EventActivity = "activity"
	EventTrace    = "trace"
)

// RegisterRequest announces an agent to the server. Registration is
// idempotent; re-registering overwrites the identity fields.
type RegisterRequest struct {
	AgentID     string `json:"agentId"`
	Name        string `json:"name,omitempty"`
	Model       string `json:"model,omitempty"`
	Description string `json:"description,omitempty"`
}

// StatusRequest declares an agent's lifecycle status: idle, running, or error.
type StatusRequest struct {
	AgentID     string  `json:"agentId"`
	Status      string  `json:"status"`
	CurrentTask *string `json:"currentTask,omitempty"`
}

// ActivityRequest records one free-form activity entry.
type ActivityRequest struct {
	AgentID      string         `json:"agentId"`
	ActivityType string         `json:"activityType"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CallEvent records one llm or tool invocation inside a batch. Type must be
// EventLLMCall or EventToolCall. Error is required exactly when Success is
// false.
type CallEvent struct {
	Type         string    `json:"type"`
	AgentID      string    `json:"agentId"`
	Timestamp    time.Time `json:"timestamp"`
	LatencyMs    int64     `json:"latencyMs"`
	Success      *bool     `json:"success"`
	Error        *string   `json:"error,omitempty"`
	Model        string    `json:"model,omitempty"`
	TokensInput  int64     `json:"tokensInput,omitempty"`
	TokensOutput int64     `json:"tokensOutput,omitempty"`
	Cost         *float64  `json:"cost,omitempty"`
	ToolName     string    `json:"toolName,omitempty"`
}

// TraceRequest submits a whole trace: the full ordered step sequence plus
// the declared status (running, completed, or failed). The server derives
// totals from the steps; declared totals are advisory.
type TraceRequest struct {
	AgentID     string      `json:"agentId"`
	TraceID     string      `json:"traceId"`
	Timestamp   time.Time   `json:"timestamp"`
	Status      string      `json:"status"`
	Steps       []StepInput `json:"steps"`
	TotalTokens *int64      `json:"totalTokens,omitempty"`
	TotalCost   *float64    `json:"totalCost,omitempty"`
}

// StepInput is one submitted trace step. Source order within Steps is
// authoritative.
type StepInput struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	Duration     int64     `json:"duration"`
	Status       string    `json:"status,omitempty"`
	Input        string    `json:"input,omitempty"`
	Output       string    `json:"output,omitempty"`
	TokensInput  int64     `json:"tokensInput,omitempty"`
	TokensOutput int64     `json:"tokensOutput,omitempty"`
	Cost         float64   `json:"cost,omitempty"`
	Model        string    `json:"model,omitempty"`
	Error        *string   `json:"error,omitempty"`
}

// ActivityBatchEvent wraps an ActivityRequest with the discriminator batch
// entries require. Set Type to EventActivity (or use NewActivityBatchEvent).
type ActivityBatchEvent struct {
	ActivityRequest
	Type string `json:"type"`
}

// NewActivityBatchEvent builds a batch entry from an activity request.
func NewActivityBatchEvent(req ActivityRequest) ActivityBatchEvent {
	return ActivityBatchEvent{ActivityRequest: req, Type: EventActivity}
}

// TraceBatchEvent wraps a TraceRequest with the discriminator batch entries
// require. Set Type to EventTrace (or use NewTraceBatchEvent).
type TraceBatchEvent struct {
	TraceRequest
	Type string `json:"type"`
}

// NewTraceBatchEvent builds a batch entry from a trace request.
func NewTraceBatchEvent(req TraceRequest) TraceBatchEvent {
	return TraceBatchEvent{TraceRequest: req, Type: EventTrace}
}

// Agent is the server's live record for one telemetry producer.
type Agent struct {
	AgentID      string       `json:"agent_id"`
	Name         string       `json:"name"`
	Model        string       `json:"model"`
	Description  string       `json:"description"`
	Status       string       `json:"status"`
	CurrentTask  *string      `json:"current_task,omitempty"`
	Metrics      AgentMetrics `json:"metrics"`
	RegisteredAt time.Time    `json:"registered_at"`
	LastSeen     time.Time    `json:"last_seen"`
}

// AgentMetrics is the live per-agent aggregate derived from call events.
type AgentMetrics struct {
	SuccessRate       float64 `json:"success_rate"`
	AvgLatencyMs      int64   `json:"avg_latency_ms"`
	P50LatencyMs      int64   `json:"p50_latency_ms"`
	P95LatencyMs      int64   `json:"p95_latency_ms"`
	P99LatencyMs      int64   `json:"p99_latency_ms"`
	TotalRequests     int64   `json:"total_requests"`
	FailedRequests    int64   `json:"failed_requests"`
	TotalTokensInput  int64   `json:"total_tokens_input"`
	TotalTokensOutput int64   `json:"total_tokens_output"`
	TotalCost         float64 `json:"total_cost"`
}

// ActivityRecord is one stored activity entry.
type ActivityRecord struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	AgentName    string         `json:"agent_name"`
	ActivityType string         `json:"activity_type"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ReceivedAt   time.Time      `json:"received_at"`
}

// CallRecord is one stored call event.
type CallRecord struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	Error        *string   `json:"error,omitempty"`
	Model        string    `json:"model,omitempty"`
	ToolName     string    `json:"tool_name,omitempty"`
	TokensInput  int64     `json:"tokens_input"`
	TokensOutput int64     `json:"tokens_output"`
	Cost         float64   `json:"cost"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Trace is an assembled multi-step execution with server-derived totals.
type Trace struct {
	TraceID       string     `json:"trace_id"`
	AgentID       string     `json:"agent_id"`
	AgentName     string     `json:"agent_name"`
	Status        string     `json:"status"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	TotalDuration *int64     `json:"total_duration_ms,omitempty"`
	TotalTokens   int64      `json:"total_tokens"`
	TotalCost     float64    `json:"total_cost"`
	Steps         []Step     `json:"steps"`
	ReceivedAt    time.Time  `json:"received_at"`
}

// Step is one unit of work within a trace.
type Step struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Duration     int64     `json:"duration_ms"`
	Status       string    `json:"status"`
	Input        string    `json:"input"`
	Output       string    `json:"output"`
	TokensInput  int64     `json:"tokens_input"`
	TokensOutput int64     `json:"tokens_output"`
	Cost         float64   `json:"cost"`
	Model        string    `json:"model,omitempty"`
	Error        *string   `json:"error,omitempty"`
}

// BatchResult reports the outcome of one batch entry in submission order.
type BatchResult struct {
	Index int          `json:"index"`
	OK    bool         `json:"ok"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// BatchResponse is the per-entry result list for a batch submission.
type BatchResponse struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Results   []BatchResult `json:"results"`
}

// ErrorDetail describes one API error, including per-entry batch failures.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OverallMetrics is the fleet-wide aggregate.
type OverallMetrics struct {
	ActiveAgents      int     `json:"active_agents"`
	SuccessRate       float64 `json:"success_rate"`
	AvgLatencyMs      int64   `json:"avg_latency_ms"`
	TotalCost         float64 `json:"total_cost"`
	TotalTokensInput  int64   `json:"total_tokens_input"`
	TotalTokensOutput int64   `json:"total_tokens_output"`
	TotalRequests     int64   `json:"total_requests"`
	ErrorRate         float64 `json:"error_rate"`
}

// LatencyTrendPoint is one sampled point of the fleet latency trend.
type LatencyTrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	P50       int64     `json:"p50"`
	P95       int64     `json:"p95"`
	P99       int64     `json:"p99"`
}

// TokenTrendPoint is one sampled point of fleet token throughput.
type TokenTrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Input     int64     `json:"input"`
	Output    int64     `json:"output"`
}

// CostTrendPoint is one sampled point of fleet spend.
type CostTrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Cost      float64   `json:"cost"`
}

// ErrorTypeCount is one bucket of the fleet error distribution.
type ErrorTypeCount struct {
	Type       string  `json:"type"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TaskQueueCounts tracks fleet task lifecycle counters.
type TaskQueueCounts struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// MetricsSnapshot is the full fleet view.
type MetricsSnapshot struct {
	Timestamp    time.Time           `json:"timestamp"`
	Agents       []Agent             `json:"agents"`
	Overall      OverallMetrics      `json:"overall"`
	LatencyTrend []LatencyTrendPoint `json:"latency_trend"`
	TokenTrend   []TokenTrendPoint   `json:"token_trend"`
	CostTrend    []CostTrendPoint    `json:"cost_trend"`
	ErrorsByType []ErrorTypeCount    `json:"errors_by_type"`
	TaskQueue    TaskQueueCounts     `json:"task_queue"`
}

// Health is the server health report.
type Health struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Agents       int    `json:"agents"`
	Archive      string `json:"archive,omitempty"`
	BufferDepth  int    `json:"buffer_depth,omitempty"`
	BufferStatus string `json:"buffer_status,omitempty"`
	Uptime       int64  `json:"uptime_seconds"`
}
