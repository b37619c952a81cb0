package model

import "time"

// TraceStatus is the declared status of a trace submission.
type TraceStatus string

const (
	TraceRunning   TraceStatus = "running"
	TraceCompleted TraceStatus = "completed"
	TraceFailed    TraceStatus = "failed"
)

// ValidTraceStatus reports whether s is one of the accepted trace statuses.
func ValidTraceStatus(s TraceStatus) bool {
	switch s {
	case TraceRunning, TraceCompleted, TraceFailed:
		return true
	}
	return false
}

// Terminal reports whether s closes the trace against further submissions.
func (s TraceStatus) Terminal() bool {
	return s == TraceCompleted || s == TraceFailed
}

// Trace is an assembled multi-step execution. TotalTokens and TotalCost are
// derived from the steps and always override caller-declared totals.
type Trace struct {
	TraceID       string      `json:"trace_id"`
	AgentID       string      `json:"agent_id"`
	AgentName     string      `json:"agent_name"`
	Status        TraceStatus `json:"status"`
	StartTime     time.Time   `json:"start_time"`
	EndTime       *time.Time  `json:"end_time,omitempty"`
	TotalDuration *int64      `json:"total_duration_ms,omitempty"`
	TotalTokens   int64       `json:"total_tokens"`
	TotalCost     float64     `json:"total_cost"`
	Steps         []Step      `json:"steps"`
	ReceivedAt    time.Time   `json:"received_at"`
}

// Step is one unit of work within a trace, ordered by submitted position.
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

// ActivityRecord is one stored activity entry in an agent's append-only log.
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

// CallRecord is one stored call event in an agent's append-only log.
type CallRecord struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	Kind         EventKind `json:"type"`
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
