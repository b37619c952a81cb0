package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the discriminator carried in the "type" field of
// self-describing ingest events.
type EventKind string

const (
	KindLLMCall  EventKind = "llm_call"
	KindToolCall EventKind = "tool_call"
	KindActivity EventKind = "activity"
	KindTrace    EventKind = "trace"
)

// ValidationError reports a single violated field constraint. The gateway
// maps it to a wholesale request rejection (or a per-entry rejection inside
// a batch) with the field name in the error details.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model: invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Registration is the request body for POST /api/ingest/register.
type Registration struct {
	AgentID     string `json:"agentId"`
	Name        string `json:"name,omitempty"`
	Model       string `json:"model,omitempty"`
	Description string `json:"description,omitempty"`
}

// Validate checks the registration constraints.
func (r Registration) Validate() error {
	if err := ValidateAgentID(r.AgentID); err != nil {
		return invalidField("agentId", err.Error())
	}
	return nil
}

// StatusUpdate is the request body for POST /api/ingest/status.
type StatusUpdate struct {
	AgentID     string      `json:"agentId"`
	Status      AgentStatus `json:"status"`
	CurrentTask *string     `json:"currentTask,omitempty"`
}

// Validate checks the status update constraints.
func (u StatusUpdate) Validate() error {
	if err := ValidateAgentID(u.AgentID); err != nil {
		return invalidField("agentId", err.Error())
	}
	if !ValidStatus(u.Status) {
		return invalidField("status", fmt.Sprintf("must be one of idle, running, error (got %q)", u.Status))
	}
	return nil
}

// ActivityEvent is a single free-form activity record.
type ActivityEvent struct {
	AgentID      string         `json:"agentId"`
	ActivityType string         `json:"activityType"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the activity constraints.
func (a ActivityEvent) Validate() error {
	if err := ValidateAgentID(a.AgentID); err != nil {
		return invalidField("agentId", err.Error())
	}
	if a.ActivityType == "" {
		return invalidField("activityType", "is required")
	}
	if a.Message == "" {
		return invalidField("message", "is required")
	}
	if a.Timestamp.IsZero() {
		return invalidField("timestamp", "is required")
	}
	return nil
}

// CallEvent records one llm or tool invocation. Kind is llm_call or
// tool_call; the llm variant carries model/token fields, the tool variant
// carries the tool name.
type CallEvent struct {
	AgentID   string    `json:"agentId"`
	Kind      EventKind `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int64     `json:"latencyMs"`
	Success   *bool     `json:"success"`
	Error     *string   `json:"error,omitempty"`

	// llm_call fields.
	Model        string   `json:"model,omitempty"`
	TokensInput  int64    `json:"tokensInput,omitempty"`
	TokensOutput int64    `json:"tokensOutput,omitempty"`
	Cost         *float64 `json:"cost,omitempty"`

	// tool_call fields.
	ToolName string `json:"toolName,omitempty"`
}

// Succeeded reports the declared outcome. Validate guarantees Success is set.
func (c CallEvent) Succeeded() bool {
	return c.Success != nil && *c.Success
}

// Validate checks the call event constraints. The error field must be
// present exactly when success is false.
func (c CallEvent) Validate() error {
	if err := ValidateAgentID(c.AgentID); err != nil {
		return invalidField("agentId", err.Error())
	}
	if c.Kind != KindLLMCall && c.Kind != KindToolCall {
		return invalidField("type", fmt.Sprintf("must be llm_call or tool_call (got %q)", c.Kind))
	}
	if c.Timestamp.IsZero() {
		return invalidField("timestamp", "is required")
	}
	if c.LatencyMs < 0 {
		return invalidField("latencyMs", "must be non-negative")
	}
	if c.Success == nil {
		return invalidField("success", "is required")
	}
	if !*c.Success && (c.Error == nil || *c.Error == "") {
		return invalidField("error", "is required when success is false")
	}
	if *c.Success && c.Error != nil {
		return invalidField("error", "must be absent when success is true")
	}
	if c.Kind == KindLLMCall {
		if c.TokensInput < 0 {
			return invalidField("tokensInput", "must be non-negative")
		}
		if c.TokensOutput < 0 {
			return invalidField("tokensOutput", "must be non-negative")
		}
	}
	if c.Kind == KindToolCall && c.ToolName == "" {
		return invalidField("toolName", "is required for tool_call events")
	}
	return nil
}

// TraceEvent is a whole-trace submission: the full ordered step sequence
// plus the declared status. Caller-supplied totals are advisory only; the
// assembler recomputes them from the steps.
type TraceEvent struct {
	AgentID     string      `json:"agentId"`
	TraceID     string      `json:"traceId"`
	Timestamp   time.Time   `json:"timestamp"`
	Status      TraceStatus `json:"status"`
	Steps       []StepInput `json:"steps"`
	TotalTokens *int64      `json:"totalTokens,omitempty"`
	TotalCost   *float64    `json:"totalCost,omitempty"`
}

// StepInput is one submitted trace step. Source order within Steps is
// authoritative; embedded timestamps are not used for reordering.
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

// Validate checks the trace submission constraints, including step ID
// uniqueness within the trace.
func (t TraceEvent) Validate() error {
	if err := ValidateAgentID(t.AgentID); err != nil {
		return invalidField("agentId", err.Error())
	}
	if t.TraceID == "" {
		return invalidField("traceId", "is required")
	}
	if !ValidTraceStatus(t.Status) {
		return invalidField("status", fmt.Sprintf("must be one of running, completed, failed (got %q)", t.Status))
	}
	if len(t.Steps) == 0 {
		return invalidField("steps", "must be a non-empty array")
	}
	seen := make(map[string]struct{}, len(t.Steps))
	for i, s := range t.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if s.ID == "" {
			return invalidField(field+".id", "is required")
		}
		if _, dup := seen[s.ID]; dup {
			return invalidField(field+".id", fmt.Sprintf("duplicate step id %q", s.ID))
		}
		seen[s.ID] = struct{}{}
		if s.Type == "" {
			return invalidField(field+".type", "is required")
		}
		if s.Name == "" {
			return invalidField(field+".name", "is required")
		}
		if s.StartTime.IsZero() {
			return invalidField(field+".startTime", "is required")
		}
		if s.EndTime.IsZero() {
			return invalidField(field+".endTime", "is required")
		}
		if s.Duration < 0 {
			return invalidField(field+".duration", "must be non-negative")
		}
	}
	return nil
}

// Event is one parsed and validated self-describing batch entry. Exactly
// one of the variant pointers is non-nil.
type Event struct {
	Kind     EventKind
	Call     *CallEvent
	Activity *ActivityEvent
	Trace    *TraceEvent
}

// ParseEvent decodes a raw batch entry by its "type" discriminator into
// exactly one validated variant. Unknown discriminators are rejected.
func ParseEvent(raw json.RawMessage) (Event, error) {
	var probe struct {
		Type EventKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Event{}, invalidField("type", "entry is not a JSON object")
	}

	switch probe.Type {
	case KindLLMCall, KindToolCall:
		var ev CallEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return Event{}, invalidField("type", fmt.Sprintf("malformed %s event: %v", probe.Type, err))
		}
		if err := ev.Validate(); err != nil {
			return Event{}, err
		}
		return Event{Kind: probe.Type, Call: &ev}, nil

	case KindActivity:
		var ev ActivityEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return Event{}, invalidField("type", fmt.Sprintf("malformed activity event: %v", err))
		}
		if err := ev.Validate(); err != nil {
			return Event{}, err
		}
		return Event{Kind: KindActivity, Activity: &ev}, nil

	case KindTrace:
		var ev TraceEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return Event{}, invalidField("type", fmt.Sprintf("malformed trace event: %v", err))
		}
		if err := ev.Validate(); err != nil {
			return Event{}, err
		}
		return Event{Kind: KindTrace, Trace: &ev}, nil

	case "":
		return Event{}, invalidField("type", "is required")
	default:
		return Event{}, invalidField("type", fmt.Sprintf("unknown event type %q", probe.Type))
	}
}
