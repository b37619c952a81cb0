package model

import (
	"fmt"
	"time"
)

// AgentStatus is the caller-declared lifecycle status of an agent.
type AgentStatus string

const (
	StatusIdle    AgentStatus = "idle"
	StatusRunning AgentStatus = "running"
	StatusError   AgentStatus = "error"
)

// ValidStatus reports whether s is one of the accepted agent statuses.
func ValidStatus(s AgentStatus) bool {
	switch s {
	case StatusIdle, StatusRunning, StatusError:
		return true
	}
	return false
}

// Agent is the live record for one telemetry producer. Identity attributes
// are set at registration and overwritten on re-registration; status is only
// changed by explicit status updates, never inferred from event outcomes.
type Agent struct {
	AgentID      string       `json:"agent_id"`
	Name         string       `json:"name"`
	Model        string       `json:"model"`
	Description  string       `json:"description"`
	Status       AgentStatus  `json:"status"`
	CurrentTask  *string      `json:"current_task,omitempty"`
	Metrics      AgentMetrics `json:"metrics"`
	RegisteredAt time.Time    `json:"registered_at"`
	LastSeen     time.Time    `json:"last_seen"`
}

// ValidateAgentID checks that an agent ID conforms to the allowed format.
// Agent IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("agent_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
