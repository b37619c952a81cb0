package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	// beacon_overview: fleet-wide metrics snapshot.
	s.mcpServer.AddTool(
		mcplib.NewTool("beacon_overview",
			mcplib.WithDescription(`Get a fleet-wide snapshot of agent telemetry.

WHEN TO USE: At the start of a session to understand the current state of
the fleet, or to check overall health before digging into a specific agent.

WHAT YOU GET BACK:
- overall: active agent count, success rate, average latency, total cost and tokens
- errors_by_type: error counts bucketed by category
- task_queue: queued/running/completed/failed task counters
- agents: per-agent metrics`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleOverview,
	)

	// beacon_agents: list registered agents.
	s.mcpServer.AddTool(
		mcplib.NewTool("beacon_agents",
			mcplib.WithDescription(`List all registered agents with their status and metrics.

WHEN TO USE: To see which agents exist, what they are working on, and how
they are performing. Agents are ordered by ID.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleAgents,
	)

	// beacon_agent: inspect one agent in depth.
	s.mcpServer.AddTool(
		mcplib.NewTool("beacon_agent",
			mcplib.WithDescription(`Inspect one agent: identity, status, metrics, and recent activity.

WHEN TO USE: After beacon_agents or beacon_overview points at a problem
agent, to see its recent activity log and latency profile.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_id",
				mcplib.Description("Agent identifier to inspect"),
				mcplib.Required(),
			),
			mcplib.WithNumber("activity_limit",
				mcplib.Description("Maximum recent activity entries to include"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleAgent,
	)

	// beacon_trace: fetch one trace with its steps.
	s.mcpServer.AddTool(
		mcplib.NewTool("beacon_trace",
			mcplib.WithDescription(`Fetch one trace with its full ordered step sequence.

WHEN TO USE: To understand what a specific multi-step run did, step by step:
timing, tokens, cost, and error, in the order the agent executed them.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("Trace identifier to fetch"),
				mcplib.Required(),
			),
		),
		s.handleTrace,
	)
}

func (s *Server) handleOverview(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	snapshot := s.registry.Snapshot()
	return jsonResult(snapshot)
}

func (s *Server) handleAgents(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agents := s.registry.List()
	return jsonResult(map[string]any{
		"agents": agents,
		"total":  len(agents),
	})
}

func (s *Server) handleAgent(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	if agentID == "" {
		return errorResult("agent_id is required"), nil
	}
	limit := request.GetInt("activity_limit", 20)

	agent, ok := s.registry.Get(agentID)
	if !ok {
		return errorResult(fmt.Sprintf("agent %q not found", agentID)), nil
	}
	activities, _ := s.registry.Activities(agentID, limit)

	return jsonResult(map[string]any{
		"agent":    agent,
		"activity": activities,
	})
}

func (s *Server) handleTrace(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}

	tr, ok := s.assembler.Get(traceID)
	if !ok {
		return errorResult(fmt.Sprintf("trace %q not found", traceID)), nil
	}
	return jsonResult(tr)
}

func jsonResult(payload any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
