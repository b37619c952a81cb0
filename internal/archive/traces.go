package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openfleet/beacon/internal/model"
)

// UpsertTrace writes a trace snapshot and its steps in a single transaction.
// Resubmitted traces replace the previous snapshot wholesale, matching the
// in-memory replace semantics.
func (db *DB) UpsertTrace(ctx context.Context, tr model.Trace) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin trace tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO traces (trace_id, agent_id, agent_name, status, start_time, end_time,
		                     total_duration_ms, total_tokens, total_cost, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (trace_id) DO UPDATE SET
		     agent_id = EXCLUDED.agent_id,
		     agent_name = EXCLUDED.agent_name,
		     status = EXCLUDED.status,
		     start_time = EXCLUDED.start_time,
		     end_time = EXCLUDED.end_time,
		     total_duration_ms = EXCLUDED.total_duration_ms,
		     total_tokens = EXCLUDED.total_tokens,
		     total_cost = EXCLUDED.total_cost,
		     received_at = EXCLUDED.received_at`,
		tr.TraceID, tr.AgentID, tr.AgentName, string(tr.Status), tr.StartTime, tr.EndTime,
		tr.TotalDuration, tr.TotalTokens, tr.TotalCost, tr.ReceivedAt,
	); err != nil {
		return fmt.Errorf("archive: upsert trace: %w", err)
	}

	// Steps are replaced wholesale; positions restart from zero.
	if _, err := tx.Exec(ctx, `DELETE FROM trace_steps WHERE trace_id = $1`, tr.TraceID); err != nil {
		return fmt.Errorf("archive: delete trace steps: %w", err)
	}

	for i, step := range tr.Steps {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trace_steps (trace_id, position, step_id, step_type, name, start_time,
			                          end_time, duration_ms, status, input, output,
			                          tokens_input, tokens_output, cost, model, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			tr.TraceID, i, step.ID, step.Type, step.Name, step.StartTime,
			step.EndTime, step.Duration, step.Status, step.Input, step.Output,
			step.TokensInput, step.TokensOutput, step.Cost, step.Model, step.Error,
		); err != nil {
			return fmt.Errorf("archive: insert trace step: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit trace tx: %w", err)
	}
	return nil
}

// GetTrace retrieves an archived trace with its steps in position order.
// Returns ErrNotFound if the trace does not exist.
func (db *DB) GetTrace(ctx context.Context, traceID string) (model.Trace, error) {
	var tr model.Trace
	err := db.pool.QueryRow(ctx,
		`SELECT trace_id, agent_id, agent_name, status, start_time, end_time,
		        total_duration_ms, total_tokens, total_cost, received_at
		 FROM traces WHERE trace_id = $1`, traceID,
	).Scan(
		&tr.TraceID, &tr.AgentID, &tr.AgentName, &tr.Status, &tr.StartTime, &tr.EndTime,
		&tr.TotalDuration, &tr.TotalTokens, &tr.TotalCost, &tr.ReceivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Trace{}, ErrNotFound
	}
	if err != nil {
		return model.Trace{}, fmt.Errorf("archive: get trace: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT step_id, step_type, name, start_time, end_time, duration_ms, status,
		        input, output, tokens_input, tokens_output, cost, model, error
		 FROM trace_steps WHERE trace_id = $1
		 ORDER BY position ASC`, traceID,
	)
	if err != nil {
		return model.Trace{}, fmt.Errorf("archive: get trace steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step model.Step
		if err := rows.Scan(
			&step.ID, &step.Type, &step.Name, &step.StartTime, &step.EndTime,
			&step.Duration, &step.Status, &step.Input, &step.Output,
			&step.TokensInput, &step.TokensOutput, &step.Cost, &step.Model, &step.Error,
		); err != nil {
			return model.Trace{}, fmt.Errorf("archive: scan trace step: %w", err)
		}
		tr.Steps = append(tr.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return model.Trace{}, fmt.Errorf("archive: iterate trace steps: %w", err)
	}
	return tr, nil
}

// GetTracesByAgent retrieves archived trace summaries (without steps) for an
// agent, newest first. If limit <= 0, it defaults to 100.
func (db *DB) GetTracesByAgent(ctx context.Context, agentID string, limit int) ([]model.Trace, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT trace_id, agent_id, agent_name, status, start_time, end_time,
		        total_duration_ms, total_tokens, total_cost, received_at
		 FROM traces WHERE agent_id = $1
		 ORDER BY received_at DESC
		 LIMIT $2`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: get traces by agent: %w", err)
	}
	defer rows.Close()

	var traces []model.Trace
	for rows.Next() {
		var tr model.Trace
		if err := rows.Scan(
			&tr.TraceID, &tr.AgentID, &tr.AgentName, &tr.Status, &tr.StartTime, &tr.EndTime,
			&tr.TotalDuration, &tr.TotalTokens, &tr.TotalCost, &tr.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("archive: scan trace: %w", err)
		}
		traces = append(traces, tr)
	}
	return traces, rows.Err()
}
