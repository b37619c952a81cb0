package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openfleet/beacon/internal/model"
)

// InsertCallEvents inserts call records using the COPY protocol for high
// throughput. Records must have IDs already assigned.
func (db *DB) InsertCallEvents(ctx context.Context, records []model.CallRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "agent_id", "kind", "occurred_at", "latency_ms", "success",
		"error", "model", "tool_name", "tokens_input", "tokens_output",
		"cost", "received_at",
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = []any{
			rec.ID,
			rec.AgentID,
			string(rec.Kind),
			rec.Timestamp,
			rec.LatencyMs,
			rec.Success,
			rec.Error,
			rec.Model,
			rec.ToolName,
			rec.TokensInput,
			rec.TokensOutput,
			rec.Cost,
			rec.ReceivedAt,
		}
	}

	// Dedicated 30s COPY timeout prevents a hung Postgres from blocking the
	// buffer flush indefinitely.
	copyCtx, copyCancel := context.WithTimeout(ctx, 30*time.Second)
	copyCount, err := db.pool.CopyFrom(
		copyCtx,
		pgx.Identifier{"call_events"},
		columns,
		pgx.CopyFromRows(rows),
	)
	copyCancel()
	if err != nil {
		return 0, fmt.Errorf("archive: copy call events: %w", err)
	}
	return copyCount, nil
}

// GetCallEventsByAgent retrieves archived call records for an agent, newest
// first. The limit parameter caps the number of rows returned; if limit <= 0,
// it defaults to 1000.
func (db *DB) GetCallEventsByAgent(ctx context.Context, agentID string, limit int) ([]model.CallRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, kind, occurred_at, latency_ms, success,
		        error, model, tool_name, tokens_input, tokens_output, cost, received_at
		 FROM call_events WHERE agent_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: get call events by agent: %w", err)
	}
	defer rows.Close()

	return scanCallEvents(rows)
}

func scanCallEvents(rows pgx.Rows) ([]model.CallRecord, error) {
	var records []model.CallRecord
	for rows.Next() {
		var rec model.CallRecord
		if err := rows.Scan(
			&rec.ID, &rec.AgentID, &rec.Kind, &rec.Timestamp, &rec.LatencyMs,
			&rec.Success, &rec.Error, &rec.Model, &rec.ToolName,
			&rec.TokensInput, &rec.TokensOutput, &rec.Cost, &rec.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("archive: scan call event: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
