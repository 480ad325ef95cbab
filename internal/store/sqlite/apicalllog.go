package sqlite

import (
	"context"
	"fmt"

	"github.com/aaronbassett/paige/internal/model"
)

// LogCall implements model.CallLogger, so *DB can be handed directly to
// model.Call as the call logger.
func (db *DB) LogCall(ctx context.Context, e model.CallLogEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO api_call_log (session_id, call_type, model, input_hash, latency_ms, input_tokens, output_tokens, cost_estimate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.CallType), e.Model, e.InputHash, e.LatencyMs, e.InputTokens, e.OutputTokens, e.CostEstimate, createdAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert api call log: %w", err)
	}
	return nil
}
