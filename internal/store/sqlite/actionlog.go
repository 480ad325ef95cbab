package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ActionRow is a single action_log row as persisted.
type ActionRow struct {
	ID         int64
	SessionID  uint64
	ActionType string
	Data       json.RawMessage
	CreatedAt  time.Time
}

// InsertAction appends a row to action_log and returns its assigned ID.
func (db *DB) InsertAction(ctx context.Context, sessionID uint64, actionType string, data json.RawMessage) (ActionRow, error) {
	now := nowUTC()
	var dataArg any
	if len(data) > 0 {
		dataArg = string(data)
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO action_log (session_id, action_type, data_json, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, actionType, dataArg, now,
	)
	if err != nil {
		return ActionRow{}, fmt.Errorf("sqlite: insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ActionRow{}, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	return ActionRow{ID: id, SessionID: sessionID, ActionType: actionType, Data: data, CreatedAt: now}, nil
}

// BySession returns all actions for a session, ascending by id.
func (db *DB) BySession(ctx context.Context, sessionID uint64) ([]ActionRow, error) {
	return db.queryActions(ctx,
		`SELECT id, session_id, action_type, data_json, created_at FROM action_log WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
}

// ByType returns all actions for a session matching actionType, ascending by id.
func (db *DB) ByType(ctx context.Context, sessionID uint64, actionType string) ([]ActionRow, error) {
	return db.queryActions(ctx,
		`SELECT id, session_id, action_type, data_json, created_at FROM action_log WHERE session_id = ? AND action_type = ? ORDER BY id ASC`,
		sessionID, actionType)
}

// Recent returns up to limit actions for a session, descending by created_at.
func (db *DB) Recent(ctx context.Context, sessionID uint64, limit int) ([]ActionRow, error) {
	return db.queryActions(ctx,
		`SELECT id, session_id, action_type, data_json, created_at FROM action_log WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit)
}

func (db *DB) queryActions(ctx context.Context, query string, args ...any) ([]ActionRow, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRow
	for rows.Next() {
		var (
			r        ActionRow
			dataJSON sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ActionType, &dataJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan action: %w", err)
		}
		if dataJSON.Valid {
			r.Data = json.RawMessage(dataJSON.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
