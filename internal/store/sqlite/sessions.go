package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRow is a single sessions row as persisted.
type SessionRow struct {
	ID          uint64
	ProjectDir  string
	Status      string
	StartedAt   time.Time
	EndedAt     *time.Time
	IssueNumber *int
	IssueTitle  *string
	BranchName  *string
	StashName   *string
}

// InsertSession inserts a new session row in the Active status and returns
// its assigned ID.
func (db *DB) InsertSession(ctx context.Context, projectDir string, issueNumber *int, issueTitle *string) (SessionRow, error) {
	now := nowUTC()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (project_dir, status, started_at, issue_number, issue_title) VALUES (?, ?, ?, ?, ?)`,
		projectDir, "active", now, issueNumber, issueTitle,
	)
	if err != nil {
		return SessionRow{}, fmt.Errorf("sqlite: insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SessionRow{}, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	return SessionRow{
		ID: uint64(id), ProjectDir: projectDir, Status: "active", StartedAt: now,
		IssueNumber: issueNumber, IssueTitle: issueTitle,
	}, nil
}

// UpdateSessionStatus transitions a session to a terminal status and stamps endedAt.
func (db *DB) UpdateSessionStatus(ctx context.Context, id uint64, status string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		status, nowUTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update session status: %w", err)
	}
	return nil
}

// LoadSession loads a session row by ID.
func (db *DB) LoadSession(ctx context.Context, id uint64) (SessionRow, error) {
	var (
		r           SessionRow
		endedAt     sql.NullTime
		issueNumber sql.NullInt64
		issueTitle  sql.NullString
		branchName  sql.NullString
		stashName   sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, project_dir, status, started_at, ended_at, issue_number, issue_title, branch_name, stash_name
		 FROM sessions WHERE id = ?`, id,
	).Scan(&r.ID, &r.ProjectDir, &r.Status, &r.StartedAt, &endedAt, &issueNumber, &issueTitle, &branchName, &stashName)
	if err != nil {
		if err == sql.ErrNoRows {
			return SessionRow{}, fmt.Errorf("sqlite: session %d: %w", id, sql.ErrNoRows)
		}
		return SessionRow{}, fmt.Errorf("sqlite: load session: %w", err)
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	if issueNumber.Valid {
		n := int(issueNumber.Int64)
		r.IssueNumber = &n
	}
	if issueTitle.Valid {
		r.IssueTitle = &issueTitle.String
	}
	if branchName.Valid {
		r.BranchName = &branchName.String
	}
	if stashName.Valid {
		r.StashName = &stashName.String
	}
	return r, nil
}

// ActiveSession returns the currently Active session row, if any.
func (db *DB) ActiveSession(ctx context.Context) (SessionRow, bool, error) {
	var id uint64
	err := db.conn.QueryRowContext(ctx, `SELECT id FROM sessions WHERE status = 'active' LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return SessionRow{}, false, nil
	}
	if err != nil {
		return SessionRow{}, false, fmt.Errorf("sqlite: active session: %w", err)
	}
	row, err := db.LoadSession(ctx, id)
	return row, true, err
}
