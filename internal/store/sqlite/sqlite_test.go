package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aaronbassett/paige/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "paige.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row, err := db.InsertSession(ctx, "/tmp/proj", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "active", row.Status)

	active, ok, err := db.ActiveSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, row.ID, active.ID)

	require.NoError(t, db.UpdateSessionStatus(ctx, row.ID, "completed"))

	_, ok, err = db.ActiveSession(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	loaded, err := db.LoadSession(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, "completed", loaded.Status)
	require.NotNil(t, loaded.EndedAt)
}

func TestActionLogByTypeCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sess, err := db.InsertSession(ctx, "/tmp/proj", nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := db.InsertAction(ctx, sess.ID, "file_open", nil)
		require.NoError(t, err)
	}
	_, err = db.InsertAction(ctx, sess.ID, "buffer_summary", nil)
	require.NoError(t, err)

	rows, err := db.ByType(ctx, sess.ID, "file_open")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	all, err := db.BySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestApiCallLogFailureRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sess, err := db.InsertSession(ctx, "/tmp/proj", nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.LogCall(ctx, model.CallLogEntry{
		SessionID: sess.ID,
		CallType:  "coach_agent",
		Model:     "claude-sonnet-4-5",
		LatencyMs: -1,
	}))
}
