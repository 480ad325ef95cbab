// Package actionlog is the append-only Action Log (§4.3 of the spec). Every
// successful Log call synchronously emits an Action on an in-process event
// bus so the Observer and other in-process subscribers can react without
// polling the database.
//
// The bus is modeled directly on the teacher's runtime/mcp.Broadcaster
// (buffered per-subscriber channel, explicit Subscribe/Close), specialized
// from an untyped payload to Action.
package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aaronbassett/paige/internal/store/sqlite"
)

// Action is a single user-initiated or system-class event, as emitted on
// the bus and persisted to the Action Log.
type Action struct {
	ID         int64
	SessionID  uint64
	Type       string
	Data       json.RawMessage
	CreatedAt  time.Time
}

// Store persists actions and answers the §4.3 queries.
//
// Implemented by *sqlite.DB.
type Store interface {
	InsertAction(ctx context.Context, sessionID uint64, actionType string, data json.RawMessage) (Row, error)
	BySession(ctx context.Context, sessionID uint64) ([]Row, error)
	ByType(ctx context.Context, sessionID uint64, actionType string) ([]Row, error)
	Recent(ctx context.Context, sessionID uint64, limit int) ([]Row, error)
}

// Row is the persisted shape of an action, as returned by Store queries.
type Row = sqlite.ActionRow

// Log is the append-only Action Log with its companion event bus.
type Log struct {
	store Store

	mu   sync.RWMutex
	subs map[chan Action]struct{}
	buf  int
}

// New builds a Log backed by store, with subscriber channels buffered to
// bufSize (default 64 when <= 0).
func New(store Store, bufSize int) *Log {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Log{store: store, subs: make(map[chan Action]struct{}), buf: bufSize}
}

// LogAction inserts the action and, on success, synchronously publishes it
// on the bus before returning, per §5's ordering guarantee ("Actions are
// persisted and their bus-event is emitted before any subscriber observes
// the next action from the same session").
//
// Errors during persistence are fatal to the operation that requested them
// (§7 propagation policy: "no silent drops").
func (l *Log) LogAction(ctx context.Context, sessionID uint64, actionType string, data json.RawMessage) (Action, error) {
	row, err := l.store.InsertAction(ctx, sessionID, actionType, data)
	if err != nil {
		return Action{}, fmt.Errorf("actionlog: log %q: %w", actionType, err)
	}
	a := Action{ID: row.ID, SessionID: row.SessionID, Type: row.ActionType, Data: row.Data, CreatedAt: row.CreatedAt}
	l.publish(a)
	return a, nil
}

// Subscribe registers a new subscriber and returns a channel of Actions plus
// an unsubscribe function. The channel is closed when unsubscribe is called.
func (l *Log) Subscribe() (<-chan Action, func()) {
	ch := make(chan Action, l.buf)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			l.mu.Lock()
			if _, ok := l.subs[ch]; ok {
				delete(l.subs, ch)
				close(ch)
			}
			l.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

func (l *Log) publish(a Action) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for ch := range l.subs {
		select {
		case ch <- a:
		default:
			// Slow subscriber: drop rather than block the logger, matching
			// the teacher's drop-mode broadcaster policy. The Observer is
			// expected to keep pace with its own session's action volume;
			// a full buffer indicates it is not, and dropping here is
			// preferable to stalling every other session's action log.
		}
	}
}

// BySession returns all actions for a session, oldest first.
func (l *Log) BySession(ctx context.Context, sessionID uint64) ([]Action, error) {
	rows, err := l.store.BySession(ctx, sessionID)
	return toActions(rows), err
}

// ByType returns all actions of a type for a session, oldest first.
func (l *Log) ByType(ctx context.Context, sessionID uint64, actionType string) ([]Action, error) {
	rows, err := l.store.ByType(ctx, sessionID, actionType)
	return toActions(rows), err
}

// Recent returns up to limit actions for a session, newest first.
func (l *Log) Recent(ctx context.Context, sessionID uint64, limit int) ([]Action, error) {
	rows, err := l.store.Recent(ctx, sessionID, limit)
	return toActions(rows), err
}

func toActions(rows []Row) []Action {
	out := make([]Action, len(rows))
	for i, r := range rows {
		out[i] = Action{ID: r.ID, SessionID: r.SessionID, Type: r.ActionType, Data: r.Data, CreatedAt: r.CreatedAt}
	}
	return out
}
