// Package buffercache is the in-memory Buffer Cache (§4.2 of the spec): one
// Buffer per workspace-relative path, dirty tracking, a per-path
// significant-change detector, and a periodic summary emission feeding the
// Observer's buffer_summary trigger.
//
// Concurrency follows §5: single writer per path via a per-path lock;
// DirtyPaths takes a consistent snapshot under the cache-wide map lock.
package buffercache

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/aaronbassett/paige/internal/actionlog"
)

// Buffer is the in-memory representation of one unsaved file's contents.
type Buffer struct {
	Path          string
	Content       string
	Dirty         bool
	LastUpdatedAt time.Time
}

// ActionLogger appends an action for significant-change and summary events.
// Implemented by *actionlog.Log.
type ActionLogger interface {
	LogAction(ctx context.Context, sessionID uint64, actionType string, data json.RawMessage) (actionlog.Action, error)
}

type entry struct {
	mu     sync.Mutex
	buf    Buffer
	detect detector
}

// detector holds the significant-change state for one path, per §4.2.
type detector struct {
	lastLoggedCharCount int
	editCountSinceLog   int
}

// significant reports whether newLen differs enough from d.lastLoggedCharCount
// to count as a significant change, per the spec's three conditions.
func (d detector) significant(newLen int) bool {
	if d.lastLoggedCharCount == 0 && newLen > 0 {
		return true
	}
	delta := newLen - d.lastLoggedCharCount
	if delta < 0 {
		delta = -delta
	}
	if delta > 500 {
		return true
	}
	if d.lastLoggedCharCount > 0 && float64(delta)/float64(d.lastLoggedCharCount) > 0.5 {
		return true
	}
	return false
}

// Cache is the process-wide Buffer Cache.
type Cache struct {
	sessionID uint64
	logger    ActionLogger

	mu      sync.RWMutex
	entries map[string]*entry

	tickerPeriod time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithSummaryPeriod overrides the default 30s periodic summary interval.
func WithSummaryPeriod(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.tickerPeriod = d
		}
	}
}

// New builds an empty Buffer Cache for the given session, logging
// significant-change and summary actions via logger.
func New(sessionID uint64, logger ActionLogger, opts ...Option) *Cache {
	c := &Cache{
		sessionID:    sessionID,
		logger:       logger,
		entries:      make(map[string]*entry),
		tickerPeriod: 30 * time.Second,
		stop:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// significantChangeData is the payload for a buffer_significant_change action.
type significantChangeData struct {
	Path              string `json:"path"`
	PreviousCharCount int    `json:"previousCharCount"`
	NewCharCount      int    `json:"newCharCount"`
	Delta             int    `json:"delta"`
}

// summaryData is the payload for a periodic buffer_summary action.
type summaryData struct {
	Path      string `json:"path"`
	EditCount int    `json:"editCount"`
	CharDelta int    `json:"charDelta"`
	CharCount int    `json:"charCount"`
}

// Update replaces path's buffer content, marks it dirty, and runs the
// significant-change detector. cursor is accepted per the spec's operation
// signature but is not persisted by the Buffer Cache itself (it is relayed
// live by the UI Message Hub's editor:cursor handler).
func (c *Cache) Update(ctx context.Context, path, content string, cursor int) {
	e := c.entryFor(path)

	e.mu.Lock()
	previous := e.detect.lastLoggedCharCount
	newLen := len(content)
	e.buf.Content = content
	e.buf.Dirty = true
	e.buf.LastUpdatedAt = time.Now()
	e.detect.editCountSinceLog++

	significant := e.detect.significant(newLen)
	if significant {
		e.detect.lastLoggedCharCount = newLen
		e.detect.editCountSinceLog = 0
	}
	e.mu.Unlock()

	if significant && c.logger != nil {
		data := significantChangeData{
			Path:              path,
			PreviousCharCount: previous,
			NewCharCount:      newLen,
			Delta:             newLen - previous,
		}
		logJSON(ctx, c.logger, c.sessionID, "buffer_significant_change", data)
	}
}

// Get returns the current Buffer for path and whether it exists.
func (c *Cache) Get(path string) (Buffer, bool) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return Buffer{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf, true
}

// MarkSaved clears path's dirty flag, acknowledging a file:save.
func (c *Cache) MarkSaved(path string) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.buf.Dirty = false
	e.mu.Unlock()
}

// Clear removes path from the cache entirely.
func (c *Cache) Clear(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// ClearAll removes every buffer, run on session end per §3.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// DirtyPaths returns a consistent snapshot of paths with Dirty == true.
func (c *Cache) DirtyPaths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for path, e := range c.entries {
		e.mu.Lock()
		dirty := e.buf.Dirty
		e.mu.Unlock()
		if dirty {
			out = append(out, path)
		}
	}
	return out
}

func logJSON(ctx context.Context, logger ActionLogger, sessionID uint64, actionType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = logger.LogAction(ctx, sessionID, actionType, data)
}

func (c *Cache) entryFor(path string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		e = &entry{buf: Buffer{Path: path}}
		c.entries[path] = e
	}
	return e
}

// Run starts the periodic summary ticker, walking DirtyPaths every
// tickerPeriod and emitting one buffer_summary action per path, then
// resetting that path's detector state, per §4.2. Run blocks until ctx is
// canceled or Stop is called, matching the teacher's reminder package's
// activity-driven-but-cancelable timer shape, applied to a recurring tick.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tickerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.emitSummaries(ctx)
		}
	}
}

// Stop halts a running Run loop early.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) emitSummaries(ctx context.Context) {
	for _, path := range c.DirtyPaths() {
		c.mu.RLock()
		e, ok := c.entries[path]
		c.mu.RUnlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		editCount := e.detect.editCountSinceLog
		charCount := len(e.buf.Content)
		charDelta := charCount - e.detect.lastLoggedCharCount
		e.detect.editCountSinceLog = 0
		e.detect.lastLoggedCharCount = charCount
		e.mu.Unlock()

		data := summaryData{
			Path:      path,
			EditCount: editCount,
			CharDelta: int(math.Abs(float64(charDelta))),
			CharCount: charCount,
		}
		if c.logger != nil {
			logJSON(ctx, c.logger, c.sessionID, "buffer_summary", data)
		}
	}
}
