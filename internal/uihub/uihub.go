// Package uihub is the UI Message Hub (§4.1 of the spec): a bidirectional,
// typed, JSON-framed message stream to one or more UI clients, fanning out
// broadcasts with per-client bounded egress queues and low-priority-frame
// eviction, and dispatching inbound messages to registered handlers.
//
// Transport is github.com/gorilla/websocket (pulled from igoryanba-ricochet
// and vanducng-goclaw, both of which use it for the same realtime
// bidirectional client-stream role). The wire connection is abstracted
// behind the narrow Conn interface, grounded on the teacher's
// WebSocketRWC-over-gorilla-websocket adapter shape, so handler dispatch
// and queue/eviction logic can be exercised without a live socket.
package uihub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Envelope is the wire shape of every message in both directions, per §6.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Conn is the narrow surface this package needs from a live connection,
// implemented by *websocket.Conn via WSConn below, and by a fake in tests.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// WSConn adapts *websocket.Conn to Conn.
type WSConn struct{ *websocket.Conn }

// lowPriority is the set of frame types eagerly dropped on queue overflow
// before any coaching/session frame, per §4.1.
var lowPriority = map[string]struct{}{
	"buffer:update":  {},
	"editor:cursor":  {},
	"editor:scroll":  {},
}

// ClientID is a fresh per-connection identifier, assigned even when the
// underlying session is unchanged across a reconnect, per §4.1.
type ClientID string

// Handler processes one inbound message from a client. Handlers may
// suspend (model calls, database writes); dispatch errors are logged, not
// propagated to the client, per §4.1/§7.
type Handler func(ctx context.Context, client ClientID, msg Envelope) error

// ErrorLogger receives dispatch errors that must not propagate to the
// client.
type ErrorLogger func(clientID ClientID, msgType string, err error)

// Hub is the process-wide UI Message Hub.
type Hub struct {
	serverID     string
	version      string
	queueDepth   int
	errorLogger  ErrorLogger

	mu       sync.RWMutex
	clients  map[ClientID]*client
	handlers map[string][]Handler
}

type client struct {
	id     ClientID
	conn   Conn
	queue  chan Envelope
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []Envelope // mirrors queue contents for priority-aware eviction
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueDepth overrides the default per-client egress queue capacity (256).
func WithQueueDepth(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueDepth = n
		}
	}
}

// WithErrorLogger registers a sink for handler dispatch errors.
func WithErrorLogger(fn ErrorLogger) Option {
	return func(h *Hub) { h.errorLogger = fn }
}

// New builds an empty Hub identifying itself as serverID/version in the
// connection:hello handshake frame.
func New(serverID, version string, opts ...Option) *Hub {
	h := &Hub{
		serverID:   serverID,
		version:    version,
		queueDepth: 256,
		clients:    make(map[ClientID]*client),
		handlers:   make(map[string][]Handler),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// On registers handler for inbound messages of the given type. Multiple
// handlers per type are invoked in registration order. Returns an
// unsubscribe function.
func (h *Hub) On(msgType string, handler Handler) (unsubscribe func()) {
	h.mu.Lock()
	h.handlers[msgType] = append(h.handlers[msgType], handler)
	idx := len(h.handlers[msgType]) - 1
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		hs := h.handlers[msgType]
		if idx < 0 || idx >= len(hs) {
			return
		}
		h.handlers[msgType] = append(hs[:idx], hs[idx+1:]...)
	}
}

// ConnectionHelloPayload is the connection:hello broadcast payload.
type ConnectionHelloPayload struct {
	ServerID     string   `json:"serverId"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// ConnectionInitPayload is the connection:init broadcast payload.
type ConnectionInitPayload struct {
	SessionID    *uint64  `json:"sessionId,omitempty"`
	Capabilities []string `json:"capabilities"`
	FeatureFlags []string `json:"featureFlags"`
}

// InitState supplies the session/capability state for the connection:init
// frame sent after a client completes the handshake.
type InitState struct {
	SessionID    *uint64
	Capabilities []string
	FeatureFlags []string
}

// Connect registers conn as a new client and runs its write-pump loop until
// ctx is canceled or the connection errors. The caller is expected to have
// already read the client's connection:ready frame (or to do so as the
// first ReadJSON after Connect returns) before Connect replies with
// connection:hello then connection:init, per §4.1's handshake sequence.
func (h *Hub) Connect(ctx context.Context, conn Conn, init InitState) (ClientID, func(), error) {
	id := ClientID(uuid.NewString())
	cctx, cancel := context.WithCancel(ctx)
	c := &client{
		id:     id,
		conn:   conn,
		queue:  make(chan Envelope, h.queueDepth),
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	go h.writePump(cctx, c)

	if err := h.sendTo(c, "connection:hello", ConnectionHelloPayload{
		ServerID:     h.serverID,
		Version:      h.version,
		Capabilities: []string{"coaching", "review", "planning"},
	}); err != nil {
		h.removeClient(id)
		return "", nil, fmt.Errorf("uihub: send connection:hello: %w", err)
	}
	if err := h.sendTo(c, "connection:init", ConnectionInitPayload{
		SessionID:    init.SessionID,
		Capabilities: init.Capabilities,
		FeatureFlags: init.FeatureFlags,
	}); err != nil {
		h.removeClient(id)
		return "", nil, fmt.Errorf("uihub: send connection:init: %w", err)
	}

	disconnect := func() { h.removeClient(id) }
	return id, disconnect, nil
}

func (h *Hub) removeClient(id ClientID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		c.cancel()
	}
}

// ReadLoop blocks reading frames from conn (already registered via Connect
// as clientID) and dispatching each to its registered handlers in receipt
// order (FIFO per connection, per §5), until conn errors or ctx is done.
func (h *Hub) ReadLoop(ctx context.Context, clientID ClientID, conn Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		h.dispatch(ctx, clientID, env)
	}
}

func (h *Hub) dispatch(ctx context.Context, clientID ClientID, env Envelope) {
	h.mu.RLock()
	handlers := append([]Handler(nil), h.handlers[env.Type]...)
	h.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, clientID, env); err != nil && h.errorLogger != nil {
			h.errorLogger(clientID, env.Type, err)
		}
	}
}

// Broadcast sends a typed message to every connected client. Ordering is
// FIFO per client; a slow client's bounded queue sheds low-priority frames
// on overflow rather than blocking delivery to other clients, per §4.1.
func (h *Hub) Broadcast(msgType string, payload any) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := Envelope{Type: msgType, Payload: data, Timestamp: time.Now().UnixMilli()}

	for _, c := range clients {
		h.enqueue(c, env)
	}
}

func (h *Hub) sendTo(c *client, msgType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{Type: msgType, Payload: data, Timestamp: time.Now().UnixMilli()}
	h.enqueue(c, env)
	return nil
}

// enqueue pushes env onto c's egress queue, evicting the oldest
// low-priority pending frame on overflow before any coaching/session
// frame, or the oldest frame outright if none is low-priority.
func (h *Hub) enqueue(c *client, env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case c.queue <- env:
		c.pending = append(c.pending, env)
		return
	default:
	}

	// Queue full: drain it, evict, and rebuild.
	drained := c.drainLocked()
	drained = append(drained, env)
	evictIdx := -1
	for i, e := range drained {
		if _, low := lowPriority[e.Type]; low {
			evictIdx = i
			break
		}
	}
	if evictIdx == -1 {
		evictIdx = 0
	}
	drained = append(drained[:evictIdx], drained[evictIdx+1:]...)

	c.pending = nil
	for _, e := range drained {
		select {
		case c.queue <- e:
			c.pending = append(c.pending, e)
		default:
			// Should not happen: we just drained to exactly cap-1 entries.
		}
	}
}

// drainLocked empties c.queue (caller holds c.mu) and returns its contents
// in order.
func (c *client) drainLocked() []Envelope {
	out := make([]Envelope, 0, len(c.pending))
	for {
		select {
		case e := <-c.queue:
			out = append(out, e)
		default:
			return out
		}
	}
}

func (h *Hub) writePump(ctx context.Context, c *client) {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.queue:
			if !ok {
				return
			}
			c.mu.Lock()
			if len(c.pending) > 0 {
				c.pending = c.pending[1:]
			}
			c.mu.Unlock()
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
