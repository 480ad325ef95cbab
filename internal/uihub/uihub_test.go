package uihub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn for tests, letting handshake/broadcast/
// dispatch be exercised without a live websocket.
type fakeConn struct {
	mu     sync.Mutex
	out    []Envelope
	closed bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if env, ok := v.(Envelope); ok {
		f.out = append(f.out, env)
	}
	return nil
}

func (f *fakeConn) ReadJSON(_ any) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frames() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.out...)
}

func TestConnect_HandshakeSequence(t *testing.T) {
	h := New("srv-1", "1.0.0")
	conn := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, disconnect, err := h.Connect(ctx, conn, InitState{Capabilities: []string{"coaching"}})
	require.NoError(t, err)
	defer disconnect()

	require.Eventually(t, func() bool { return len(conn.frames()) >= 2 }, time.Second, 5*time.Millisecond)
	frames := conn.frames()
	assert.Equal(t, "connection:hello", frames[0].Type)
	assert.Equal(t, "connection:init", frames[1].Type)
}

func TestBroadcast_FanOut(t *testing.T) {
	h := New("srv-1", "1.0.0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connA := &fakeConn{}
	connB := &fakeConn{}
	_, dA, err := h.Connect(ctx, connA, InitState{})
	require.NoError(t, err)
	defer dA()
	_, dB, err := h.Connect(ctx, connB, InitState{})
	require.NoError(t, err)
	defer dB()

	require.Eventually(t, func() bool {
		return len(connA.frames()) >= 2 && len(connB.frames()) >= 2
	}, time.Second, 5*time.Millisecond)

	h.Broadcast("coaching:message", map[string]string{"message": "hi"})

	require.Eventually(t, func() bool {
		return len(connA.frames()) >= 3 && len(connB.frames()) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestOn_MultipleHandlersInvokedInOrder(t *testing.T) {
	h := New("srv-1", "1.0.0")
	var order []int
	var mu sync.Mutex

	h.On("file:open", func(_ context.Context, _ ClientID, _ Envelope) error {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return nil
	})
	h.On("file:open", func(_ context.Context, _ ClientID, _ Envelope) error {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		return nil
	})

	h.dispatch(context.Background(), "client-1", Envelope{Type: "file:open"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
}

func TestOn_Unsubscribe(t *testing.T) {
	h := New("srv-1", "1.0.0")
	var called bool
	unsub := h.On("file:open", func(_ context.Context, _ ClientID, _ Envelope) error {
		called = true
		return nil
	})
	unsub()
	h.dispatch(context.Background(), "client-1", Envelope{Type: "file:open"})
	assert.False(t, called)
}

func TestDispatch_ErrorLoggedNotPropagated(t *testing.T) {
	var loggedErr error
	h := New("srv-1", "1.0.0", WithErrorLogger(func(_ ClientID, _ string, err error) {
		loggedErr = err
	}))
	h.On("file:open", func(_ context.Context, _ ClientID, _ Envelope) error {
		return assert.AnError
	})
	h.dispatch(context.Background(), "client-1", Envelope{Type: "file:open"})
	assert.ErrorIs(t, loggedErr, assert.AnError)
}

func TestEnqueue_OverflowEvictsLowPriorityFirst(t *testing.T) {
	h := New("srv-1", "1.0.0", WithQueueDepth(2))
	c := &client{id: "c1", conn: &fakeConn{}, queue: make(chan Envelope, 2)}

	h.enqueue(c, Envelope{Type: "editor:cursor"})
	h.enqueue(c, Envelope{Type: "coaching:message"})
	// Queue full; next enqueue should evict the low-priority cursor frame,
	// not the coaching message.
	h.enqueue(c, Envelope{Type: "observer:nudge"})

	var remaining []string
	for {
		select {
		case e := <-c.queue:
			remaining = append(remaining, e.Type)
			continue
		default:
		}
		break
	}
	assert.ElementsMatch(t, []string{"coaching:message", "observer:nudge"}, remaining)
}

func TestEnqueue_NoLowPriorityDropsOldest(t *testing.T) {
	h := New("srv-1", "1.0.0", WithQueueDepth(1))
	c := &client{id: "c1", conn: &fakeConn{}, queue: make(chan Envelope, 1)}

	h.enqueue(c, Envelope{Type: "coaching:message", ID: "first"})
	h.enqueue(c, Envelope{Type: "coaching:message", ID: "second"})

	select {
	case e := <-c.queue:
		assert.Equal(t, "second", e.ID)
	default:
		t.Fatal("expected one pending frame")
	}
}

func TestEnvelope_JSONRoundTrip(t *testing.T) {
	env := Envelope{Type: "session:start", Payload: json.RawMessage(`{"sessionId":1}`), Timestamp: 123}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, env.Type, out.Type)
	assert.JSONEq(t, string(env.Payload), string(out.Payload))
}
