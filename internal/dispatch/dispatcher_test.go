package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

func sampleEvent(entityID string, status entity.Status) entity.StatusEvent {
	return entity.StatusEvent{
		EntityID:   entityID,
		GroupID:    "ws-1",
		Status:     status,
		Source:     entity.SourceFeed,
		ObservedAt: time.Unix(1700000000, 0).UTC(),
	}
}

// TestDispatchRoutesByEntity verifies per-entity callbacks only see their own
// entity's events while process-wide subscribers see everything.
func TestDispatchRoutesByEntity(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	defer func() {
		require.NoError(t, d.Close(context.Background()))
	}()

	var mu sync.Mutex
	var forA, forB, global []entity.StatusEvent
	d.Register("site-a", func(evt entity.StatusEvent) {
		mu.Lock()
		forA = append(forA, evt)
		mu.Unlock()
	})
	d.Register("site-b", func(evt entity.StatusEvent) {
		mu.Lock()
		forB = append(forB, evt)
		mu.Unlock()
	})
	d.SubscribeAll(func(evt entity.StatusEvent) {
		mu.Lock()
		global = append(global, evt)
		mu.Unlock()
	})

	d.Dispatch(sampleEvent("site-a", entity.StatusActive))
	d.Dispatch(sampleEvent("site-b", entity.StatusSucceeded))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, forA, 1)
	require.Equal(t, entity.StatusActive, forA[0].Status)
	require.Len(t, forB, 1)
	require.Equal(t, entity.StatusSucceeded, forB[0].Status)
	require.Len(t, global, 2)
}

// TestDispatchIsolatesCallbackPanics ensures one panicking callback does not
// prevent delivery to the remaining callbacks or subscribers.
func TestDispatchIsolatesCallbackPanics(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	defer func() {
		require.NoError(t, d.Close(context.Background()))
	}()

	d.Register("site-a", func(entity.StatusEvent) {
		panic("listener bug")
	})
	var mu sync.Mutex
	var got []entity.StatusEvent
	d.SubscribeAll(func(evt entity.StatusEvent) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	require.NotPanics(t, func() {
		d.Dispatch(sampleEvent("site-a", entity.StatusFailed))
	})
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
}

// TestUnregisterStopsDelivery verifies tokens detach callbacks and that
// unknown tokens are a no-op.
func TestUnregisterStopsDelivery(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	defer func() {
		require.NoError(t, d.Close(context.Background()))
	}()

	var mu sync.Mutex
	count := 0
	token := d.Register("site-a", func(entity.StatusEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	d.Dispatch(sampleEvent("site-a", entity.StatusActive))
	d.Unregister(token)
	d.Unregister(token) // second call is a no-op
	d.Unregister("not-a-token")
	d.Dispatch(sampleEvent("site-a", entity.StatusSucceeded))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}

// TestDispatchFeedsSinks checks events reach sinks in batches off the
// dispatching goroutine.
func TestDispatchFeedsSinks(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	d := New(Config{BufferSize: 16}, sink)

	d.Dispatch(sampleEvent("site-a", entity.StatusActive))
	d.Dispatch(sampleEvent("site-a", entity.StatusSucceeded))

	require.Eventually(t, func() bool {
		return sink.Total() == 2
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, d.Close(context.Background()))
	require.True(t, sink.Closed())
}

// TestDispatchDiscardsInvalidEvents ensures malformed events never reach
// callbacks or sinks.
func TestDispatchDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	d := New(Config{}, sink)
	defer func() {
		require.NoError(t, d.Close(context.Background()))
	}()

	called := false
	d.SubscribeAll(func(entity.StatusEvent) { called = true })

	d.Dispatch(entity.StatusEvent{EntityID: "", Status: entity.StatusActive})
	d.Dispatch(entity.StatusEvent{EntityID: "site-a", Status: "paused", ObservedAt: time.Now()})

	require.False(t, called)
	require.Equal(t, 0, sink.Total())
}

// TestCloseFlushesBufferedEvents ensures Close drains events still queued for
// the sinks.
func TestCloseFlushesBufferedEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	d := New(Config{BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Dispatch(sampleEvent("site-a", entity.StatusActive))
	}
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, 5, sink.Total())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]entity.StatusEvent
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []entity.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]entity.StatusEvent(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
