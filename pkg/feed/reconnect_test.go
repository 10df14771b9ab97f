package feed

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatsync.go/pkg/logger"
)

type fakeFeed struct {
	events     chan Event
	connectErr error

	mu     sync.Mutex
	closed bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan Event, 8)}
}

func (f *fakeFeed) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeFeed) Events() <-chan Event              { return f.events }

func (f *fakeFeed) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeFeed) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// dropConnection simulates a lost socket: the feed reports closed and its
// per-connection channel ends, without going through Close.
func (f *fakeFeed) dropConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	close(f.events)
}

func testLogger() logger.Logger {
	return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitForEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestReconnectingFeedForwardsEvents(t *testing.T) {
	inner := newFakeFeed()
	rf := NewReconnectingFeed(func(ctx context.Context) (Feed, error) {
		return inner, nil
	}, 10*time.Millisecond, testLogger())

	require.NoError(t, rf.Connect(context.Background()))
	defer func() { _ = rf.Close(context.Background()) }()

	inner.events <- Event{Type: EventFileAdded}

	event := waitForEvent(t, rf.Events())
	assert.Equal(t, EventFileAdded, event.Type)
}

func TestReconnectingFeedSurvivesConnectionLoss(t *testing.T) {
	var (
		mu    sync.Mutex
		feeds []*fakeFeed
	)
	newFunc := func(ctx context.Context) (Feed, error) {
		mu.Lock()
		defer mu.Unlock()
		f := newFakeFeed()
		feeds = append(feeds, f)
		return f, nil
	}

	var reconnects int
	rf := NewReconnectingFeed(newFunc, 10*time.Millisecond, testLogger())
	rf.Retryer = NewFixedDelayRetryer(time.Millisecond, 0)
	rf.OnReconnect = func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()
		reconnects++
	}

	require.NoError(t, rf.Connect(context.Background()))
	defer func() { _ = rf.Close(context.Background()) }()

	events := rf.Events()

	mu.Lock()
	first := feeds[0]
	mu.Unlock()

	first.events <- Event{Type: EventFileAdded}
	assert.Equal(t, EventFileAdded, waitForEvent(t, events).Type)

	first.dropConnection()

	// The loop should notice the loss, dial a second feed and keep the
	// stable channel flowing.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(feeds) >= 2 && reconnects >= 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	second := feeds[1]
	mu.Unlock()

	second.events <- Event{Type: EventFileModified}
	assert.Equal(t, EventFileModified, waitForEvent(t, events).Type)
}

func TestReconnectingFeedInitialFailureIsReturned(t *testing.T) {
	dialErr := errors.New("bad token")
	inner := newFakeFeed()
	inner.connectErr = dialErr

	rf := NewReconnectingFeed(func(ctx context.Context) (Feed, error) {
		return inner, nil
	}, 10*time.Millisecond, testLogger())

	err := rf.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dialErr)

	// A failed initial connect leaves the feed reusable.
	inner.connectErr = nil
	require.NoError(t, rf.Connect(context.Background()))
	_ = rf.Close(context.Background())
}

func TestReconnectingFeedCloseEndsStream(t *testing.T) {
	inner := newFakeFeed()
	rf := NewReconnectingFeed(func(ctx context.Context) (Feed, error) {
		return inner, nil
	}, 10*time.Millisecond, testLogger())

	require.NoError(t, rf.Connect(context.Background()))
	require.NoError(t, rf.Close(context.Background()))

	select {
	case _, ok := <-rf.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stable channel not closed after Close")
	}

	assert.True(t, rf.IsClosed())
	assert.True(t, inner.IsClosed())

	err := rf.Close(context.Background())
	require.Error(t, err)
}

func TestStateTransitions(t *testing.T) {
	assert.NoError(t, StateDisconnected.validateTransitionTo(StateConnecting))
	assert.NoError(t, StateConnecting.validateTransitionTo(StateConnected))
	assert.NoError(t, StateConnected.validateTransitionTo(StateClosing))
	assert.NoError(t, StateClosing.validateTransitionTo(StateClosed))

	assert.Error(t, StateClosed.validateTransitionTo(StateConnecting))
	assert.Error(t, StateDisconnected.validateTransitionTo(StateConnected))
}
