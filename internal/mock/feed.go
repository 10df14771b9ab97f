package mock

import (
	"context"
	"sync"

	"github.com/chatmesh/chatsync.go/pkg/feed"
)

// Feed is a hand-driven live feed. Tests push events with Push and close the
// stream with Close.
type Feed struct {
	ConnectErr error

	once   sync.Once
	events chan feed.Event

	mu     sync.Mutex
	closed bool
}

var _ feed.Feed = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{events: make(chan feed.Event, 16)}
}

func (f *Feed) Connect(ctx context.Context) error {
	return f.ConnectErr
}

func (f *Feed) Events() <-chan feed.Event {
	return f.events
}

// Push delivers one event to the consumer.
func (f *Feed) Push(event feed.Event) {
	f.events <- event
}

func (f *Feed) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Feed) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.once.Do(func() { close(f.events) })
	}
	return nil
}
