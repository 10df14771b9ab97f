package feed

import (
	"context"
)

// Feed is a live notification stream.
//
// Events() yields decoded events until the underlying connection is lost or
// closed, at which point the channel is closed. IsClosed reports loss of the
// connection so a wrapper can decide to reconnect.
type Feed interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	IsClosed() bool
	Close(ctx context.Context) error
}

// eventBuffer bounds how far the consumer may lag behind the socket before
// frames are dropped with a warning.
const eventBuffer = 100
