package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	gorilla "github.com/gorilla/websocket"

	"github.com/chatmesh/chatsync.go/internal/codec"
	"github.com/chatmesh/chatsync.go/internal/rand"
	"github.com/chatmesh/chatsync.go/pkg/logger"
)

// DefaultDialer is the default gorilla dialer used by GorillaFeed.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"json", "cbor"},
}

const (
	closeMessageCode     = 1000
	subscriptionIDLength = 16
)

// GorillaFeed is a live feed over a gorilla/websocket connection.
type GorillaFeed struct {
	// BaseURL is the host's API root, e.g. wss://host.example.com/api.
	BaseURL string
	// Token authenticates the subscription.
	Token string
	// Drives lists the drives to subscribe to.
	Drives []uuid.UUID

	conn *gorilla.Conn
	// connLock guards conn, closed and connCloseError. The read loop runs on
	// a captured conn, so the lock is held only around state flips and
	// individual writes, never across the connect handshake or a blocking
	// read.
	connLock sync.Mutex

	events chan Event

	connCloseCh    chan int
	connCloseError error
	closed         bool

	unmarshaler codec.Unmarshaler
	logger      logger.Logger
}

var _ Feed = (*GorillaFeed)(nil)

func NewGorillaFeed(baseURL, token string, drives []uuid.UUID, log logger.Logger) *GorillaFeed {
	return &GorillaFeed{
		BaseURL:     baseURL,
		Token:       token,
		Drives:      drives,
		events:      make(chan Event, eventBuffer),
		unmarshaler: codec.CBOR{},
		logger:      log,
	}
}

// Connect dials the host, registers the drive subscription and starts the
// read loop.
func (f *GorillaFeed) Connect(ctx context.Context) error {
	header := make(map[string][]string)
	if f.Token != "" {
		header["Authorization"] = []string{"Bearer " + f.Token}
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/live", f.BaseURL), header)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	sub := struct {
		SubscriptionID string      `json:"subscriptionId"`
		Drives         []uuid.UUID `json:"drives"`
	}{
		SubscriptionID: rand.NewSubscriptionID(subscriptionIDLength),
		Drives:         f.Drives,
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return fmt.Errorf("subscription handshake failed: %w", err)
	}

	f.connLock.Lock()
	f.conn = conn
	f.connCloseCh = make(chan int)
	f.connLock.Unlock()

	go f.readLoop(conn)

	return nil
}

func (f *GorillaFeed) Events() <-chan Event {
	return f.events
}

// IsClosed reports whether the connection has been lost or closed. A wrapper
// uses this to decide whether to reconnect.
func (f *GorillaFeed) IsClosed() bool {
	f.connLock.Lock()
	defer f.connLock.Unlock()
	return f.closed
}

// CloseError returns the error that terminated the connection, nil after a
// clean shutdown.
func (f *GorillaFeed) CloseError() error {
	f.connLock.Lock()
	defer f.connLock.Unlock()
	return f.connCloseError
}

// Close sends a close message and tears down the connection. The context
// deadline, when present, bounds the close message write so Close cannot
// block on a dead peer.
func (f *GorillaFeed) Close(ctx context.Context) error {
	f.connLock.Lock()
	if f.closed {
		f.connLock.Unlock()
		return nil
	}
	conn := f.conn
	f.conn = nil
	f.markClosedLocked(nil)
	f.connLock.Unlock()

	if conn == nil {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			_ = conn.Close()
			return fmt.Errorf("BUG: failed to set write deadline: %w", err)
		}
	}

	if err := conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(closeMessageCode, "")); err != nil {
		// Best effort: still close locally so resources are reclaimed even
		// when the peer never sees a clean close.
		f.logger.Error("failed to write close message", "error", err)
	}

	return conn.Close()
}

func (f *GorillaFeed) closeWithError(err error) {
	f.connLock.Lock()
	defer f.connLock.Unlock()
	f.markClosedLocked(err)
}

// markClosedLocked flips the feed to closed exactly once: events and
// connCloseCh are closed here and nowhere else. Callers hold connLock.
func (f *GorillaFeed) markClosedLocked(err error) {
	if f.closed {
		return
	}
	f.closed = true
	f.connCloseError = err

	if f.connCloseCh != nil {
		close(f.connCloseCh)
	}
	close(f.events)
}

func (f *GorillaFeed) readLoop(conn *gorilla.Conn) {
	for {
		select {
		case <-f.connCloseCh:
			return
		default:
			frameType, data, err := conn.ReadMessage()
			if err != nil {
				if f.handleError(err) {
					f.closeWithError(err)
					return
				}
				continue
			}
			f.handleFrame(frameType, data)
		}
	}
}

// handleError returns true when the error means the connection is gone and
// the read loop should exit.
func (f *GorillaFeed) handleError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	if gorilla.IsUnexpectedCloseError(err) {
		return true
	}
	if gorilla.IsCloseError(err, closeMessageCode) {
		return true
	}

	f.logger.Error(err.Error())
	return false
}

func (f *GorillaFeed) handleFrame(frameType int, data []byte) {
	var (
		event Event
		err   error
	)

	switch frameType {
	case gorilla.TextMessage:
		event, err = DecodeJSONEvent(data)
	case gorilla.BinaryMessage:
		event, err = DecodeCBOREvent(data, f.unmarshaler)
	default:
		return
	}

	if err != nil {
		f.logger.Warn("discarding undecodable frame", "error", err)
		return
	}

	// The closed check and the send share the lock so Close cannot close
	// events between them. The send never blocks, so holding the lock is
	// cheap.
	f.connLock.Lock()
	defer f.connLock.Unlock()
	if f.closed {
		return
	}

	select {
	case f.events <- event:
	default:
		// Consumer is not keeping up. The backlog reconciler repairs
		// whatever a dropped frame would have delivered.
		f.logger.Warn("event buffer full, dropping frame", "type", event.Type.String())
	}
}

// SetReadDeadline bounds the next read; used by tests and keepalive probes.
func (f *GorillaFeed) SetReadDeadline(t time.Time) error {
	f.connLock.Lock()
	defer f.connLock.Unlock()

	if f.conn == nil {
		return net.ErrClosed
	}
	return f.conn.SetReadDeadline(t)
}
