package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/lxzan/gws"

	"github.com/chatmesh/chatsync.go/internal/codec"
	"github.com/chatmesh/chatsync.go/internal/rand"
	"github.com/chatmesh/chatsync.go/pkg/logger"
)

// GwsFeed is a live feed over a lxzan/gws connection. It is the
// event-callback flavored alternative to GorillaFeed for embedders that
// already run gws elsewhere and want a single WebSocket stack.
type GwsFeed struct {
	BaseURL string
	Token   string
	Drives  []uuid.UUID

	conn     *gws.Conn
	connLock sync.Mutex

	events chan Event

	connCloseCh    chan struct{}
	connCloseError error
	closed         bool

	handler     *gwsHandler
	unmarshaler codec.Unmarshaler
	logger      logger.Logger
}

var _ Feed = (*GwsFeed)(nil)

type gwsHandler struct {
	feed *GwsFeed
}

func (h *gwsHandler) OnOpen(socket *gws.Conn) {}

func (h *gwsHandler) OnClose(socket *gws.Conn, err error) {
	h.feed.closeWithError(err)
}

func (h *gwsHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	h.feed.handleFrame(message.Bytes())
}

func (h *gwsHandler) OnPing(socket *gws.Conn, payload []byte) {}

func (h *gwsHandler) OnPong(socket *gws.Conn, payload []byte) {}

func NewGwsFeed(baseURL, token string, drives []uuid.UUID, log logger.Logger) *GwsFeed {
	return &GwsFeed{
		BaseURL:     baseURL,
		Token:       token,
		Drives:      drives,
		events:      make(chan Event, eventBuffer),
		unmarshaler: codec.CBOR{},
		logger:      log,
	}
}

func (f *GwsFeed) Connect(ctx context.Context) error {
	f.handler = &gwsHandler{feed: f}

	header := http.Header{}
	if f.Token != "" {
		header.Set("Authorization", "Bearer "+f.Token)
	}

	option := &gws.ClientOption{
		Addr:          fmt.Sprintf("%s/live", f.BaseURL),
		RequestHeader: header,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	}

	conn, _, err := gws.NewClient(f.handler, option)
	if err != nil {
		return err
	}

	sub := struct {
		SubscriptionID string      `json:"subscriptionId"`
		Drives         []uuid.UUID `json:"drives"`
	}{
		SubscriptionID: rand.NewSubscriptionID(subscriptionIDLength),
		Drives:         f.Drives,
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(gws.OpcodeText, payload); err != nil {
		return fmt.Errorf("subscription handshake failed: %w", err)
	}

	f.connLock.Lock()
	f.conn = conn
	f.connCloseCh = make(chan struct{})
	f.connLock.Unlock()

	go conn.ReadLoop()

	return nil
}

func (f *GwsFeed) Events() <-chan Event {
	return f.events
}

func (f *GwsFeed) IsClosed() bool {
	f.connLock.Lock()
	defer f.connLock.Unlock()
	return f.closed
}

// CloseError returns the error that terminated the connection, nil after a
// clean shutdown.
func (f *GwsFeed) CloseError() error {
	f.connLock.Lock()
	defer f.connLock.Unlock()
	return f.connCloseError
}

func (f *GwsFeed) Close(ctx context.Context) error {
	f.connLock.Lock()
	if f.closed {
		f.connLock.Unlock()
		return nil
	}
	conn := f.conn
	f.conn = nil
	f.markClosedLocked(nil)
	f.connLock.Unlock()

	if conn != nil {
		conn.WriteClose(closeMessageCode, nil)
	}
	return nil
}

// closeWithError runs on the gws read goroutine via OnClose; Close races it
// from the consumer side. Both funnel into markClosedLocked under connLock.
func (f *GwsFeed) closeWithError(err error) {
	f.connLock.Lock()
	defer f.connLock.Unlock()
	f.markClosedLocked(err)
}

// markClosedLocked flips the feed to closed exactly once. Callers hold
// connLock.
func (f *GwsFeed) markClosedLocked(err error) {
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

func (f *GwsFeed) handleFrame(data []byte) {
	var (
		event Event
		err   error
	)

	// gws surfaces text and binary frames through the same callback;
	// sniff the first byte instead of tracking the opcode.
	if len(data) > 0 && data[0] == '{' {
		event, err = DecodeJSONEvent(data)
	} else {
		event, err = DecodeCBOREvent(data, f.unmarshaler)
	}

	if err != nil {
		f.logger.Warn("discarding undecodable frame", "error", err)
		return
	}

	// Checked and sent under the lock so Close cannot close events in
	// between; the send never blocks.
	f.connLock.Lock()
	defer f.connLock.Unlock()
	if f.closed {
		return
	}

	select {
	case f.events <- event:
	default:
		f.logger.Warn("event buffer full, dropping frame", "type", event.Type.String())
	}
}
