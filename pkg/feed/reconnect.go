package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatmesh/chatsync.go/pkg/logger"
)

// State is the lifecycle state of a ReconnectingFeed.
type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateDisconnected:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected:
			return nil
		}
	case StateConnected:
		switch newState {
		// Connected to Connecting happens when the connection is lost after
		// it was established.
		case StateConnecting, StateClosing, StateDisconnected:
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}

// ReconnectingFeed wraps a Feed factory and keeps a live feed running across
// connection losses.
//
// The Events channel returned by a ReconnectingFeed is stable: it survives
// reconnections, unlike the per-connection channel of the underlying feed.
// Consumers subscribe once and never observe the churn.
type ReconnectingFeed struct {
	// NewFunc creates a fresh underlying feed for each connection attempt.
	// A fresh feed per attempt is required because a feed's event channel is
	// closed for good when its connection dies.
	NewFunc func(context.Context) (Feed, error)

	// CheckInterval is how often the loop probes the current feed for loss.
	// Defaults to 5 seconds when zero.
	CheckInterval time.Duration

	// Retryer paces reconnection attempts after a detected loss. Defaults to
	// exponential backoff when nil.
	Retryer Retryer

	// OnReconnect runs after every successful reconnection, before events from
	// the new connection start flowing. The backlog reconciler hooks in here
	// to repair whatever was missed while disconnected.
	OnReconnect func(ctx context.Context)

	current  Feed
	currentL sync.Mutex

	events chan Event

	connCloseCh       chan int
	reconnLoopCloseCh chan int

	// pumpWG tracks forwarding goroutines so Close can drain them before
	// closing the stable channel.
	pumpWG sync.WaitGroup

	once sync.Once

	state   State
	stateMu sync.Mutex

	logger logger.Logger
}

var _ Feed = (*ReconnectingFeed)(nil)

func NewReconnectingFeed(newFunc func(context.Context) (Feed, error), checkInterval time.Duration, log logger.Logger) *ReconnectingFeed {
	return &ReconnectingFeed{
		NewFunc:       newFunc,
		CheckInterval: checkInterval,
		Retryer:       NewExponentialBackoffRetryer(),
		state:         StateDisconnected,
		events:        make(chan Event, eventBuffer),
		logger:        log,
	}
}

func (rf *ReconnectingFeed) transitionTo(newState State) error {
	rf.stateMu.Lock()
	defer rf.stateMu.Unlock()

	if err := rf.state.validateTransitionTo(newState); err != nil {
		return err
	}

	rf.state = newState
	rf.logger.Debug("feed state transitioned", "new_state", newState)

	return nil
}

// IsClosed returns true once Close has been called. A closed ReconnectingFeed
// cannot be reused.
func (rf *ReconnectingFeed) IsClosed() bool {
	rf.stateMu.Lock()
	defer rf.stateMu.Unlock()

	return rf.state == StateClosed
}

// Connect establishes the initial connection and starts the reconnection
// loop.
//
// An initial connection failure is returned to the caller rather than retried:
// it is usually misconfiguration (wrong URL, bad token) that no amount of
// retrying fixes. Only losses after a successful connect are retried.
func (rf *ReconnectingFeed) Connect(ctx context.Context) error {
	if err := rf.transitionTo(StateConnecting); err != nil {
		return err
	}

	conn, err := rf.connectOnce(ctx)
	if err != nil {
		if stateErr := rf.transitionTo(StateDisconnected); stateErr != nil {
			rf.logger.Error("BUG: failed to transition to disconnected state", "error", stateErr)
		}
		return err
	}

	rf.currentL.Lock()
	rf.current = conn
	rf.currentL.Unlock()

	rf.once.Do(func() {
		rf.connCloseCh = make(chan int, 1)
		rf.reconnLoopCloseCh = make(chan int, 1)

		go rf.reconnectionLoop()
	})

	rf.pumpWG.Add(1)
	go rf.pump(conn)

	if err := rf.transitionTo(StateConnected); err != nil {
		panic(fmt.Sprintf("BUG: failed to transition to connected state: %v", err))
	}

	return nil
}

func (rf *ReconnectingFeed) connectOnce(ctx context.Context) (Feed, error) {
	conn, err := rf.NewFunc(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed: %w", err)
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect feed: %w", err)
	}

	return conn, nil
}

// Events returns the stable event channel. It is closed only when the
// ReconnectingFeed itself is closed.
func (rf *ReconnectingFeed) Events() <-chan Event {
	return rf.events
}

// pump forwards events from one underlying connection onto the stable
// channel. It exits when that connection's channel closes or the wrapper is
// shut down.
func (rf *ReconnectingFeed) pump(conn Feed) {
	defer rf.pumpWG.Done()

	for event := range conn.Events() {
		select {
		case rf.events <- event:
		case <-rf.connCloseCh:
			return
		}
	}
}

// Close stops the reconnection loop and closes the current connection.
//
// Once this returns the reconnection loop is guaranteed to have stopped.
// The underlying socket close is best effort; a peer that never acknowledges
// the close does not block shutdown.
func (rf *ReconnectingFeed) Close(ctx context.Context) error {
	if err := rf.transitionTo(StateClosing); err != nil {
		return fmt.Errorf("feed is already closing or closed: %w", err)
	}

	defer func() {
		if err := rf.transitionTo(StateClosed); err != nil {
			rf.logger.Error("BUG: failed to transition to closed state", "error", err)
		}
	}()

	// Stop the loop first so it cannot race a reconnect against the close.
	close(rf.connCloseCh)
	<-rf.reconnLoopCloseCh

	rf.currentL.Lock()
	conn := rf.current
	rf.current = nil
	rf.currentL.Unlock()

	var closeErr error
	if conn != nil && !conn.IsClosed() {
		closeErr = conn.Close(ctx)
	}

	// Closing the underlying connection ends its event channel, which lets
	// the pump drain; only then is the stable channel safe to close.
	rf.pumpWG.Wait()
	close(rf.events)

	return closeErr
}

func (rf *ReconnectingFeed) reconnectionLoop() {
	checkInterval := 5 * time.Second
	if rf.CheckInterval > 0 {
		checkInterval = rf.CheckInterval
	}

	retryer := rf.Retryer
	if retryer == nil {
		retryer = NewExponentialBackoffRetryer()
	}

	defer func() {
		close(rf.reconnLoopCloseCh)
	}()

	for {
		select {
		case <-rf.connCloseCh:
			return
		case <-time.After(checkInterval):
		}

		rf.currentL.Lock()
		conn := rf.current
		rf.currentL.Unlock()

		if conn == nil || !conn.IsClosed() {
			continue
		}

		rf.logger.Info("live feed lost, attempting to reconnect")

		if rf.reconnect(retryer) {
			retryer.Reset()
		}
	}
}

// reconnect runs the retry schedule until a connection succeeds, the retryer
// gives up, or the wrapper is closed. It reports whether a connection was
// established.
func (rf *ReconnectingFeed) reconnect(retryer Retryer) bool {
	var lastErr error

	for attempt := 0; ; attempt++ {
		conn, err := rf.connectOnce(context.Background())
		if err == nil {
			rf.currentL.Lock()
			rf.current = conn
			rf.currentL.Unlock()

			rf.pumpWG.Add(1)
			go rf.pump(conn)

			if rf.OnReconnect != nil {
				rf.OnReconnect(context.Background())
			}

			rf.logger.Info("live feed reconnected", "attempts", attempt+1)
			return true
		}

		lastErr = err
		rf.logger.Error("reconnection attempt failed", "attempt", attempt, "error", err)

		delay, retry := retryer.NextDelay(attempt, lastErr)
		if !retry {
			rf.logger.Error("giving up on reconnection", "attempts", attempt+1)
			return false
		}

		select {
		case <-rf.connCloseCh:
			return false
		case <-time.After(delay):
		}
	}
}
