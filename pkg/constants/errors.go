package constants

import "errors"

// Errors
var (
	ErrInvalidScope      = errors.New("thread id must differ from community id")
	ErrScopeNotFound     = errors.New("scope is not subscribed")
	ErrNoCursor          = errors.New("no further pages available")
	ErrNoMarshaler       = errors.New("marshaler is not set")
	ErrNoUnmarshaler     = errors.New("unmarshaler is not set")
	ErrNoTransport       = errors.New("transport is not set")
	ErrConflict          = errors.New("version tag mismatch")
	ErrClosed            = errors.New("cache is closed")
	ErrFeedClosed        = errors.New("feed connection is closed")
	ErrUnknownLocalID    = errors.New("no pending send with that local id")
	ErrReconcileInFlight = errors.New("reconciliation already running")
)
