package schema

import "errors"

var (
	// ErrMissingToken indicates a connect attempt without an auth token.
	ErrMissingToken = errors.New("missing auth token")
	// ErrRetriesExhausted indicates the reconnect budget is spent.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	// ErrNotConnected indicates no live transport is available.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownEvent indicates an event name outside the known set.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrClosed indicates the client was torn down.
	ErrClosed = errors.New("client closed")
	// ErrInvalidUser indicates a user id outside [a-z0-9._-].
	ErrInvalidUser = errors.New("invalid user id")
	// ErrInvalidPayload indicates an event payload is not valid JSON.
	ErrInvalidPayload = errors.New("invalid event payload")
)
