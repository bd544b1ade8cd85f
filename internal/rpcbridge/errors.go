package rpcbridge

import "errors"

// Sentinel errors surfaced by Bridge operations.
var (
	// ErrRequestTimeout is returned when a request's timeout elapses
	// before a response arrives.
	ErrRequestTimeout = errors.New("rpcbridge: request timed out")

	// ErrConnectionClosed is returned to in-flight requests when the
	// transport drops mid-flight.
	ErrConnectionClosed = errors.New("rpcbridge: connection closed")

	// ErrDisconnected is returned to pending requests rejected by an
	// explicit Disconnect call.
	ErrDisconnected = errors.New("rpcbridge: disconnected")

	// ErrReconnectAttemptsExhausted is emitted (not returned) when the
	// reconnect loop gives up after the configured attempt cap.
	ErrReconnectAttemptsExhausted = errors.New("rpcbridge: reconnect attempts exhausted")
)
