package nss

import (
	"errors"
	"fmt"
)

// Errors returned by the service.
var (
	// ErrInvalidEnvelope is returned when a request cannot be parsed.
	ErrInvalidEnvelope = errors.New("invalid envelope")
	// ErrSessionTimeout is returned when a session idles past its timeout.
	ErrSessionTimeout = errors.New("session timeout")
	// ErrServerStartFailed is returned when the server cannot bind its port.
	ErrServerStartFailed = errors.New("server start failed")
	// ErrClientTimeout is returned when a peer does not reply in time.
	ErrClientTimeout = errors.New("client timeout")
	// ErrPeerClosed is returned when the peer goes away before a full message arrives.
	ErrPeerClosed = errors.New("peer closed")
	// ErrMessageTooLarge is returned when a message exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrExecutorClosed is returned when code is submitted to a closed executor.
	ErrExecutorClosed = errors.New("executor closed")
	// ErrUnknownTransport is returned for transport modes other than stream and message.
	ErrUnknownTransport = errors.New("unknown transport")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// EnvelopeError describes why a request could not be parsed.
// It matches ErrInvalidEnvelope with errors.Is.
type EnvelopeError struct {
	Reason string
}

func (e *EnvelopeError) Error() string {
	return "invalid envelope: " + e.Reason
}

func (e *EnvelopeError) Is(target error) bool {
	return target == ErrInvalidEnvelope
}

// StartError is returned by Server.Start when the listener cannot be bound.
// It matches ErrServerStartFailed and the underlying bind error.
type StartError struct {
	Addr string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("server start failed on %s: %v", e.Addr, e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrServerStartFailed, e.Err}
}
