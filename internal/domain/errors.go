// Package domain contains domain errors used throughout the wire layer.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the failure taxonomy.
var (
	ErrWireTypeConflict = errors.New("wire type conflict")
	ErrNoHandler        = errors.New("no reply handler registered")
	ErrHandlerFailed    = errors.New("handler failed")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrBufferOverflow   = errors.New("pending buffer full")
	ErrDecode           = errors.New("malformed frame")
	ErrTransport        = errors.New("transport failure")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrPeerClosed       = errors.New("peer is closed")
)

// Error codes carried by error envelopes.
const (
	CodeNoHandler     = "NO_HANDLER"
	CodeHandlerError  = "HANDLER_ERROR"
	CodeTimeout       = "TIMEOUT"
	CodeTypeConflict  = "WIRE_TYPE_CONFLICT"
	CodeOverflow      = "BUFFER_OVERFLOW"
	CodeInternalError = "INTERNAL_ERROR"
)

// WireTypeConflictError is returned when a wire id is reused with a different kind.
type WireTypeConflictError struct {
	ID        string
	Existing  string
	Requested string
}

func (e *WireTypeConflictError) Error() string {
	return fmt.Sprintf("wire %q is a %s, not a %s", e.ID, e.Existing, e.Requested)
}

func (e *WireTypeConflictError) Is(target error) bool {
	return target == ErrWireTypeConflict
}

// NewWireTypeConflictError creates a new WireTypeConflictError.
func NewWireTypeConflictError(id, existing, requested string) *WireTypeConflictError {
	return &WireTypeConflictError{
		ID:        id,
		Existing:  existing,
		Requested: requested,
	}
}

// HandlerError wraps a failure raised by a reply, listener or watcher handler.
// Panic is set when the handler panicked instead of returning an error.
type HandlerError struct {
	Wire  string
	Err   error
	Panic any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler on wire %q panicked: %v", e.Wire, e.Panic)
	}
	return fmt.Sprintf("handler on wire %q: %v", e.Wire, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailed
}

// TimeoutError reports a Discrete request that got no answer in time.
type TimeoutError struct {
	Wire      string
	RequestID string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s on wire %q timed out after %s", e.RequestID, e.Wire, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrRequestTimeout
}

// DecodeError reports an inbound frame that could not be decoded.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// NewDecodeError creates a new DecodeError.
func NewDecodeError(codec string, err error) *DecodeError {
	return &DecodeError{Codec: codec, Err: err}
}

// TransportError represents a socket-level failure.
type TransportError struct {
	Transport string // Transport name
	Op        string // Operation that failed
	Err       error  // Underlying error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Transport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NewTransportError creates a new TransportError.
func NewTransportError(transport, op string, err error) *TransportError {
	return &TransportError{
		Transport: transport,
		Op:        op,
		Err:       err,
	}
}

// RemoteError is an error answered by the remote side of a Discrete request.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

// Is maps the remote code back onto the local sentinel.
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeNoHandler:
		return target == ErrNoHandler
	case CodeHandlerError:
		return target == ErrHandlerFailed
	case CodeTimeout:
		return target == ErrRequestTimeout
	case CodeTypeConflict:
		return target == ErrWireTypeConflict
	case CodeOverflow:
		return target == ErrBufferOverflow
	}
	return false
}

// ErrorCode returns the envelope code for err.
func ErrorCode(err error) string {
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Code
	case errors.Is(err, ErrNoHandler):
		return CodeNoHandler
	case errors.Is(err, ErrHandlerFailed):
		return CodeHandlerError
	case errors.Is(err, ErrRequestTimeout):
		return CodeTimeout
	case errors.Is(err, ErrWireTypeConflict):
		return CodeTypeConflict
	case errors.Is(err, ErrBufferOverflow):
		return CodeOverflow
	default:
		return CodeInternalError
	}
}
