package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the handoff layer.
type ErrorCode string

// Protocol error codes
const (
	ErrConfigValidation   ErrorCode = "CONFIG_VALIDATION"
	ErrProtocol           ErrorCode = "PROTOCOL"
	ErrCorrelationTimeout ErrorCode = "CORRELATION_TIMEOUT"
	ErrExecution          ErrorCode = "EXECUTION"
	ErrHook               ErrorCode = "HOOK"
	ErrCapacity           ErrorCode = "CAPACITY"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
)

// Sentinel errors usable with errors.Is.
var (
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrTimeoutWaiting       = errors.New("correlation timeout")
	ErrHandshakeNotAccepted = errors.New("Handshake not found or not accepted")
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	AgentID   string    `json:"agent_id,omitempty"`
	Cause     error     `json:"-"`

	// 哨兵 cause 只供 errors.Is 匹配，不拼进消息
	hideCause bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && !e.hideCause {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent records the agent the error refers to.
func (e *Error) WithAgent(agentID string) *Error {
	e.AgentID = agentID
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether any error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewCapacityError reports a rejected registration because a bound was reached.
func NewCapacityError(resource string, limit int) *Error {
	e := NewError(ErrCapacity, fmt.Sprintf("capacity exceeded: %s limit %d reached", resource, limit)).
		WithCause(ErrCapacityExceeded)
	e.hideCause = true
	return e
}

// NewTimeoutError reports a correlation wait that expired.
func NewTimeoutError(what string, after fmt.Stringer) *Error {
	return NewError(ErrCorrelationTimeout, fmt.Sprintf("%s timed out after %s", what, after)).
		WithCause(ErrTimeoutWaiting).
		WithRetryable(true)
}
