package core

import (
	"errors"
	"fmt"
)

// Error codes shared across the orchestration core. Codes are stable strings
// surfaced to API clients; see the taxonomy below.
//
//   - Contention (caller retries later, never retried automatically):
//     SESSION_BUSY, SESSION_HANDOFF_PROCESSING
//   - Validation (terminal for the attempt): NOT_LOCKED, WRONG_PHASE,
//     AGENT_NOT_FOUND, SAME_AGENT, SESSION_REQUIRED
//   - Timeout (runner-detected): TASK_TIMEOUT
//   - Lookup: NOT_FOUND
//   - Cancellation: LOOP_CANCELED
const (
	CodeSessionBusy              = "SESSION_BUSY"
	CodeSessionHandoffProcessing = "SESSION_HANDOFF_PROCESSING"
	CodeSessionRequired          = "SESSION_REQUIRED"
	CodeTaskTimeout              = "TASK_TIMEOUT"
	CodeNotFound                 = "NOT_FOUND"
	CodeNotLocked                = "NOT_LOCKED"
	CodeWrongPhase               = "WRONG_PHASE"
	CodeAgentNotFound            = "AGENT_NOT_FOUND"
	CodeSameAgent                = "SAME_AGENT"
	CodeLoopCanceled             = "LOOP_CANCELED"
)

// Error is a domain error carrying a stable machine-readable code alongside a
// human readable message. Two Errors compare equal under errors.Is when their
// codes match, so sentinel comparisons work across wrapping.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports code equality so errors.Is(err, &Error{Code: X}) matches any
// coded error with code X regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError constructs a coded error with a formatted message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound is the sentinel for missing records.
var ErrNotFound = &Error{Code: CodeNotFound, Message: "record not found"}

// ErrLoopCanceled is delivered to every waiter when an in-flight agent loop
// is canceled.
var ErrLoopCanceled = &Error{Code: CodeLoopCanceled, Message: "agent loop canceled"}

// ErrorCode extracts the stable code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
