// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities (retrieval, handoff creation) with validated
// arguments and consistent error handling.
package tool

import (
	"context"
	"fmt"

	"github.com/scribeflow/scribeflow/logging"
)

// Context carries the execution scope for one tool invocation: identifiers
// correlating the call with its conversation position, the ambient
// cancellation context and a logger.
type Context struct {
	Ctx       context.Context
	ProjectID string
	SessionID string
	ThreadID  string
	MessageID string
	CallID    string
	Logger    logging.Logger
}

// Tool defines the interface for extending agent capabilities with external
// functions.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description returns a human-readable description provided to the model
	// to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with parsed arguments. Implementations must
	// respect cancellation of tc.Ctx.
	Call(tc *Context, args map[string]any) (any, error)
}

// Error represents a failure during tool execution with a stable code for
// categorization.
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates a tool Error with the specified details.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}

// StringArg extracts a required non-empty string argument.
func StringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("field %q must be a non-empty string", key)
	}
	return s, nil
}

// OptionalStringArg extracts an optional string argument, returning "" when
// absent.
func OptionalStringArg(args map[string]any, key string) string {
	if raw, ok := args[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}
