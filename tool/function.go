package tool

import (
	"fmt"
	"time"

	"github.com/scribeflow/scribeflow/logging"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. It has no internal mutable state after construction and is safe for
// concurrent use by multiple goroutines.
//
// Error semantics:
//
//	*Error (returned directly)  -> forwarded unchanged
//	other error                 -> *Error{Code: "EXECUTION_ERROR"}
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(tc *Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(tc *Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// Name returns the unique tool name used in function call declarations.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates required arguments against the schema and invokes the
// underlying function, wrapping failures as *Error for uniform downstream
// handling.
func (t *FunctionTool) Call(tc *Context, args map[string]any) (any, error) {
	logger := tc.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "call_id", tc.CallID)

	if err := t.validateArgs(args); err != nil {
		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())
		return nil, &Error{Tool: t.name, Message: err.Error(), Code: "INVALID_ARGUMENTS"}
	}

	result, err := t.fn(tc, args)
	if err != nil {
		if toolErr, ok := err.(*Error); ok {
			logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)
			return nil, toolErr
		}
		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())
		return nil, &Error{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// validateArgs checks that every field the schema marks required is present.
// The required list tolerates both []string and []any, matching the two ways
// schemas get constructed.
func (t *FunctionTool) validateArgs(args map[string]any) error {
	required, ok := t.parameters["required"]
	if !ok {
		return nil
	}
	var fields []string
	switch req := required.(type) {
	case []string:
		fields = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				fields = append(fields, s)
			}
		}
	}
	for _, field := range fields {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	return nil
}
