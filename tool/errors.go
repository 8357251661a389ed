package tool

import "errors"

// Sentinel errors for tool execution control flow. The answer pipeline
// distinguishes them to phrase the failure it reports back to the model.
var (
	// ErrNotFound means no tool with the requested name is registered.
	ErrNotFound = errors.New("tool not found")

	// ErrInvalidInput means the model's arguments failed schema validation.
	ErrInvalidInput = errors.New("invalid tool input")

	// ErrTimeout means the tool ran past the executor's deadline.
	ErrTimeout = errors.New("tool execution timeout")
)
