package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Executor runs tool calls requested by the model, validating input
// against the tool's schema and bounding execution time.
type Executor struct {
	registry       *Registry
	validator      *Validator
	defaultTimeout time.Duration
}

// NewExecutor creates a new tool executor
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry:       registry,
		validator:      NewValidator(),
		defaultTimeout: 30 * time.Second,
	}
}

// SetDefaultTimeout sets the default execution timeout
func (e *Executor) SetDefaultTimeout(timeout time.Duration) {
	e.defaultTimeout = timeout
}

// ExecuteResult represents the result of a tool execution
type ExecuteResult struct {
	ID       string
	ToolName string
	Input    json.RawMessage
	Output   string
	Error    error
	Duration time.Duration
}

// Execute executes a single tool call. Validation failures and timeouts
// surface on the result's Error so the caller can report them back to the
// model without aborting the answer.
func (e *Executor) Execute(ctx context.Context, call ToolCallRequest) *ExecuteResult {
	start := time.Now()

	result := &ExecuteResult{
		ID:       call.ID,
		ToolName: call.ToolName,
		Input:    call.Input,
	}

	tool, exists := e.registry.Get(call.ToolName)
	if !exists {
		result.Error = fmt.Errorf("%w: %s", ErrNotFound, call.ToolName)
		result.Duration = time.Since(start)
		return result
	}

	if err := e.validator.ValidateInput(tool.InputSchema(), call.Input); err != nil {
		result.Error = fmt.Errorf("%w: %v", ErrInvalidInput, err)
		result.Duration = time.Since(start)
		return result
	}

	execCtx, cancel := context.WithTimeout(ctx, e.defaultTimeout)
	defer cancel()

	output, err := tool.Execute(execCtx, call.Input)
	result.Output = output
	result.Error = err
	result.Duration = time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		result.Error = fmt.Errorf("%w after %v", ErrTimeout, e.defaultTimeout)
	}

	return result
}

// ExecuteMultiple executes multiple tool calls in sequence
func (e *Executor) ExecuteMultiple(ctx context.Context, calls []ToolCallRequest) []*ExecuteResult {
	results := make([]*ExecuteResult, len(calls))

	for i, call := range calls {
		results[i] = e.Execute(ctx, call)
	}

	return results
}

// ExecuteParallel executes multiple tool calls in parallel. Results keep
// the order of calls.
func (e *Executor) ExecuteParallel(ctx context.Context, calls []ToolCallRequest) []*ExecuteResult {
	if len(calls) == 0 {
		return []*ExecuteResult{}
	}

	results := make([]*ExecuteResult, len(calls))
	var wg sync.WaitGroup

	wg.Add(len(calls))
	for i, call := range calls {
		go func(idx int, c ToolCallRequest) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, c)
		}(i, call)
	}

	wg.Wait()
	return results
}

// ToolCallRequest represents a request to execute a tool
type ToolCallRequest struct {
	ID       string          // Unique ID for this call
	ToolName string          // Name of the tool to execute
	Input    json.RawMessage // Input parameters
}

// ValidateInput validates tool input against its schema
func (e *Executor) ValidateInput(toolName string, input json.RawMessage) error {
	tool, exists := e.registry.Get(toolName)
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, toolName)
	}

	return e.validator.ValidateInput(tool.InputSchema(), input)
}
