// Package hooks provides extension points around the answer flow, tool
// execution, and ingestion job lifecycle.
//
// Hooks run synchronously in registration order. A hook returning an error
// aborts the operation that triggered it, so hooks double as guards
// (rate limits, audit requirements) as well as observers.
package hooks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/youssefsiam38/ragpg/storage"
)

// AnswerStartHook is called before a question enters the orchestration loop.
type AnswerStartHook func(ctx context.Context, tenantID, sessionID, query string) error

// AnswerCompleteHook is called after the orchestration loop produces an
// answer. err carries the failure when the loop did not complete.
type AnswerCompleteHook func(ctx context.Context, tenantID, sessionID, answer string, err error) error

// ToolCallHook is called before a retrieval tool executes.
type ToolCallHook func(ctx context.Context, toolName string, input json.RawMessage) error

// ToolResultHook is called after a retrieval tool executes.
// Parameters: ctx, toolName, input, output, error
type ToolResultHook func(ctx context.Context, toolName string, input json.RawMessage, output string, err error) error

// JobStateChangeHook is called when an ingestion job changes state
// (enqueued, completed, retry, failed).
type JobStateChangeHook func(ctx context.Context, job *storage.IngestionJob) error

// Registry holds all registered hooks
type Registry struct {
	mu             sync.RWMutex
	answerStart    []AnswerStartHook
	answerComplete []AnswerCompleteHook
	toolCall       []ToolCallHook
	toolResult     []ToolResultHook
	jobStateChange []JobStateChangeHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		answerStart:    []AnswerStartHook{},
		answerComplete: []AnswerCompleteHook{},
		toolCall:       []ToolCallHook{},
		toolResult:     []ToolResultHook{},
		jobStateChange: []JobStateChangeHook{},
	}
}

// OnAnswerStart registers a hook to be called before orchestration begins
func (r *Registry) OnAnswerStart(hook AnswerStartHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answerStart = append(r.answerStart, hook)
}

// OnAnswerComplete registers a hook to be called after an answer is produced
func (r *Registry) OnAnswerComplete(hook AnswerCompleteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answerComplete = append(r.answerComplete, hook)
}

// OnToolCall registers a hook to be called before a tool executes
func (r *Registry) OnToolCall(hook ToolCallHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCall = append(r.toolCall, hook)
}

// OnToolResult registers a hook to be called after a tool executes
func (r *Registry) OnToolResult(hook ToolResultHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolResult = append(r.toolResult, hook)
}

// OnJobStateChange registers a hook to be called on job state transitions
func (r *Registry) OnJobStateChange(hook JobStateChangeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobStateChange = append(r.jobStateChange, hook)
}

// TriggerAnswerStart calls all registered answer-start hooks
func (r *Registry) TriggerAnswerStart(ctx context.Context, tenantID, sessionID, query string) error {
	r.mu.RLock()
	hooks := make([]AnswerStartHook, len(r.answerStart))
	copy(hooks, r.answerStart)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, tenantID, sessionID, query); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAnswerComplete calls all registered answer-complete hooks
func (r *Registry) TriggerAnswerComplete(ctx context.Context, tenantID, sessionID, answer string, answerErr error) error {
	r.mu.RLock()
	hooks := make([]AnswerCompleteHook, len(r.answerComplete))
	copy(hooks, r.answerComplete)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, tenantID, sessionID, answer, answerErr); err != nil {
			return err
		}
	}
	return nil
}

// TriggerToolCall calls all registered tool-call hooks
func (r *Registry) TriggerToolCall(ctx context.Context, toolName string, input json.RawMessage) error {
	r.mu.RLock()
	hooks := make([]ToolCallHook, len(r.toolCall))
	copy(hooks, r.toolCall)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, toolName, input); err != nil {
			return err
		}
	}
	return nil
}

// TriggerToolResult calls all registered tool-result hooks
func (r *Registry) TriggerToolResult(ctx context.Context, toolName string, input json.RawMessage, output string, err error) error {
	r.mu.RLock()
	hooks := make([]ToolResultHook, len(r.toolResult))
	copy(hooks, r.toolResult)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if hookErr := hook(ctx, toolName, input, output, err); hookErr != nil {
			return hookErr
		}
	}
	return nil
}

// TriggerJobStateChange calls all registered job-state-change hooks
func (r *Registry) TriggerJobStateChange(ctx context.Context, job *storage.IngestionJob) error {
	r.mu.RLock()
	hooks := make([]JobStateChangeHook, len(r.jobStateChange))
	copy(hooks, r.jobStateChange)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
