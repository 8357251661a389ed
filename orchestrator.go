package ragpg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/youssefsiam38/ragpg/hooks"
	"github.com/youssefsiam38/ragpg/model"
	"github.com/youssefsiam38/ragpg/storage"
	"github.com/youssefsiam38/ragpg/tool"
)

// DefaultSystemPrompt documents the intended tool usage for the model.
// Deployments with domain-specific corpora supply their own prompt through
// OrchestratorConfig.SystemPrompt.
const DefaultSystemPrompt = `You are a retrieval assistant answering questions over a multi-tenant document corpus. Ground every answer in tool results:

- vector_search finds document chunks by semantic similarity. Use it for most questions.
- graph_search finds entities and the relationships between them. Use it when the question is about how things are connected.
- hybrid_search runs both and fuses the rankings. Use it when content and relationships both matter.
- checkpoint_lookup returns human-review checkpoints for a pipeline stage. Use it only when asked about ingestion or review status.

When the corpus has no answer, say so instead of guessing. The users are Spanish speakers: always answer in Spanish.`

// Orchestrator drives one user turn end to end: consent check, session
// context, the model tool loop, and session persistence. It is stateless
// across calls; all conversation state lives in the SessionStore.
type Orchestrator struct {
	completions model.Client
	tenants     *TenantRegistry
	sessions    *SessionStore
	registry    *tool.Registry
	executor    *tool.Executor
	hooks       *hooks.Registry

	primaryModel      string
	fallbackModel     string
	systemPrompt      string
	maxTokens         int
	temperature       float32
	maxToolIterations int
	windowTurns       int
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// PrimaryModel is the completion model tried first. Required.
	PrimaryModel string

	// FallbackModel is switched to after the first primary failure and
	// kept for the remainder of the answer. Empty disables the fallback.
	FallbackModel string

	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string

	// MaxTokens bounds completion responses. Default: 4096.
	MaxTokens int

	// Temperature is passed through to the model when positive.
	Temperature float32

	// MaxToolIterations bounds tool-use rounds per answer. Default: 10.
	MaxToolIterations int

	// SessionWindowTurns is the context window size N; the model sees the
	// last 2N turns. Default: 5.
	SessionWindowTurns int
}

// NewOrchestrator creates an Orchestrator. hookRegistry may be nil when no
// hooks are used.
func NewOrchestrator(completions model.Client, tenants *TenantRegistry, sessions *SessionStore, registry *tool.Registry, hookRegistry *hooks.Registry, config *OrchestratorConfig) (*Orchestrator, error) {
	if completions == nil {
		return nil, fmt.Errorf("%w: completion client is required", ErrInvalidConfig)
	}
	if tenants == nil {
		return nil, fmt.Errorf("%w: tenant registry is required", ErrInvalidConfig)
	}
	if sessions == nil {
		return nil, fmt.Errorf("%w: session store is required", ErrInvalidConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: tool registry is required", ErrInvalidConfig)
	}
	if config == nil || config.PrimaryModel == "" {
		return nil, fmt.Errorf("%w: PrimaryModel is required", ErrInvalidConfig)
	}

	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxIterations := config.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}
	windowTurns := config.SessionWindowTurns
	if windowTurns <= 0 {
		windowTurns = DefaultSessionWindowTurns
	}
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry()
	}

	return &Orchestrator{
		completions:       completions,
		tenants:           tenants,
		sessions:          sessions,
		registry:          registry,
		executor:          tool.NewExecutor(registry),
		hooks:             hookRegistry,
		primaryModel:      config.PrimaryModel,
		fallbackModel:     config.FallbackModel,
		systemPrompt:      systemPrompt,
		maxTokens:         maxTokens,
		temperature:       config.Temperature,
		maxToolIterations: maxIterations,
		windowTurns:       windowTurns,
	}, nil
}

// Answer runs one user turn. A consent denial is an answer, not an error:
// the response carries the Spanish refusal, no session turns are written,
// and no tools run. A completion failure after the fallback attempt is
// also an answer: the response carries the Spanish unavailable message and
// the session records an error turn.
func (o *Orchestrator) Answer(ctx context.Context, req *AnswerRequest) (*AnswerResponse, error) {
	const op = "answer"

	if req == nil || req.Query == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("query is required"))
	}
	if req.TenantID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("tenant id is required"))
	}

	if err := o.hooks.TriggerAnswerStart(ctx, req.TenantID, req.SessionID, req.Query); err != nil {
		return nil, fmt.Errorf("answer start hook failed: %w", err)
	}

	if err := o.tenants.ValidateConsent(ctx, req.TenantID, OpRetrieve); err != nil {
		if KindOf(err) == KindDenied {
			resp := &AnswerResponse{
				Answer:    UserMessage(err),
				SessionID: req.SessionID,
				Model:     o.primaryModel,
			}
			if herr := o.hooks.TriggerAnswerComplete(ctx, req.TenantID, resp.SessionID, resp.Answer, nil); herr != nil {
				return nil, fmt.Errorf("answer complete hook failed: %w", herr)
			}
			return resp, nil
		}
		o.completeHookOnError(ctx, req.TenantID, req.SessionID, err)
		return nil, err
	}

	session, err := o.sessions.GetOrCreate(ctx, req.SessionID, req.TenantID, req.Context)
	if err != nil {
		o.completeHookOnError(ctx, req.TenantID, req.SessionID, err)
		return nil, err
	}

	// The user turn is appended before the model runs and stays in the
	// session even when the answer later fails: questions are a user
	// action.
	if err := o.sessions.AppendTurn(ctx, session, RoleUser, req.Query, nil); err != nil {
		o.completeHookOnError(ctx, req.TenantID, session.ID, err)
		return nil, err
	}

	resp, err := o.runToolLoop(ctx, req, session)
	if err != nil {
		// A degraded answer still reaches the caller; only the hook sees
		// the completion failure behind it.
		if resp != nil {
			if herr := o.hooks.TriggerAnswerComplete(ctx, req.TenantID, session.ID, resp.Answer, err); herr != nil {
				return nil, fmt.Errorf("answer complete hook failed: %w", herr)
			}
			return resp, nil
		}
		o.completeHookOnError(ctx, req.TenantID, session.ID, err)
		return nil, err
	}

	if herr := o.hooks.TriggerAnswerComplete(ctx, req.TenantID, session.ID, resp.Answer, nil); herr != nil {
		return nil, fmt.Errorf("answer complete hook failed: %w", herr)
	}
	return resp, nil
}

// completeHookOnError fires the complete hook on a failure path. The
// original error is what the caller sees; a hook error here has nowhere
// better to go.
func (o *Orchestrator) completeHookOnError(ctx context.Context, tenantID, sessionID string, err error) {
	_ = o.hooks.TriggerAnswerComplete(ctx, tenantID, sessionID, "", err)
}

// runToolLoop drives the completion model until it stops requesting tools
// or the iteration budget runs out.
func (o *Orchestrator) runToolLoop(ctx context.Context, req *AnswerRequest, session *storage.Session) (*AnswerResponse, error) {
	window := o.sessions.ContextWindow(session, o.windowTurns)
	messages := turnsToMessages(window)
	tools := o.registry.ToModelTools()

	// The request's context filter wins; an existing session's stored
	// filter applies when the request leaves it empty.
	docContext := req.Context
	if docContext == "" {
		docContext = session.Context
	}
	callCtx := tool.WithCallContext(ctx, tool.CallContext{
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Variables: map[string]any{callVarContext: docContext},
	})

	currentModel := o.primaryModel
	usedFallback := false
	var summaries []ToolCallSummary

	iteration := 0
	for iteration < o.maxToolIterations {
		iteration++

		resp, err := o.completions.Complete(ctx, model.Request{
			Model:       currentModel,
			System:      o.systemPrompt,
			Messages:    messages,
			Tools:       tools,
			MaxTokens:   o.maxTokens,
			Temperature: o.temperature,
		})
		if err != nil && !usedFallback && o.fallbackModel != "" {
			// One switch per answer: the fallback serves every remaining
			// iteration, not just this retry.
			usedFallback = true
			currentModel = o.fallbackModel
			resp, err = o.completions.Complete(ctx, model.Request{
				Model:       currentModel,
				System:      o.systemPrompt,
				Messages:    messages,
				Tools:       tools,
				MaxTokens:   o.maxTokens,
				Temperature: o.temperature,
			})
		}
		if err != nil {
			return o.completionFailed(ctx, session, currentModel, usedFallback, summaries, err)
		}

		if len(resp.ToolCalls) > 0 {
			results, err := o.executeToolCalls(callCtx, resp.ToolCalls, &summaries)
			if err != nil {
				return nil, err
			}
			messages = append(messages, model.Message{
				Role:      model.RoleAssistant,
				Text:      resp.Text,
				ToolCalls: resp.ToolCalls,
			})
			messages = append(messages, model.Message{
				Role:        model.RoleUser,
				ToolResults: results,
			})
			continue
		}

		return o.finishAnswer(ctx, session, resp, currentModel, usedFallback, summaries)
	}

	return nil, fmt.Errorf("max tool iterations (%d) reached", o.maxToolIterations)
}

// executeToolCalls runs the model's tool calls in order through the
// executor, firing the call and result hooks around each. A failing tool
// becomes an error result for the model, never an aborted answer.
func (o *Orchestrator) executeToolCalls(callCtx context.Context, calls []model.ToolCall, summaries *[]ToolCallSummary) ([]model.ToolResult, error) {
	results := make([]model.ToolResult, 0, len(calls))
	for _, call := range calls {
		if err := o.hooks.TriggerToolCall(callCtx, call.Name, call.Input); err != nil {
			return nil, fmt.Errorf("tool call hook failed: %w", err)
		}

		execResult := o.executor.Execute(callCtx, tool.ToolCallRequest{
			ID:       call.ID,
			ToolName: call.Name,
			Input:    call.Input,
		})

		if err := o.hooks.TriggerToolResult(callCtx, call.Name, call.Input, execResult.Output, execResult.Error); err != nil {
			return nil, fmt.Errorf("tool result hook failed: %w", err)
		}

		*summaries = append(*summaries, toolCallSummary(call, execResult))
		results = append(results, toolResultFor(call, execResult))
	}
	return results, nil
}

// completionFailed records an error turn and builds the unavailable
// message as the answer. By this point the fallback has already been
// tried, or none is configured. The returned error wraps the cause for
// the complete hook; the caller still serves the response.
func (o *Orchestrator) completionFailed(ctx context.Context, session *storage.Session, modelID string, usedFallback bool, summaries []ToolCallSummary, cause error) (*AnswerResponse, error) {
	meta := map[string]any{
		"error": cause.Error(),
		"model": modelID,
	}
	if usedFallback {
		meta["fallback"] = true
	}
	if err := o.sessions.AppendTurn(ctx, session, RoleError, cause.Error(), meta); err != nil {
		return nil, err
	}

	resp := &AnswerResponse{
		Answer:    MsgServiceUnavailable,
		SessionID: session.ID,
		ToolCalls: summaries,
		Model:     modelID,
	}
	return resp, fmt.Errorf("%w: %v", ErrCompletionFailed, cause)
}

// finishAnswer appends the assistant turn with its tool-call metadata and
// assembles the response.
func (o *Orchestrator) finishAnswer(ctx context.Context, session *storage.Session, resp *model.Response, modelID string, usedFallback bool, summaries []ToolCallSummary) (*AnswerResponse, error) {
	servedBy := resp.Model
	if servedBy == "" {
		servedBy = modelID
	}

	meta := map[string]any{"model": servedBy}
	if usedFallback {
		meta["fallback"] = true
	}
	if len(summaries) > 0 {
		meta["tool_calls"] = summaries
	}
	if err := o.sessions.AppendTurn(ctx, session, RoleAssistant, resp.Text, meta); err != nil {
		return nil, err
	}

	return &AnswerResponse{
		Answer:    resp.Text,
		SessionID: session.ID,
		ToolCalls: summaries,
		Model:     servedBy,
	}, nil
}

// turnsToMessages converts session turns to model messages. Error turns
// are never replayed; system content lives in the request's System field,
// so stored system turns are skipped too.
func turnsToMessages(turns []storage.Turn) []model.Message {
	messages := make([]model.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, model.Message{Role: model.RoleUser, Text: turn.Content})
		case RoleAssistant:
			messages = append(messages, model.Message{Role: model.RoleAssistant, Text: turn.Content})
		}
	}
	return messages
}

// toolCallSummary converts one executed call to its response summary.
func toolCallSummary(call model.ToolCall, result *tool.ExecuteResult) ToolCallSummary {
	summary := ToolCallSummary{
		Name:       call.Name,
		DurationMs: result.Duration.Milliseconds(),
	}
	var input map[string]any
	if err := json.Unmarshal(call.Input, &input); err == nil {
		summary.Input = input
	}
	if result.Error != nil {
		summary.Error = result.Error.Error()
	}
	return summary
}

// toolResultFor converts one executed call to the result block handed back
// to the model.
func toolResultFor(call model.ToolCall, result *tool.ExecuteResult) model.ToolResult {
	if result.Error != nil {
		return model.ToolResult{
			ToolCallID: call.ID,
			Content:    result.Error.Error(),
			IsError:    true,
		}
	}
	return model.ToolResult{
		ToolCallID: call.ID,
		Content:    result.Output,
	}
}
