// Package model abstracts chat-completion providers behind one Client
// interface so the answer pipeline can switch between a primary and a
// fallback model without caring which provider serves them. Anthropic is
// the production implementation; an OpenAI adapter is provided for
// deployments already standardized on that API.
package model

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one provider-neutral conversation message. A user message
// may carry tool results from a previous assistant turn; an assistant
// message may carry the tool calls it requested.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	// ID correlates the call with its result block.
	ID string

	// Name is the registered tool name.
	Name string

	// Input is the raw JSON arguments the model produced.
	Input json.RawMessage
}

// ToolResult carries a tool's output back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolDefinition describes a tool offered to the model. InputSchema is a
// JSON Schema object ({"type":"object","properties":...,"required":...});
// each provider adapter converts it to its native representation.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is a provider-neutral completion request.
type Request struct {
	// Model is the provider model identifier, e.g.
	// "claude-sonnet-4-5-20250929" or "gpt-4o".
	Model string

	// System is the system prompt, empty for none.
	System string

	Messages []Message
	Tools    []ToolDefinition

	// MaxTokens bounds the response; adapters apply their own default
	// when zero.
	MaxTokens int

	// Temperature is passed through when positive.
	Temperature float32
}

// StopReason says why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage carries token accounting for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a provider-neutral completion response.
type Response struct {
	// Text is the concatenated text content of the response.
	Text string

	// ToolCalls lists the tool invocations the model requested, in the
	// order they appeared.
	ToolCalls []ToolCall

	StopReason StopReason
	Usage      Usage

	// Model is the model that actually served the request.
	Model string
}

// Client completes conversations.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
