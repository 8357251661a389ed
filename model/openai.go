package model

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter, so tests can substitute a fake.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI implements Client via the OpenAI Chat Completions API.
type OpenAI struct {
	chat ChatClient
}

// NewOpenAI returns an OpenAI-backed model client.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{chat: openai.NewClient(apiKey)}
}

// NewOpenAIWithChatClient returns an OpenAI-backed model client using an
// existing chat client.
func NewOpenAIWithChatClient(chat ChatClient) *OpenAI {
	return &OpenAI{chat: chat}
}

// Complete sends one chat completion request and translates the response.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, toOpenAIMessages(msg)...)
	}

	request := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		tools, err := toOpenAITools(req.Tools)
		if err != nil {
			return nil, err
		}
		request.Tools = tools
	}

	response, err := o.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("openai completion returned no choices")
	}

	choice := response.Choices[0]
	result := &Response{
		Text:  choice.Message.Content,
		Model: response.Model,
		Usage: Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		},
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls:
		result.StopReason = StopToolUse
	case openai.FinishReasonLength:
		result.StopReason = StopMaxTokens
	default:
		result.StopReason = StopEndTurn
	}

	for _, call := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: json.RawMessage(call.Function.Arguments),
		})
	}

	return result, nil
}

// toOpenAIMessages converts one neutral message to OpenAI chat messages.
// Tool results become separate "tool" role messages, which is how the
// Chat Completions API carries them.
func toOpenAIMessages(msg Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, 1+len(msg.ToolResults))

	for _, result := range msg.ToolResults {
		out = append(out, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    result.Content,
			ToolCallID: result.ToolCallID,
		})
	}

	converted := openai.ChatCompletionMessage{
		Role:    string(msg.Role),
		Content: msg.Text,
	}
	for _, call := range msg.ToolCalls {
		converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: string(call.Input),
			},
		})
	}
	if converted.Content != "" || len(converted.ToolCalls) > 0 {
		out = append(out, converted)
	}

	return out
}

// toOpenAITools converts neutral tool definitions to OpenAI function tools.
func toOpenAITools(defs []ToolDefinition) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool %s schema: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}
