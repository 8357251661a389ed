package model

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type fakeChatClient struct {
	lastRequest openai.ChatCompletionRequest
	response    openai.ChatCompletionResponse
	err         error
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastRequest = request
	return f.response, f.err
}

func TestOpenAICompleteTextResponse(t *testing.T) {
	fake := &fakeChatClient{
		response: openai.ChatCompletionResponse{
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "La póliza vence en marzo."},
					FinishReason: openai.FinishReasonStop,
				},
			},
			Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 18},
		},
	}
	client := NewOpenAIWithChatClient(fake)

	resp, err := client.Complete(context.Background(), Request{
		Model:  "gpt-4o",
		System: "Eres un asistente.",
		Messages: []Message{
			{Role: RoleUser, Text: "¿Cuándo vence la póliza?"},
		},
		MaxTokens: 512,
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if resp.Text != "La póliza vence en marzo." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.StopReason != StopEndTurn {
		t.Errorf("StopReason = %s, want %s", resp.StopReason, StopEndTurn)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 18 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	req := fake.lastRequest
	if req.Model != "gpt-4o" {
		t.Errorf("request model = %s", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("request has %d messages, want 2 (system + user)", len(req.Messages))
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first message role = %s, want system", req.Messages[0].Role)
	}
	if req.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d", req.MaxTokens)
	}
}

func TestOpenAICompleteToolCallRoundTrip(t *testing.T) {
	fake := &fakeChatClient{
		response: openai.ChatCompletionResponse{
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role: "assistant",
						ToolCalls: []openai.ToolCall{
							{
								ID:   "call_1",
								Type: openai.ToolTypeFunction,
								Function: openai.FunctionCall{
									Name:      "vector_search",
									Arguments: `{"query":"facturas"}`,
								},
							},
						},
					},
					FinishReason: openai.FinishReasonToolCalls,
				},
			},
		},
	}
	client := NewOpenAIWithChatClient(fake)

	resp, err := client.Complete(context.Background(), Request{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: RoleUser, Text: "Busca las facturas"},
		},
		Tools: []ToolDefinition{
			{
				Name:        "vector_search",
				Description: "Búsqueda semántica",
				InputSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"query": map[string]any{"type": "string"}},
					"required":   []string{"query"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if resp.StopReason != StopToolUse {
		t.Errorf("StopReason = %s, want %s", resp.StopReason, StopToolUse)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "vector_search" {
		t.Errorf("tool call = %+v", call)
	}
	var args map[string]any
	if err := json.Unmarshal(call.Input, &args); err != nil {
		t.Fatalf("tool input is not valid JSON: %v", err)
	}
	if args["query"] != "facturas" {
		t.Errorf("args = %v", args)
	}

	if len(fake.lastRequest.Tools) != 1 {
		t.Fatalf("request carried %d tools, want 1", len(fake.lastRequest.Tools))
	}
	fn := fake.lastRequest.Tools[0].Function
	if fn.Name != "vector_search" {
		t.Errorf("request tool name = %s", fn.Name)
	}
}

func TestOpenAIToolResultBecomesToolMessage(t *testing.T) {
	fake := &fakeChatClient{
		response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "Listo."},
					FinishReason: openai.FinishReasonStop,
				},
			},
		},
	}
	client := NewOpenAIWithChatClient(fake)

	_, err := client.Complete(context.Background(), Request{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: RoleUser, Text: "Busca"},
			{
				Role: RoleAssistant,
				ToolCalls: []ToolCall{
					{ID: "call_1", Name: "vector_search", Input: json.RawMessage(`{"query":"x"}`)},
				},
			},
			{
				Role: RoleUser,
				ToolResults: []ToolResult{
					{ToolCallID: "call_1", Content: `{"results":[]}`},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	msgs := fake.lastRequest.Messages
	if len(msgs) != 3 {
		t.Fatalf("request has %d messages, want 3", len(msgs))
	}
	if len(msgs[1].ToolCalls) != 1 {
		t.Errorf("assistant message lost its tool calls: %+v", msgs[1])
	}
	if msgs[2].Role != openai.ChatMessageRoleTool {
		t.Errorf("tool result role = %s, want tool", msgs[2].Role)
	}
	if msgs[2].ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %s, want call_1", msgs[2].ToolCallID)
	}
}

func TestOpenAICompleteNoChoices(t *testing.T) {
	fake := &fakeChatClient{response: openai.ChatCompletionResponse{}}
	client := NewOpenAIWithChatClient(fake)

	_, err := client.Complete(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Text: "hola"}},
	})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
