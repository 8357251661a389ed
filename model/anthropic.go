package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

const defaultMaxTokens = 4096

// Anthropic implements Client via the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
}

// NewAnthropic returns an Anthropic-backed model client. An empty apiKey
// lets the SDK fall back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(apiKey string) *Anthropic {
	var client anthropic.Client
	if apiKey != "" {
		client = anthropic.NewClient(option.WithAPIKey(apiKey))
	} else {
		client = anthropic.NewClient()
	}
	return &Anthropic{client: &client}
}

// NewAnthropicWithClient returns an Anthropic-backed model client using an
// existing SDK client, for callers that configure transport themselves.
func NewAnthropicWithClient(client *anthropic.Client) *Anthropic {
	return &Anthropic{client: client}
}

// Complete sends one Messages API request and translates the response.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	response, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	result := &Response{
		Model: string(response.Model),
		Usage: Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}

	switch response.StopReason {
	case anthropic.StopReasonToolUse:
		result.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		result.StopReason = StopMaxTokens
	default:
		result.StopReason = StopEndTurn
	}

	for _, block := range response.Content {
		switch block := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Text += block.Text
		case anthropic.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}

	return result, nil
}

// toAnthropicMessages converts neutral messages to Anthropic API format.
// Tool results lead their message because the API requires tool_result
// blocks before any text in a user turn.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls)+len(msg.ToolResults))

		for _, result := range msg.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(result.ToolCallID, result.Content, result.IsError))
		}
		if msg.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
		}
		for _, call := range msg.ToolCalls {
			var input any
			if len(call.Input) > 0 {
				_ = json.Unmarshal(call.Input, &input)
			}
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}

		if len(blocks) == 0 {
			continue
		}
		params = append(params, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: blocks,
		})
	}

	return params
}

// toAnthropicTools converts neutral tool definitions to Anthropic tool
// union parameters.
func toAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	unions := make([]anthropic.ToolUnionParam, 0, len(defs))

	for _, def := range defs {
		properties, _ := def.InputSchema["properties"].(map[string]any)
		if properties == nil {
			properties = map[string]any{}
		}
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: properties,
		}
		if required := stringSlice(def.InputSchema["required"]); len(required) > 0 {
			inputSchema.Required = required
		}

		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: inputSchema,
		}
		unions = append(unions, anthropic.ToolUnionParam{OfTool: &param})
	}

	return unions
}

// stringSlice normalizes a JSON schema "required" value, which arrives as
// []string from typed schemas or []any after a JSON round trip.
func stringSlice(v any) []string {
	switch v := v.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
