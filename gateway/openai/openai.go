// Package openai implements the model gateway on the OpenAI Chat
// Completions API. Tool call arguments arrive as string fragments keyed by
// choice index and are reassembled before parsing.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/sweetpotato0/shopchat/gateway"
	"github.com/sweetpotato0/shopchat/message"
	"github.com/sweetpotato0/shopchat/tool"
)

// Adapter implements gateway.Gateway for OpenAI chat models.
type Adapter struct {
	config *gateway.Config
	client openai.Client
}

// New creates an OpenAI adapter using the official SDK.
func New(config *gateway.Config) *Adapter {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Adapter{
		config: config,
		client: openai.NewClient(options...),
	}
}

// aggCall accumulates partial tool call deltas (id, name, argument
// fragments) until the stream ends.
type aggCall struct{ id, name, args string }

// StreamTurn streams one model response, translating chat completion chunks
// into the canonical handler sequence. OnComplete fires exactly once, even
// when the provider stream fails part way through.
func (a *Adapter) StreamTurn(ctx context.Context, turns []*message.Turn, tools []*tool.Descriptor, h gateway.Handlers) error {
	params, err := a.buildParams(turns, tools)
	if err != nil {
		return err
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		responseText string
		agg          = make(map[int64]*aggCall)
		order        []int64
		callbackErr  error
	)

	for callbackErr == nil && stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			responseText += choice.Delta.Content
			if h.OnTextDelta != nil {
				callbackErr = h.OnTextDelta(choice.Delta.Content)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			ac, ok := agg[tc.Index]
			if !ok {
				ac = &aggCall{}
				agg[tc.Index] = ac
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				ac.id = tc.ID
			}
			if tc.Function.Name != "" {
				ac.name = tc.Function.Name
			}
			ac.args += tc.Function.Arguments
		}
	}

	streamErr := stream.Err()

	var toolCalls []message.ToolCall
	for _, idx := range order {
		call, ok := agg[idx].complete()
		if !ok {
			// Truncated or malformed argument payload; drop the call.
			continue
		}
		toolCalls = append(toolCalls, call)
		if callbackErr == nil && h.OnToolCall != nil {
			callbackErr = h.OnToolCall(call)
		}
	}

	turn := message.NewToolCallTurn(responseText, toolCalls)
	if h.OnComplete != nil {
		if err := h.OnComplete(turn); err != nil && callbackErr == nil {
			callbackErr = err
		}
	}

	if streamErr != nil {
		return fmt.Errorf("openai streaming error: %w", streamErr)
	}
	return callbackErr
}

func (c *aggCall) complete() (message.ToolCall, bool) {
	if c.name == "" {
		return message.ToolCall{}, false
	}
	args := make(map[string]any)
	if c.args != "" {
		if err := json.Unmarshal([]byte(c.args), &args); err != nil {
			return message.ToolCall{}, false
		}
	}
	return message.ToolCall{ID: c.id, Name: c.name, Args: args}, true
}

func (a *Adapter) buildParams(turns []*message.Turn, tools []*tool.Descriptor) (openai.ChatCompletionNewParams, error) {
	normalized := gateway.Normalize(turns, a.config.HistoryTokenBudget)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(normalized))
	for _, t := range normalized {
		switch t.Role {
		case message.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Text()))
		case message.RoleUser:
			messages = append(messages, openai.UserMessage(t.Text()))
		case message.RoleAssistant:
			msg := openai.AssistantMessage(t.Text())
			if len(t.ToolCalls) > 0 {
				toolCalls, err := encodeToolCalls(t.ToolCalls)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to encode tool calls: %w", err)
				}
				if msg.OfAssistant != nil {
					msg.OfAssistant.ToolCalls = toolCalls
				}
			}
			messages = append(messages, msg)
		case message.RoleTool:
			block, ok := t.ToolResult()
			if !ok {
				continue
			}
			messages = append(messages, openai.ToolMessage(block.Text, block.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(a.config.Model),
	}
	if a.config.Temperature > 0 {
		params.Temperature = param.NewOpt(a.config.Temperature)
	}
	if a.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(a.config.MaxTokens)
	}

	if len(tools) > 0 {
		openAITools := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
		for _, desc := range tools {
			openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
				Name:        desc.Name,
				Description: openai.String(desc.Description),
				Parameters:  openai.FunctionParameters(desc.InputSchema),
			}))
		}
		params.Tools = openAITools
	}

	return params, nil
}

func encodeToolCalls(calls []message.ToolCall) ([]openai.ChatCompletionMessageToolCallUnionParam, error) {
	params := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Args
		if args == nil {
			args = make(map[string]any)
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		params = append(params, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(raw),
				},
			},
		})
	}
	return params, nil
}
