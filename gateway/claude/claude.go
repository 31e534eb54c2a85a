// Package claude implements the model gateway on the Anthropic Messages
// API. Tool use arrives as typed content blocks; partial tool input is
// streamed as JSON fragments and buffered until it parses.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/sweetpotato0/shopchat/gateway"
	"github.com/sweetpotato0/shopchat/message"
	"github.com/sweetpotato0/shopchat/tool"
)

// Adapter implements gateway.Gateway for Anthropic Claude models.
type Adapter struct {
	config *gateway.Config
	client anthropic.Client
}

// New creates a Claude adapter using the official SDK.
func New(config *gateway.Config) *Adapter {
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Adapter{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// StreamTurn streams one model response, translating Anthropic stream events
// into the canonical handler sequence. OnComplete fires exactly once, even
// when the provider stream fails part way through.
func (a *Adapter) StreamTurn(ctx context.Context, turns []*message.Turn, tools []*tool.Descriptor, h gateway.Handlers) error {
	params, err := a.buildParams(turns, tools)
	if err != nil {
		return err
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		responseText string
		toolCalls    []message.ToolCall
		buffers      = make(map[int64]*toolBuffer)
		callbackErr  error
	)

	for callbackErr == nil && stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				buffers[start.Index] = &toolBuffer{
					id:   start.ContentBlock.ID,
					name: start.ContentBlock.Name,
				}
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text != "" {
					responseText += delta.Delta.Text
					if h.OnTextDelta != nil {
						callbackErr = h.OnTextDelta(delta.Delta.Text)
					}
				}
			case "input_json_delta":
				if buf, ok := buffers[delta.Index]; ok {
					buf.partial += delta.Delta.PartialJSON
				}
			}
		case "content_block_stop":
			stop := event.AsContentBlockStop()
			buf, ok := buffers[stop.Index]
			if !ok {
				continue
			}
			delete(buffers, stop.Index)
			call, ok := buf.complete()
			if !ok {
				// Incomplete argument payload; discard rather than emit.
				continue
			}
			toolCalls = append(toolCalls, call)
			if h.OnToolCall != nil {
				callbackErr = h.OnToolCall(call)
			}
		}
	}

	streamErr := stream.Err()

	// Exactly one completion per call, synthesized from the accumulated
	// text when the provider never signaled one.
	turn := message.NewToolCallTurn(responseText, toolCalls)
	if h.OnComplete != nil {
		if err := h.OnComplete(turn); err != nil && callbackErr == nil {
			callbackErr = err
		}
	}

	if streamErr != nil {
		return fmt.Errorf("claude streaming error: %w", streamErr)
	}
	return callbackErr
}

// toolBuffer accumulates streamed tool input fragments for one content
// block until they form a parseable JSON document.
type toolBuffer struct {
	id      string
	name    string
	partial string
}

func (b *toolBuffer) complete() (message.ToolCall, bool) {
	args := make(map[string]any)
	if b.partial != "" {
		if err := json.Unmarshal([]byte(b.partial), &args); err != nil {
			return message.ToolCall{}, false
		}
	}
	if b.name == "" {
		return message.ToolCall{}, false
	}
	return message.ToolCall{ID: b.id, Name: b.name, Args: args}, true
}

func (a *Adapter) buildParams(turns []*message.Turn, tools []*tool.Descriptor) (anthropic.MessageNewParams, error) {
	normalized := gateway.Normalize(turns, a.config.HistoryTokenBudget)

	var systemPrompts []anthropic.TextBlockParam
	conversationMessages := make([]anthropic.MessageParam, 0, len(normalized))

	for _, t := range normalized {
		switch t.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, anthropic.TextBlockParam{Text: t.Text()})
		case message.RoleUser:
			conversationMessages = append(conversationMessages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text())))
		case message.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := t.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, call := range t.ToolCalls {
				input := call.Args
				if input == nil {
					input = make(map[string]any)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				conversationMessages = append(conversationMessages,
					anthropic.NewAssistantMessage(blocks...))
			}
		case message.RoleTool:
			// Anthropic expects tool results as user-role content blocks.
			block, ok := t.ToolResult()
			if !ok {
				continue
			}
			conversationMessages = append(conversationMessages,
				anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(block.ToolCallID, block.Text, block.IsError)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		Messages:  conversationMessages,
		MaxTokens: a.config.MaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = systemPrompts
	}
	if a.config.Temperature > 0 {
		params.Temperature = param.NewOpt(a.config.Temperature)
	}

	if len(tools) > 0 {
		claudeTools := make([]anthropic.ToolUnionParam, 0, len(tools))
		for _, desc := range tools {
			toolJSON, err := json.Marshal(map[string]any{
				"name":         desc.Name,
				"description":  desc.Description,
				"input_schema": desc.InputSchema,
			})
			if err != nil {
				return params, fmt.Errorf("failed to marshal tool: %w", err)
			}
			var toolParam anthropic.ToolParam
			if err := json.Unmarshal(toolJSON, &toolParam); err != nil {
				return params, fmt.Errorf("failed to unmarshal tool param: %w", err)
			}
			claudeTools = append(claudeTools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = claudeTools
	}

	return params, nil
}
