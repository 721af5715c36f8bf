// Package anthropic provides a model.Client backed by the Anthropic Claude
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/lexmesh/lexmesh/model"
)

const providerName = "anthropic"

// MessagesClient captures the subset of the Anthropic SDK used by the adapter.
// It is satisfied by *anthropic.MessageService so tests can pass a stub.
type MessagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// Options configures the Anthropic adapter. Request values take precedence
// over these defaults.
type Options struct {
	DefaultModel string
	Temperature  float64
	MaxTokens    int64
	APIKey       string
	BaseURL      string
	// MaxRetries is the SDK-level retry count; negative keeps the SDK default.
	MaxRetries int
}

// Client implements model.Client on top of Anthropic Messages.
type Client struct {
	msg  MessagesClient
	opts Options
}

func defaultOptions() Options {
	return Options{
		DefaultModel: "claude-sonnet-4-20250514",
		Temperature:  0.2,
		MaxTokens:    4096,
		MaxRetries:   -1,
	}
}

// New creates a Client using the official SDK client.
func New(optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	if opts.MaxRetries >= 0 {
		clientOpts = append(clientOpts, option.WithMaxRetries(opts.MaxRetries))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Client{msg: &client.Messages, opts: opts}
}

// NewFromMessages creates a Client from an existing Messages client.
func NewFromMessages(msg MessagesClient, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{msg: msg, opts: opts}
}

// Send implements model.Client.
func (c *Client) Send(ctx context.Context, req model.Request) (*model.Response, error) {
	start := time.Now()
	params := c.buildParams(req)

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, c.classify(string(params.Model), err)
	}

	resp := translate(msg)
	resp.Latency = time.Since(start)

	return resp, nil
}

// Stream implements model.Client. Text deltas are forwarded as they arrive;
// tool calls are emitted once their input is complete.
func (c *Client) Stream(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	start := time.Now()
	params := c.buildParams(req)

	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, c.classify(string(params.Model), err)
	}

	out := make(chan model.StreamEvent, 32)

	go func() {
		defer close(out)
		defer stream.Close()

		acc := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				out <- model.StreamEvent{Type: model.EventError, Err: c.classify(string(params.Model), err)}
				return
			}

			if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					out <- model.StreamEvent{Type: model.EventText, Text: delta.Text}
				}
			}
		}

		if err := stream.Err(); err != nil {
			out <- model.StreamEvent{Type: model.EventError, Err: c.classify(string(params.Model), err)}
			return
		}

		resp := translate(&acc)
		resp.Latency = time.Since(start)

		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			out <- model.StreamEvent{Type: model.EventToolCall, ToolCall: &call}
		}

		out <- model.StreamEvent{Type: model.EventFinal, Response: resp}
	}()

	return out, nil
}

func (c *Client) classify(modelID string, err error) error {
	status := 0

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}

	return model.Classify(providerName, modelID, status, err)
}

func (c *Client) buildParams(req model.Request) anthropic.MessageNewParams {
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.DefaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.opts.Temperature
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(modelID),
		Messages:    buildMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	return params
}

// buildMessages converts normalized messages into Anthropic turns. Tool
// results travel as tool_result blocks inside a user turn.
func buildMessages(msgs []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}

			for _, call := range m.ToolCalls {
				var input any
				if err := json.Unmarshal(model.RawJSON(call.Arguments), &input); err != nil {
					input = map[string]any{}
				}

				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}

			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case model.RoleTool:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolResults))
			for _, res := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(res.CallID, res.Content, res.IsError))
			}

			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		default:
			if m.Text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
			}
		}
	}

	return out
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if tool.Parameters != nil {
			if properties, ok := tool.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}

			inputSchema.Required = requiredFields(tool.Parameters["required"])
		}

		u := anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if u.OfTool != nil && tool.Description != "" {
			u.OfTool.Description = anthropic.String(tool.Description)
		}

		out[i] = u
	}

	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

func translate(msg *anthropic.Message) *model.Response {
	resp := &model.Response{
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: model.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: model.RawJSON(block.Input),
			})
		}
	}

	return resp
}
