// Package openai provides a model.Client using the OpenAI Chat Completions
// API (including streaming + tool calling). It adapts the normalized
// Request/Response structures into the SDK's message format and back.
package openai

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lexmesh/lexmesh/model"
)

const providerName = "openai"

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// until the finish reason is emitted.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI adapter. Request values take precedence over
// these defaults.
type Options struct {
	DefaultModel        string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
	// MaxRetries is the SDK-level retry count; negative keeps the SDK default.
	MaxRetries int
}

// Client wraps the OpenAI Chat Completions API behind model.Client.
type Client struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		DefaultModel:        openai.ChatModelGPT4oMini,
		Temperature:         0.2,
		MaxCompletionTokens: 4096,
		MaxRetries:          -1,
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

	client := openai.NewClient(clientOpts...)

	return &Client{client: &client, opts: opts}
}

// NewFromClient creates a Client from an existing SDK client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{client: client, opts: opts}
}

// Send implements model.Client.
func (c *Client) Send(ctx context.Context, req model.Request) (*model.Response, error) {
	start := time.Now()
	params := c.buildParams(req)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, c.classify(params.Model, err)
	}

	if len(resp.Choices) == 0 {
		return nil, model.Classify(providerName, params.Model, 0, errors.New("no choices returned"))
	}

	ch0 := resp.Choices[0]

	out := &model.Response{
		Text:       ch0.Message.Content,
		Model:      resp.Model,
		StopReason: ch0.FinishReason,
		Latency:    time.Since(start),
		Usage: model.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	for _, tc := range ch0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: model.RawJSON(tc.Function.Arguments),
		})
	}

	return out, nil
}

// Stream implements model.Client. Usage is requested via stream options so
// token counts are reported on the streaming path too.
func (c *Client) Stream(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	start := time.Now()
	params := c.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, c.classify(params.Model, err)
	}

	out := make(chan model.StreamEvent, 32)

	go func() {
		defer close(out)
		defer stream.Close()

		var (
			text       strings.Builder
			toolAgg    = map[int64]*aggCall{}
			usage      model.Usage
			stopReason string
			modelName  string
		)

		for stream.Next() {
			ck := stream.Current()
			if ck.Model != "" {
				modelName = ck.Model
			}

			if ck.Usage.PromptTokens > 0 || ck.Usage.CompletionTokens > 0 {
				usage = model.Usage{InputTokens: ck.Usage.PromptTokens, OutputTokens: ck.Usage.CompletionTokens}
			}

			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					text.WriteString(ch.Delta.Content)
					out <- model.StreamEvent{Type: model.EventText, Text: ch.Delta.Content}
				}

				aggregateToolCalls(ch, toolAgg)

				if ch.FinishReason != "" {
					stopReason = ch.FinishReason
				}
			}
		}

		if err := stream.Err(); err != nil {
			out <- model.StreamEvent{Type: model.EventError, Err: c.classify(params.Model, err)}
			return
		}

		resp := &model.Response{
			Text:       text.String(),
			Usage:      usage,
			Model:      modelName,
			StopReason: stopReason,
			Latency:    time.Since(start),
		}

		for _, ac := range orderedCalls(toolAgg) {
			call := model.ToolCall{ID: ac.id, Name: ac.name, Arguments: model.RawJSON(ac.args)}
			resp.ToolCalls = append(resp.ToolCalls, call)
			out <- model.StreamEvent{Type: model.EventToolCall, ToolCall: &call}
		}

		out <- model.StreamEvent{Type: model.EventFinal, Response: resp}
	}()

	return out, nil
}

func aggregateToolCalls(ch openai.ChatCompletionChunkChoice, agg map[int64]*aggCall) {
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := agg[tc.Index]
		if !ok {
			ac = &aggCall{}
			agg[tc.Index] = ac
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

func orderedCalls(agg map[int64]*aggCall) []*aggCall {
	idx := make([]int64, 0, len(agg))
	for i := range agg {
		idx = append(idx, i)
	}

	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	out := make([]*aggCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, agg[i])
	}

	return out
}

func (c *Client) classify(modelID string, err error) error {
	status := 0

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}

	return model.Classify(providerName, modelID, status, err)
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (c *Client) buildParams(req model.Request) openai.ChatCompletionNewParams {
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.DefaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxCompletionTokens
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.opts.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               modelID,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}

	params.Tools = tools

	return params
}

// buildMessages converts normalized messages into chat messages. Each tool
// result becomes its own tool message directly after the assistant turn.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Text))
				continue
			}

			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: extractToolCalls(m.ToolCalls),
			}

			if m.Text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Text)}
			}

			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case model.RoleTool:
			for _, res := range m.ToolResults {
				messages = append(messages, openai.ToolMessage(res.Content, res.CallID))
			}
		default:
			if m.Text != "" {
				messages = append(messages, openai.UserMessage(m.Text))
			}
		}
	}

	return messages
}

func extractToolCalls(calls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, call := range calls {
		out = append(out, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(model.RawJSON(call.Arguments)),
			},
		})
	}

	return out
}
