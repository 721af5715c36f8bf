package model

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lexmesh/lexmesh/core"
)

// Role is the conversational role of a provider message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries the results of the previous assistant turn's tool calls.
	RoleTool Role = "tool"
)

// ToolCall is a tool invocation intent returned by a provider.
type ToolCall = core.ToolCall

// ToolResult is the outcome of a ToolCall fed back to the provider.
type ToolResult = core.ToolResult

// Message is one normalized turn of the conversation.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the single request shape sent to every provider.
type Request struct {
	// Model is the model identifier. Behind a Router it has the form
	// "provider:model"; provider clients receive the bare model name.
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int64            `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
}

// Usage captures token usage of one provider call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// Response is the single response shape returned by every provider.
type Response struct {
	Text       string        `json:"text"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	Usage      Usage         `json:"usage"`
	Latency    time.Duration `json:"latency"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason,omitempty"`
}

// EventType discriminates stream events.
type EventType string

const (
	EventText     EventType = "text"
	EventToolCall EventType = "tool_call"
	EventFinal    EventType = "final"
	EventError    EventType = "error"
)

// StreamEvent is one incremental item of a streamed response. A stream ends
// with exactly one EventFinal or EventError and is then closed.
type StreamEvent struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Response *Response `json:"response,omitempty"`
	Err      error     `json:"-"`
}

// Client is the minimal interface the runtime needs from a provider.
type Client interface {
	Send(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// ErrStreamClosed is returned by Collect when a stream ends without a final event.
var ErrStreamClosed = errors.New("model: stream closed without final response")

// Collect drains a stream, invoking fn (if non-nil) for every event, and
// returns the final response.
func Collect(ch <-chan StreamEvent, fn func(StreamEvent)) (*Response, error) {
	for ev := range ch {
		if fn != nil {
			fn(ev)
		}

		switch ev.Type {
		case EventFinal:
			return ev.Response, nil
		case EventError:
			return nil, ev.Err
		}
	}

	return nil, ErrStreamClosed
}

// RawJSON normalizes provider tool input into a JSON document. Empty input
// becomes an empty object.
func RawJSON(v any) json.RawMessage {
	switch in := v.(type) {
	case nil:
		return json.RawMessage(`{}`)
	case json.RawMessage:
		if len(in) == 0 {
			return json.RawMessage(`{}`)
		}

		return in
	case []byte:
		if len(in) == 0 {
			return json.RawMessage(`{}`)
		}

		return json.RawMessage(in)
	case string:
		if in == "" {
			return json.RawMessage(`{}`)
		}

		return json.RawMessage(in)
	default:
		b, err := json.Marshal(in)
		if err != nil {
			return json.RawMessage(`{}`)
		}

		return b
	}
}
