package model

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMockExhausted is returned when a MockClient has no scripted step left.
var ErrMockExhausted = errors.New("model: mock script exhausted")

// MockStep is one scripted provider reply.
type MockStep struct {
	Response *Response
	Err      error
	// Delay is slept (honoring ctx) before replying.
	Delay time.Duration
}

// MockClient is a lightweight in-memory Client useful for tests & examples.
// Steps are consumed in order; every request is recorded.
type MockClient struct {
	mu       sync.Mutex
	steps    []MockStep
	requests []Request
}

// NewMockClient constructs a MockClient with the given script.
func NewMockClient(steps ...MockStep) *MockClient {
	return &MockClient{steps: steps}
}

// Script appends steps to the script.
func (m *MockClient) Script(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = append(m.steps, steps...)
}

// Requests returns a copy of every request received so far.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Text is a convenience step returning a final text answer.
func Text(text string, in, out int64) MockStep {
	return MockStep{Response: &Response{Text: text, Usage: Usage{InputTokens: in, OutputTokens: out}, StopReason: "end_turn"}}
}

// Calls is a convenience step returning tool calls.
func Calls(in, out int64, calls ...ToolCall) MockStep {
	return MockStep{Response: &Response{ToolCalls: calls, Usage: Usage{InputTokens: in, OutputTokens: out}, StopReason: "tool_use"}}
}

func (m *MockClient) next(req Request) (MockStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.steps) == 0 {
		return MockStep{}, ErrMockExhausted
	}

	step := m.steps[0]
	m.steps = m.steps[1:]

	return step, nil
}

// Send implements Client.
func (m *MockClient) Send(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	step, err := m.next(req)
	if err != nil {
		return nil, err
	}

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, Classify("mock", req.Model, 0, ctx.Err())
		}
	}

	if step.Err != nil {
		return nil, step.Err
	}

	var resp Response
	if step.Response != nil {
		resp = *step.Response
		resp.ToolCalls = append([]ToolCall(nil), step.Response.ToolCalls...)
	}

	resp.Model = req.Model
	resp.Latency = time.Since(start)

	return &resp, nil
}

// Stream implements Client by replaying the scripted response as one text
// delta, one event per tool call and a final event.
func (m *MockClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	resp, err := m.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, len(resp.ToolCalls)+2)
	if resp.Text != "" {
		out <- StreamEvent{Type: EventText, Text: resp.Text}
	}

	for i := range resp.ToolCalls {
		call := resp.ToolCalls[i]
		out <- StreamEvent{Type: EventToolCall, ToolCall: &call}
	}

	out <- StreamEvent{Type: EventFinal, Response: resp}
	close(out)

	return out, nil
}
