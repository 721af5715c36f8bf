package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/"
		o.MaxRetries = 0
	})
}

func TestSend_TextAndToolCalls(t *testing.T) {
	var captured map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
			"choices": [{
				"index": 0, "finish_reason": "tool_calls",
				"message": {"role": "assistant", "content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "create_lead", "arguments": "{\"name\":\"Ada\"}"}}]}
			}],
			"usage": {"prompt_tokens": 21, "completion_tokens": 9, "total_tokens": 30}
		}`))
	})

	resp, err := c.Send(context.Background(), model.Request{
		Model:  "gpt-test",
		System: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Text: "new lead Ada"},
		},
		Tools: []model.ToolDefinition{{Name: "create_lead", Description: "Create a lead", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "create_lead", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"name":"Ada"}`, string(resp.ToolCalls[0].Arguments))
	assert.EqualValues(t, 21, resp.Usage.InputTokens)
	assert.EqualValues(t, 9, resp.Usage.OutputTokens)

	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestSend_ClassifiesRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	})

	_, err := c.Send(context.Background(), model.Request{Model: "gpt-test", Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}})
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrorKindRateLimited, pe.Kind)
	assert.Equal(t, "openai", pe.Provider)
}

func TestBuildMessages_ToolResultsFollowAssistant(t *testing.T) {
	msgs := buildMessages(model.Request{Messages: []model.Message{
		{Role: model.RoleUser, Text: "hi"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "a", Name: "t1", Arguments: json.RawMessage(`{}`)},
			{ID: "b", Name: "t2"},
		}},
		{Role: model.RoleTool, ToolResults: []model.ToolResult{{CallID: "a", Content: "1"}, {CallID: "b", Content: "2"}}},
	}})

	require.Len(t, msgs, 4)
	require.NotNil(t, msgs[1].OfAssistant)
	assert.Len(t, msgs[1].OfAssistant.ToolCalls, 2)
	assert.Equal(t, "{}", msgs[1].OfAssistant.ToolCalls[1].Function.Arguments)
	require.NotNil(t, msgs[2].OfTool)
	assert.Equal(t, "a", msgs[2].OfTool.ToolCallID)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "b", msgs[3].OfTool.ToolCallID)
}

func TestStream_AggregatesToolCallDeltas(t *testing.T) {
	chunks := []string{
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"Sure"}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"lookup_matter","arguments":"{\"matter"}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"_id\":\"M-7\"}"}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":6,"total_tokens":10}}`,
	}

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ck := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", ck)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := c.Stream(context.Background(), model.Request{Model: "gpt-test", Messages: []model.Message{{Role: model.RoleUser, Text: "M-7?"}}})
	require.NoError(t, err)

	var calls []model.ToolCall
	resp, err := model.Collect(ch, func(ev model.StreamEvent) {
		if ev.Type == model.EventToolCall {
			calls = append(calls, *ev.ToolCall)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "Sure", resp.Text)
	assert.Equal(t, "tool_calls", resp.StopReason)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_9", calls[0].ID)
	assert.JSONEq(t, `{"matter_id":"M-7"}`, string(calls[0].Arguments))
	assert.EqualValues(t, 4, resp.Usage.InputTokens)
	assert.EqualValues(t, 6, resp.Usage.OutputTokens)
}
