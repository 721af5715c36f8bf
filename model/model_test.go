package model

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{401, ErrorKindAuth},
		{403, ErrorKindAuth},
		{429, ErrorKindRateLimited},
		{529, ErrorKindOverloaded},
		{503, ErrorKindOverloaded},
		{504, ErrorKindTimeout},
		{408, ErrorKindTimeout},
		{502, ErrorKindUnreachable},
		{400, ErrorKindInvalidRequest},
		{500, ErrorKindInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindForStatus(tt.status), "status %d", tt.status)
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify("p", "m", 0, nil))

	pe := Classify("anthropic", "claude", 0, context.DeadlineExceeded)
	assert.Equal(t, ErrorKindTimeout, pe.Kind)
	assert.ErrorIs(t, pe, context.DeadlineExceeded)

	pe = Classify("openai", "gpt", 0, &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}})
	assert.Equal(t, ErrorKindUnreachable, pe.Kind)

	pe = Classify("openai", "gpt", 429, errors.New("slow down"))
	assert.Equal(t, ErrorKindRateLimited, pe.Kind)
	assert.True(t, pe.Fallbackable())

	pe = Classify("openai", "gpt", 0, errors.New("weird"))
	assert.Equal(t, ErrorKindInternal, pe.Kind)
	assert.False(t, pe.Fallbackable())

	wrapped := Classify("x", "y", 500, pe)
	assert.Same(t, pe, wrapped)
}

func TestRawJSON(t *testing.T) {
	assert.JSONEq(t, `{}`, string(RawJSON(nil)))
	assert.JSONEq(t, `{}`, string(RawJSON(json.RawMessage(nil))))
	assert.JSONEq(t, `{"a":1}`, string(RawJSON(json.RawMessage(`{"a":1}`))))
	assert.JSONEq(t, `{"a":1}`, string(RawJSON(map[string]int{"a": 1})))
	assert.JSONEq(t, `{"b":true}`, string(RawJSON(`{"b":true}`)))
}

func TestUsage_Add(t *testing.T) {
	u := Usage{InputTokens: 1, OutputTokens: 2}.Add(Usage{InputTokens: 10, OutputTokens: 20})
	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 22}, u)
}

func TestMockClient_ScriptAndRecord(t *testing.T) {
	m := NewMockClient(
		Calls(5, 1, ToolCall{ID: "c1", Name: "lookup_matter", Arguments: json.RawMessage(`{}`)}),
		Text("done", 7, 3),
	)

	resp, err := m.Send(context.Background(), Request{Model: "m1"})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "m1", resp.Model)

	resp, err = m.Send(context.Background(), Request{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.EqualValues(t, 7, resp.Usage.InputTokens)

	_, err = m.Send(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMockExhausted)
	assert.Len(t, m.Requests(), 3)
}

func TestMockClient_DelayHonorsContext(t *testing.T) {
	m := NewMockClient(MockStep{Delay: time.Second, Response: &Response{Text: "late"}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Send(ctx, Request{Model: "m"})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindTimeout, pe.Kind)
}

func TestCollect(t *testing.T) {
	m := NewMockClient(MockStep{Response: &Response{
		Text:      "hello",
		ToolCalls: []ToolCall{{ID: "1", Name: "t"}},
	}})

	ch, err := m.Stream(context.Background(), Request{})
	require.NoError(t, err)

	var seen []EventType
	resp, err := Collect(ch, func(ev StreamEvent) { seen = append(seen, ev.Type) })
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, []EventType{EventText, EventToolCall, EventFinal}, seen)
}

func TestCollect_ClosedWithoutFinal(t *testing.T) {
	ch := make(chan StreamEvent)
	close(ch)

	_, err := Collect(ch, nil)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestRouter(t *testing.T) {
	a := NewMockClient(Text("from a", 1, 1))
	b := NewMockClient(Text("from b", 1, 1), Text("default", 1, 1))

	r := NewRouter("b")
	r.Register("a", a)
	r.Register("b", b)

	resp, err := r.Send(context.Background(), Request{Model: "a:small"})
	require.NoError(t, err)
	assert.Equal(t, "from a", resp.Text)
	assert.Equal(t, "a:small", resp.Model)
	assert.Equal(t, "small", a.Requests()[0].Model)

	resp, err = r.Send(context.Background(), Request{Model: "big"})
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Text)
	assert.Equal(t, "b:big", resp.Model)

	ch, err := r.Stream(context.Background(), Request{Model: "b:x"})
	require.NoError(t, err)
	resp, err = Collect(ch, nil)
	require.NoError(t, err)
	assert.Equal(t, "b:x", resp.Model)

	_, err = r.Send(context.Background(), Request{Model: "c:nope"})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindAuth, pe.Kind)
}

func TestSplitModel(t *testing.T) {
	p, n := SplitModel("anthropic:claude-haiku-4-5")
	assert.Equal(t, "anthropic", p)
	assert.Equal(t, "claude-haiku-4-5", n)

	p, n = SplitModel("gpt-4o")
	assert.Empty(t, p)
	assert.Equal(t, "gpt-4o", n)
}

func TestRateLimitedClient_DeadlineIsTimeout(t *testing.T) {
	m := NewMockClient(Text("a", 1, 1), Text("b", 1, 1))
	c := NewRateLimitedClient(m, "mock", 0.001, 1)

	_, err := c.Send(context.Background(), Request{Model: "m"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = c.Send(ctx, Request{Model: "m"})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindTimeout, pe.Kind)
}

func TestRateLimitedClient_Unlimited(t *testing.T) {
	m := NewMockClient(Text("a", 1, 1), Text("b", 1, 1))
	c := NewRateLimitedClient(m, "mock", 0, 0)

	for i := 0; i < 2; i++ {
		_, err := c.Send(context.Background(), Request{})
		require.NoError(t, err)
	}
}
