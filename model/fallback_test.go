package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func overloaded(model string) error {
	return &ProviderError{Provider: "anthropic", Model: model, Status: 529, Kind: ErrorKindOverloaded, Err: errors.New("overloaded")}
}

func newFallback(m *MockClient) *FallbackClient {
	return NewFallbackClient(m, func(o *FallbackOptions) {
		o.Fallbacks = map[string]string{"anthropic:big": "anthropic:small"}
	})
}

func TestFallbackClient_RetriesOnceOnOverload(t *testing.T) {
	m := NewMockClient(MockStep{Err: overloaded("big")}, Text("light answer", 3, 4))
	c := newFallback(m)

	resp, err := c.Send(context.Background(), Request{Model: "anthropic:big"})
	require.NoError(t, err)
	assert.Equal(t, "light answer", resp.Text)
	assert.EqualValues(t, 3, resp.Usage.InputTokens)
	assert.EqualValues(t, 4, resp.Usage.OutputTokens)
	assert.Positive(t, int64(resp.Latency))

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "anthropic:big", reqs[0].Model)
	assert.Equal(t, "anthropic:small", reqs[1].Model)
}

func TestFallbackClient_SurfacesSecondFailure(t *testing.T) {
	m := NewMockClient(MockStep{Err: overloaded("big")}, MockStep{Err: overloaded("small")})
	c := newFallback(m)

	_, err := c.Send(context.Background(), Request{Model: "anthropic:big"})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, "small", pe.Model)
	assert.Len(t, m.Requests(), 2)
}

func TestFallbackClient_NoFallbackConfigured(t *testing.T) {
	m := NewMockClient(MockStep{Err: overloaded("other")})
	c := newFallback(m)

	_, err := c.Send(context.Background(), Request{Model: "anthropic:other"})
	require.Error(t, err)
	assert.Len(t, m.Requests(), 1)
}

func TestFallbackClient_NonFallbackableError(t *testing.T) {
	authErr := &ProviderError{Provider: "anthropic", Kind: ErrorKindAuth, Err: errors.New("bad key")}
	m := NewMockClient(MockStep{Err: authErr})
	c := newFallback(m)

	_, err := c.Send(context.Background(), Request{Model: "anthropic:big"})
	assert.ErrorIs(t, err, authErr)
	assert.Len(t, m.Requests(), 1)
}

func TestFallbackClient_StreamOpenFailure(t *testing.T) {
	m := NewMockClient(MockStep{Err: overloaded("big")}, Text("streamed", 1, 2))
	c := newFallback(m)

	ch, err := c.Stream(context.Background(), Request{Model: "anthropic:big"})
	require.NoError(t, err)

	resp, err := Collect(ch, nil)
	require.NoError(t, err)
	assert.Equal(t, "streamed", resp.Text)
	assert.Equal(t, "anthropic:small", resp.Model)
}

// erroringStream fails with the first event instead of at open time.
type erroringStream struct {
	*MockClient
	fail error
}

func (e *erroringStream) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if e.fail != nil {
		_, _ = e.MockClient.next(req)
		ch := make(chan StreamEvent, 1)
		ch <- StreamEvent{Type: EventError, Err: e.fail}
		close(ch)
		e.fail = nil

		return ch, nil
	}

	return e.MockClient.Stream(ctx, req)
}

func TestFallbackClient_StreamFirstEventFailure(t *testing.T) {
	m := NewMockClient(MockStep{}, Text("recovered", 1, 1))
	c := newFallback(m)
	c.next = &erroringStream{MockClient: m, fail: overloaded("big")}

	ch, err := c.Stream(context.Background(), Request{Model: "anthropic:big"})
	require.NoError(t, err)

	resp, err := Collect(ch, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
}
