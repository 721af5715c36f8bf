package model

import (
	"context"
	"time"

	"github.com/lexmesh/lexmesh/logging"
)

// FallbackOptions configures a FallbackClient.
type FallbackOptions struct {
	// Fallbacks maps a model identifier to the lighter model tried once when
	// the first call is rate limited or overloaded.
	Fallbacks map[string]string
	Logger    logging.Logger
}

// FallbackClient retries a rate limited or overloaded call once against a
// configured fallback model. Latency always covers both attempts.
type FallbackClient struct {
	next Client
	opts FallbackOptions
}

// NewFallbackClient wraps next with fallback behavior.
func NewFallbackClient(next Client, optFns ...func(o *FallbackOptions)) *FallbackClient {
	opts := FallbackOptions{
		Fallbacks: map[string]string{},
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &FallbackClient{next: next, opts: opts}
}

// fallbackFor returns the fallback model for a failed call, if any.
func (c *FallbackClient) fallbackFor(model string, err error) (string, bool) {
	pe, ok := AsProviderError(err)
	if !ok || !pe.Fallbackable() {
		return "", false
	}

	fb, ok := c.opts.Fallbacks[model]
	if !ok || fb == "" || fb == model {
		return "", false
	}

	return fb, true
}

// Send implements Client.
func (c *FallbackClient) Send(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := c.next.Send(ctx, req)
	if err != nil {
		fb, ok := c.fallbackFor(req.Model, err)
		if !ok {
			return nil, err
		}

		c.opts.Logger.Warn("model.fallback", "model", req.Model, "fallback", fb, "error", err.Error())

		req.Model = fb

		resp, err = c.next.Send(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	resp.Latency = time.Since(start)

	return resp, nil
}

// Stream implements Client. The fallback is tried when opening the stream
// fails or when the first event is a fallbackable error; once any content has
// been forwarded the stream is never restarted.
func (c *FallbackClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	start := time.Now()

	ch, err := c.next.Stream(ctx, req)
	if err != nil {
		fb, ok := c.fallbackFor(req.Model, err)
		if !ok {
			return nil, err
		}

		c.opts.Logger.Warn("model.fallback", "model", req.Model, "fallback", fb, "error", err.Error())

		req.Model = fb

		ch, err = c.next.Stream(ctx, req)
		if err != nil {
			return nil, err
		}

		return withLatency(ch, start), nil
	}

	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)

		first, ok := <-ch
		if !ok {
			return
		}

		if first.Type == EventError {
			if fb, retry := c.fallbackFor(req.Model, first.Err); retry {
				c.opts.Logger.Warn("model.fallback", "model", req.Model, "fallback", fb, "error", first.Err.Error())

				fbReq := req
				fbReq.Model = fb

				fbCh, fbErr := c.next.Stream(ctx, fbReq)
				if fbErr != nil {
					out <- StreamEvent{Type: EventError, Err: fbErr}
					return
				}

				forward(out, fbCh, start)

				return
			}
		}

		out <- stamp(first, start)
		forward(out, ch, start)
	}()

	return out, nil
}

func withLatency(ch <-chan StreamEvent, start time.Time) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)
		forward(out, ch, start)
	}()

	return out
}

func forward(out chan<- StreamEvent, in <-chan StreamEvent, start time.Time) {
	for ev := range in {
		out <- stamp(ev, start)
	}
}

func stamp(ev StreamEvent, start time.Time) StreamEvent {
	if ev.Type == EventFinal && ev.Response != nil {
		ev.Response.Latency = time.Since(start)
	}

	return ev
}
