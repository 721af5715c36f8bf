package model

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient throttles calls to a provider with a token bucket.
type RateLimitedClient struct {
	next     Client
	provider string
	limiter  *rate.Limiter
}

// NewRateLimitedClient allows rps requests per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimitedClient(next Client, provider string, rps float64, burst int) *RateLimitedClient {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}

	if burst <= 0 {
		burst = 1
	}

	return &RateLimitedClient{next: next, provider: provider, limiter: rate.NewLimiter(limit, burst)}
}

func (c *RateLimitedClient) wait(ctx context.Context, model string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot be met.
		return &ProviderError{Provider: c.provider, Model: model, Kind: ErrorKindTimeout, Err: err}
	}

	return nil
}

// Send implements Client.
func (c *RateLimitedClient) Send(ctx context.Context, req Request) (*Response, error) {
	if err := c.wait(ctx, req.Model); err != nil {
		return nil, err
	}

	return c.next.Send(ctx, req)
}

// Stream implements Client.
func (c *RateLimitedClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if err := c.wait(ctx, req.Model); err != nil {
		return nil, err
	}

	return c.next.Stream(ctx, req)
}
