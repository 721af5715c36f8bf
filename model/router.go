package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// SplitModel splits a "provider:model" identifier. An identifier without a
// provider prefix yields an empty provider.
func SplitModel(id string) (provider, name string) {
	if i := strings.Index(id, ":"); i > 0 {
		return id[:i], id[i+1:]
	}

	return "", id
}

// Router dispatches requests to provider clients by the provider prefix of
// Request.Model. Provider clients receive the bare model name; responses
// carry the full identifier again.
type Router struct {
	mu              sync.RWMutex
	clients         map[string]Client
	defaultProvider string
}

// NewRouter creates a Router. defaultProvider is used for identifiers without a prefix.
func NewRouter(defaultProvider string) *Router {
	return &Router{clients: map[string]Client{}, defaultProvider: defaultProvider}
}

// Register binds a provider name to a client, replacing any previous binding.
func (r *Router) Register(provider string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[provider] = c
}

func (r *Router) resolve(req Request) (Client, string, Request, error) {
	provider, name := SplitModel(req.Model)
	if provider == "" {
		provider = r.defaultProvider
	}

	r.mu.RLock()
	c, ok := r.clients[provider]
	r.mu.RUnlock()

	if !ok {
		return nil, "", req, &ProviderError{
			Provider: provider,
			Model:    name,
			Kind:     ErrorKindAuth,
			Err:      fmt.Errorf("no client configured for provider %q", provider),
		}
	}

	req.Model = name

	return c, provider + ":" + name, req, nil
}

// Send implements Client.
func (r *Router) Send(ctx context.Context, req Request) (*Response, error) {
	c, full, req, err := r.resolve(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	resp.Model = full

	return resp, nil
}

// Stream implements Client.
func (r *Router) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	c, full, req, err := r.resolve(req)
	if err != nil {
		return nil, err
	}

	ch, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)

		for ev := range ch {
			if ev.Type == EventFinal && ev.Response != nil {
				ev.Response.Model = full
			}
			out <- ev
		}
	}()

	return out, nil
}
