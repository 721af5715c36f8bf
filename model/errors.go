package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrorKind classifies provider failures into a small set of categories
// suitable for fallback and user-facing reporting.
type ErrorKind string

const (
	// ErrorKindAuth indicates missing or rejected credentials.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindInvalidRequest indicates the request is invalid; retrying it unchanged will not succeed.
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	// ErrorKindRateLimited indicates the provider is throttling requests.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindOverloaded indicates the provider is temporarily overloaded.
	ErrorKindOverloaded ErrorKind = "overloaded"
	// ErrorKindUnreachable indicates the provider could not be reached at all.
	ErrorKindUnreachable ErrorKind = "unreachable"
	// ErrorKindTimeout indicates the call did not finish in time.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindInternal indicates any other provider side failure.
	ErrorKindInternal ErrorKind = "internal"
)

// ProviderError describes a failure returned by a model provider.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	status := ""
	if e.Status > 0 {
		status = fmt.Sprintf(" (%d)", e.Status)
	}

	cause := "provider error"
	if e.Err != nil {
		cause = e.Err.Error()
	}

	return fmt.Sprintf("%s %s %s%s: %s", e.Provider, e.Model, e.Kind, status, cause)
}

// Unwrap returns the underlying error to preserve the original chain.
func (e *ProviderError) Unwrap() error { return e.Err }

// Fallbackable reports whether a lighter model may be tried instead.
func (e *ProviderError) Fallbackable() bool {
	return e.Kind == ErrorKindRateLimited || e.Kind == ErrorKindOverloaded
}

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}

	return nil, false
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorKindAuth
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimited
	// 529 is Anthropic's overloaded status.
	case status == 529, status == http.StatusServiceUnavailable:
		return ErrorKindOverloaded
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrorKindTimeout
	case status == http.StatusBadGateway:
		return ErrorKindUnreachable
	case status >= 400 && status < 500:
		return ErrorKindInvalidRequest
	default:
		return ErrorKindInternal
	}
}

// Classify wraps err into a ProviderError. status is the HTTP status
// extracted from the SDK error, or 0 when unknown. A ProviderError already in
// the chain is returned unchanged.
func Classify(provider, model string, status int, err error) *ProviderError {
	if err == nil {
		return nil
	}

	if pe, ok := AsProviderError(err); ok {
		return pe
	}

	pe := &ProviderError{Provider: provider, Model: model, Status: status, Err: err}

	var netErr net.Error
	var urlErr *url.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError

	switch {
	case status > 0:
		pe.Kind = KindForStatus(status)
	case errors.Is(err, context.DeadlineExceeded):
		pe.Kind = ErrorKindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		pe.Kind = ErrorKindTimeout
	case errors.As(err, &dnsErr), errors.As(err, &opErr), errors.As(err, &urlErr):
		pe.Kind = ErrorKindUnreachable
	default:
		pe.Kind = ErrorKindInternal
	}

	return pe
}
