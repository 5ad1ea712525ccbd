package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures into the small set of
// categories retry and transport code branches on.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth covers authentication and authorization
	// failures.
	ProviderErrorKindAuth ProviderErrorKind = "auth"

	// ProviderErrorKindInvalidRequest means retrying the same request
	// cannot succeed.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"

	// ProviderErrorKindRateLimited means the provider is throttling.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"

	// ProviderErrorKindUnavailable covers transient failures (5xx,
	// network) where a retry may succeed.
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"

	// ProviderErrorKindUnknown is an unclassified failure.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError is a structured model provider failure. It crosses package
// boundaries so transports can map failures to status codes and clients
// can decide on retries without parsing error strings.
type ProviderError struct {
	provider  string
	http      int
	kind      ProviderErrorKind
	message   string
	requestID string
	retryable bool
	cause     error
}

// NewProviderError builds a ProviderError. provider and kind are required;
// cause may be nil but preserving the original chain is preferred.
func NewProviderError(provider string, httpStatus int, kind ProviderErrorKind, message, requestID string, retryable bool, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{
		provider:  provider,
		http:      httpStatus,
		kind:      kind,
		message:   message,
		requestID: requestID,
		retryable: retryable,
		cause:     cause,
	}
}

// Provider returns the provider identifier, e.g. "anthropic".
func (e *ProviderError) Provider() string { return e.provider }

// HTTPStatus returns the provider HTTP status when known, otherwise 0.
func (e *ProviderError) HTTPStatus() int { return e.http }

// Kind returns the coarse failure classification.
func (e *ProviderError) Kind() ProviderErrorKind { return e.kind }

// RequestID returns the provider request identifier when available.
func (e *ProviderError) RequestID() string { return e.requestID }

// Retryable reports whether retrying the identical call may succeed.
func (e *ProviderError) Retryable() bool { return e.retryable }

func (e *ProviderError) Error() string {
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	if e.http > 0 {
		return fmt.Sprintf("%s %s (%d): %s", e.provider, e.kind, e.http, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.provider, e.kind, msg)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyHTTP maps an HTTP status code to a ProviderErrorKind and a
// retryable flag, for clients whose SDKs expose raw status codes.
func ClassifyHTTP(status int) (ProviderErrorKind, bool) {
	switch {
	case status == 401 || status == 403:
		return ProviderErrorKindAuth, false
	case status == 429:
		return ProviderErrorKindRateLimited, true
	case status >= 400 && status < 500:
		return ProviderErrorKindInvalidRequest, false
	case status >= 500:
		return ProviderErrorKindUnavailable, true
	default:
		return ProviderErrorKindUnknown, false
	}
}
