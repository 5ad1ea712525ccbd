package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		status    int
		kind      ProviderErrorKind
		retryable bool
	}{
		{401, ProviderErrorKindAuth, false},
		{403, ProviderErrorKindAuth, false},
		{429, ProviderErrorKindRateLimited, true},
		{400, ProviderErrorKindInvalidRequest, false},
		{422, ProviderErrorKindInvalidRequest, false},
		{500, ProviderErrorKindUnavailable, true},
		{503, ProviderErrorKindUnavailable, true},
		{0, ProviderErrorKindUnknown, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d", tc.status), func(t *testing.T) {
			kind, retryable := ClassifyHTTP(tc.status)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.retryable, retryable)
		})
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := NewProviderError("anthropic", 429, ProviderErrorKindRateLimited, "slow down", "req-1", true, nil)
	assert.Equal(t, "anthropic rate_limited (429): slow down", err.Error())
	assert.True(t, err.Retryable())
	assert.Equal(t, "req-1", err.RequestID())
}

func TestProviderErrorFallsBackToCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewProviderError("openai", 0, ProviderErrorKindUnavailable, "", "", true, cause)
	assert.Equal(t, "openai unavailable: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestAsProviderError(t *testing.T) {
	inner := NewProviderError("anthropic", 500, ProviderErrorKindUnavailable, "boom", "", true, nil)
	wrapped := fmt.Errorf("stream failed: %w", inner)

	pe, ok := AsProviderError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 500, pe.HTTPStatus())

	_, ok = AsProviderError(errors.New("plain"))
	assert.False(t, ok)
}
