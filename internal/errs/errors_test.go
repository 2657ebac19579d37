package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := New(RateLimited, "graph throttled")
	wrapped := fmt.Errorf("fetch insights: %w", err)

	assert.True(t, errors.Is(wrapped, ErrRateLimited))
	assert.False(t, errors.Is(wrapped, ErrUpstreamUnavailable))
	assert.Equal(t, RateLimited, KindOf(wrapped))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(UpstreamUnavailable, cause, "graph request failed after %d attempts", 4)

	assert.Equal(t, "graph request failed after 4 attempts: connection reset", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "RateLimited", (&Error{Kind: RateLimited}).Error())
}

func TestKindOf_ContextErrors(t *testing.T) {
	assert.Equal(t, DeadlineExceeded, KindOf(context.DeadlineExceeded))
	assert.Equal(t, DeadlineExceeded, KindOf(fmt.Errorf("wait: %w", context.Canceled)))
	assert.Equal(t, Unknown, KindOf(errors.New("boom")))
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Kind: RateLimited, RetryAfter: 30 * time.Second}
	assert.Equal(t, 30*time.Second, RetryAfterOf(fmt.Errorf("x: %w", err)))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid request", ErrInvalidRequest, http.StatusBadRequest},
		{"invalid period", New(InvalidPeriodFormat, "bad"), http.StatusBadRequest},
		{"range too wide", New(RangeTooWide, "45 days"), http.StatusBadRequest},
		{"auth expired", ErrAuthExpired, http.StatusUnauthorized},
		{"credential unavailable", ErrCredentialUnavailable, http.StatusUnauthorized},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"upstream unavailable", ErrUpstreamUnavailable, http.StatusInternalServerError},
		{"deadline", ErrDeadlineExceeded, http.StatusGatewayTimeout},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
