package graph

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/socialpulse/ig-insights/internal/errs"
)

// APIError is the error object returned in Graph API error bodies
type APIError struct {
	Message     string `json:"message"`
	Type        string `json:"type"`
	Code        int    `json:"code"`
	Subcode     int    `json:"error_subcode"`
	IsTransient bool   `json:"is_transient"`
	FBTraceID   string `json:"fbtrace_id"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Graph error codes with special handling
const (
	codeAPITooManyCalls    = 4
	codeAPIUserTooManyCall = 17
	codeAPIPageTooManyCall = 32
	codeAccessToken        = 190
	codeRateLimitReached   = 613
)

// ParseAPIError extracts the Graph error object; nil when the body has none
func ParseAPIError(body []byte) *APIError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Error
}

func (e *APIError) throttled() bool {
	switch e.Code {
	case codeAPITooManyCalls, codeAPIUserTooManyCall, codeAPIPageTooManyCall, codeRateLimitReached:
		return true
	}
	return false
}

// outcome describes a failed attempt and whether it may be retried
type outcome struct {
	err        *errs.Error
	retryable  bool
	reason     string
	retryAfter time.Duration
}

// classify maps an HTTP status and Graph error body onto the engine taxonomy
func classify(status int, header http.Header, body []byte) outcome {
	apiErr := ParseAPIError(body)
	msg := fmt.Sprintf("graph api returned status %d", status)
	if apiErr != nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	switch {
	case status == http.StatusUnauthorized || (apiErr != nil && apiErr.Code == codeAccessToken):
		return outcome{err: errs.New(errs.AuthExpired, "access token rejected: %s", msg), reason: "auth"}
	case status == http.StatusTooManyRequests || (apiErr != nil && apiErr.throttled()):
		retryAfter := parseRetryAfter(header.Get("Retry-After"), time.Now())
		return outcome{
			err:        &errs.Error{Kind: errs.RateLimited, Message: "graph api rate limit: " + msg, RetryAfter: retryAfter},
			retryable:  true,
			reason:     "throttled",
			retryAfter: retryAfter,
		}
	case status >= 500 || (apiErr != nil && apiErr.IsTransient):
		return outcome{err: errs.New(errs.UpstreamUnavailable, "graph api unavailable: %s", msg), retryable: true, reason: "server_error"}
	case status >= 400:
		return outcome{err: errs.New(errs.InvalidRequest, "%s", msg)}
	default:
		return outcome{err: errs.New(errs.UpstreamUnavailable, "unexpected graph api status %d", status)}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
