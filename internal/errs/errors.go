package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an engine failure so callers can tell caller mistakes
// apart from upstream outages.
type Kind int

const (
	Unknown Kind = iota
	InvalidRequest
	InvalidPeriodFormat
	RangeTooWide
	AuthExpired
	CredentialUnavailable
	RateLimited
	UpstreamUnavailable
	DeadlineExceeded
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "InvalidRequest"
	case InvalidPeriodFormat:
		return "InvalidPeriodFormat"
	case RangeTooWide:
		return "RangeTooWide"
	case AuthExpired:
		return "AuthExpired"
	case CredentialUnavailable:
		return "CredentialUnavailable"
	case RateLimited:
		return "RateLimited"
	case UpstreamUnavailable:
		return "UpstreamUnavailable"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned by the engine packages.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Sentinels for errors.Is comparisons. Matching is by Kind only.
var (
	ErrInvalidRequest        = &Error{Kind: InvalidRequest}
	ErrInvalidPeriodFormat   = &Error{Kind: InvalidPeriodFormat}
	ErrRangeTooWide          = &Error{Kind: RangeTooWide}
	ErrAuthExpired           = &Error{Kind: AuthExpired}
	ErrCredentialUnavailable = &Error{Kind: CredentialUnavailable}
	ErrRateLimited           = &Error{Kind: RateLimited}
	ErrUpstreamUnavailable   = &Error{Kind: UpstreamUnavailable}
	ErrDeadlineExceeded      = &Error{Kind: DeadlineExceeded}
)

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost engine error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DeadlineExceeded
	}
	return Unknown
}

// RetryAfterOf returns the retry hint carried by a RateLimited error, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// FromContext converts a context error into DeadlineExceeded.
func FromContext(ctx context.Context, op string) *Error {
	return Wrap(DeadlineExceeded, ctx.Err(), "%s abandoned", op)
}

// HTTPStatus maps an error to the status code surfaced to API callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidRequest, InvalidPeriodFormat, RangeTooWide:
		return http.StatusBadRequest
	case AuthExpired, CredentialUnavailable:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
