package graph

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/metrics"
)

// Limiter is the process-wide admission gate for Graph API calls. The data
// client and the token endpoints share one instance.
type Limiter struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

// NewLimiter allows perSecond calls with the given burst. Callers wait at
// most maxWait for a slot.
func NewLimiter(perSecond float64, burst int, maxWait time.Duration) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		maxWait: maxWait,
	}
}

// Admit waits for a rate-limit slot. The wait is bounded by maxWait and by
// the caller's deadline; an abandoned reservation is returned to the limiter.
func (l *Limiter) Admit(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return errs.New(errs.RateLimited, "graph api rate limit cannot admit any request")
	}

	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	if delay > l.maxWait {
		r.Cancel()
		metrics.RateLimitRejections.Inc()
		return &errs.Error{
			Kind:       errs.RateLimited,
			Message:    "graph api rate limit exceeded",
			RetryAfter: delay,
		}
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		r.Cancel()
		return errs.Wrap(errs.DeadlineExceeded, context.DeadlineExceeded, "rate limit admission would exceed request deadline")
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return errs.FromContext(ctx, "rate limit admission")
	}
}
