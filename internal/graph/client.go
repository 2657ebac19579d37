package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/socialpulse/ig-insights/internal/config"
	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/metrics"
	"github.com/socialpulse/ig-insights/internal/models"
)

// TokenSource supplies the access token attached to every call
type TokenSource interface {
	GetValidToken(ctx context.Context) (models.Credential, error)
	ForceRefresh(ctx context.Context, rejected string) (models.Credential, error)
}

// Options configures the Graph API client
type Options struct {
	BaseURL         string // versioned root, e.g. https://graph.facebook.com/v20.0
	Timeout         time.Duration
	RateLimit       float64 // requests per second, shared by all callers
	RateBurst       int
	MaxWait         time.Duration
	MaxRetries      int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	BreakerFailures int // consecutive outages before the breaker opens; 0 disables it
	BreakerTimeout  time.Duration

	// Limiter is shared with other Graph callers; built from RateLimit,
	// RateBurst and MaxWait when nil.
	Limiter *Limiter
}

// OptionsFromConfig builds client options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:         cfg.GraphURL(),
		Timeout:         cfg.GraphTimeout,
		RateLimit:       cfg.GraphRateLimit,
		RateBurst:       cfg.GraphRateBurst,
		MaxWait:         cfg.GraphRateMaxWait,
		MaxRetries:      cfg.GraphMaxRetries,
		BackoffInitial:  cfg.GraphBackoffInitial,
		BackoffMax:      cfg.GraphBackoffMax,
		BreakerFailures: cfg.GraphBreakerFailures,
		BreakerTimeout:  cfg.GraphBreakerTimeout,
	}
}

// Client executes rate-limited, retried calls against the Graph API
type Client struct {
	http    *resty.Client
	tokens  TokenSource
	limiter *Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	opts    Options
}

// NewClient creates a Graph API client. One client should be shared by the
// whole process so that the rate limit applies to every caller.
func NewClient(opts Options, tokens TokenSource) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(opts.BaseURL).
			SetTimeout(opts.Timeout).
			SetLogger(logrus.StandardLogger()).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "IG-Insights/1.0"),
		tokens:  tokens,
		limiter: opts.Limiter,
		opts:    opts,
	}
	if c.limiter == nil {
		c.limiter = NewLimiter(opts.RateLimit, opts.RateBurst, opts.MaxWait)
	}
	c.breaker = newBreaker(opts.BreakerFailures, opts.BreakerTimeout)
	return c
}

func newBreaker(failures int, timeout time.Duration) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "graph-api",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= uint32(failures)
		},
		// caller mistakes and throttling say nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || errs.KindOf(err) != errs.UpstreamUnavailable
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state transition")
			metrics.CircuitBreakerState.Set(float64(to))
		},
	})
}

// Get performs a single-object request and decodes the response into out
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	body, err := c.get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.Wrap(errs.UpstreamUnavailable, err, "invalid JSON response from %s", endpoint)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.getWithRetry(ctx, endpoint, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.GraphRequests.WithLabelValues(endpointLabel(endpoint), "circuit_open").Inc()
		return nil, errs.Wrap(errs.UpstreamUnavailable, err, "graph api circuit open")
	}
	return body, err
}

func (c *Client) getWithRetry(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.BackoffInitial
	bo.MaxInterval = c.opts.BackoffMax
	bo.Multiplier = 2
	bo.Reset()

	log := logrus.WithField("endpoint", endpoint)
	authRetried := false
	retries := 0

	for {
		cred, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.limiter.Admit(ctx); err != nil {
			return nil, err
		}

		body, out := c.attempt(ctx, endpoint, params, cred.Token)
		if out == nil {
			return body, nil
		}

		if out.err.Kind == errs.AuthExpired {
			if authRetried {
				return nil, out.err
			}
			authRetried = true
			log.Warn("Access token rejected, forcing credential refresh")
			metrics.GraphRetries.WithLabelValues("auth").Inc()
			if _, ferr := c.tokens.ForceRefresh(ctx, cred.Token); ferr != nil {
				if errs.KindOf(ferr) == errs.DeadlineExceeded {
					return nil, ferr
				}
				return nil, errs.Wrap(errs.AuthExpired, ferr, "access token rejected and refresh failed")
			}
			continue
		}

		if !out.retryable {
			return nil, out.err
		}

		if retries >= c.opts.MaxRetries {
			log.WithField("retries", retries).Errorf("Graph API call failed after retries: %v", out.err)
			if out.err.Kind == errs.RateLimited {
				return nil, out.err
			}
			return nil, errs.Wrap(errs.UpstreamUnavailable, out.err, "graph api call failed after %d attempts", retries+1)
		}

		wait := bo.NextBackOff()
		if out.retryAfter > 0 {
			if out.retryAfter > c.opts.MaxWait {
				return nil, out.err
			}
			wait = out.retryAfter
		}
		retries++
		metrics.GraphRetries.WithLabelValues(out.reason).Inc()
		log.WithFields(logrus.Fields{
			"retry":  retries,
			"wait":   wait.String(),
			"reason": out.reason,
		}).Warnf("Retrying Graph API call: %v", out.err)

		if err := sleep(ctx, wait); err != nil {
			return nil, errs.FromContext(ctx, "graph api retry backoff")
		}
	}
}

// attempt issues one HTTP call; a nil outcome means success
func (c *Client) attempt(ctx context.Context, endpoint string, params url.Values, token string) ([]byte, *outcome) {
	label := endpointLabel(endpoint)
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetQueryParam("access_token", token).
		Get(endpoint)
	metrics.GraphRequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			metrics.GraphRequests.WithLabelValues(label, "deadline").Inc()
			return nil, &outcome{err: errs.FromContext(ctx, "graph api call")}
		}
		metrics.GraphRequests.WithLabelValues(label, "network_error").Inc()
		return nil, &outcome{
			err:       errs.Wrap(errs.UpstreamUnavailable, err, "graph api request failed"),
			retryable: true,
			reason:    "network",
		}
	}

	if resp.StatusCode() == 200 {
		metrics.GraphRequests.WithLabelValues(label, "ok").Inc()
		return resp.Body(), nil
	}

	out := classify(resp.StatusCode(), resp.Header(), resp.Body())
	metrics.GraphRequests.WithLabelValues(label, out.err.Kind.String()).Inc()
	logrus.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"status":   resp.StatusCode(),
		"kind":     out.err.Kind.String(),
	}).Debugf("Graph API error: %s", out.err.Message)
	return nil, &out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// endpointLabel keeps metric cardinality bounded by dropping object ids
func endpointLabel(endpoint string) string {
	for i := len(endpoint) - 1; i >= 0; i-- {
		if endpoint[i] == '/' {
			if i == 0 {
				return "object"
			}
			return endpoint[i+1:]
		}
	}
	return endpoint
}
