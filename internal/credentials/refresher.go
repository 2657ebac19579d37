package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/graph"
	"github.com/socialpulse/ig-insights/internal/models"
)

// Refresher exchanges the held long-lived token for a new one
type Refresher interface {
	Exchange(ctx context.Context, token string) (models.Credential, error)
}

// Inspector reads issue and expiry metadata of a token
type Inspector interface {
	Inspect(ctx context.Context, token string) (TokenInfo, error)
}

// Admitter gates calls against the shared Graph API rate limit
type Admitter interface {
	Admit(ctx context.Context) error
}

// TokenInfo is the subset of debug_token output the service uses
type TokenInfo struct {
	AppID     string    `json:"app_id"`
	Type      string    `json:"type"`
	IsValid   bool      `json:"is_valid"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"` // zero when the token never expires
	Scopes    []string  `json:"scopes"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type debugTokenResponse struct {
	Data struct {
		AppID     string   `json:"app_id"`
		Type      string   `json:"type"`
		IsValid   bool     `json:"is_valid"`
		IssuedAt  int64    `json:"issued_at"`
		ExpiresAt int64    `json:"expires_at"`
		Scopes    []string `json:"scopes"`
	} `json:"data"`
}

// GraphRefresher talks to the Graph API token endpoints
type GraphRefresher struct {
	appID     string
	appSecret string
	lifetime  time.Duration
	client    *resty.Client
	limiter   Admitter
	now       func() time.Time
}

var (
	_ Refresher = (*GraphRefresher)(nil)
	_ Inspector = (*GraphRefresher)(nil)
	_ Admitter  = (*graph.Limiter)(nil)
)

// NewGraphRefresher creates a refresher against the versioned Graph root.
// lifetime is assumed when the exchange response omits expires_in.
func NewGraphRefresher(graphURL, appID, appSecret string, lifetime time.Duration) *GraphRefresher {
	return &GraphRefresher{
		appID:     appID,
		appSecret: appSecret,
		lifetime:  lifetime,
		client: resty.New().
			SetBaseURL(graphURL).
			SetTimeout(30*time.Second).
			SetLogger(logrus.StandardLogger()).
			SetHeader("User-Agent", "IG-Insights/1.0"),
		now: time.Now,
	}
}

// WithLimiter routes token endpoint calls through the shared rate limit
func (g *GraphRefresher) WithLimiter(limiter Admitter) *GraphRefresher {
	g.limiter = limiter
	return g
}

func (g *GraphRefresher) admit(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Admit(ctx)
}

// Exchange trades a long-lived token for a fresh one via fb_exchange_token
func (g *GraphRefresher) Exchange(ctx context.Context, token string) (models.Credential, error) {
	if err := g.admit(ctx); err != nil {
		return models.Credential{}, err
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":        "fb_exchange_token",
			"client_id":         g.appID,
			"client_secret":     g.appSecret,
			"fb_exchange_token": token,
		}).
		Get("/oauth/access_token")
	if err != nil {
		return models.Credential{}, requestError(ctx, err, "token exchange")
	}

	if resp.StatusCode() != 200 {
		return models.Credential{}, responseError(resp, "token exchange")
	}

	var body exchangeResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return models.Credential{}, errs.Wrap(errs.UpstreamUnavailable, err, "invalid token exchange response")
	}
	if body.AccessToken == "" {
		return models.Credential{}, errs.New(errs.CredentialUnavailable, "token exchange returned no access token")
	}

	issued := g.now().UTC()
	lifetime := g.lifetime
	if body.ExpiresIn > 0 {
		lifetime = time.Duration(body.ExpiresIn) * time.Second
	}

	return models.Credential{
		Token:     body.AccessToken,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(lifetime),
	}, nil
}

// Inspect reads token metadata via debug_token using the app access token
func (g *GraphRefresher) Inspect(ctx context.Context, token string) (TokenInfo, error) {
	if err := g.admit(ctx); err != nil {
		return TokenInfo{}, err
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"input_token":  token,
			"access_token": g.appID + "|" + g.appSecret,
		}).
		Get("/debug_token")
	if err != nil {
		return TokenInfo{}, requestError(ctx, err, "token inspection")
	}

	if resp.StatusCode() != 200 {
		return TokenInfo{}, responseError(resp, "token inspection")
	}

	var body debugTokenResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return TokenInfo{}, errs.Wrap(errs.UpstreamUnavailable, err, "invalid debug_token response")
	}

	info := TokenInfo{
		AppID:   body.Data.AppID,
		Type:    body.Data.Type,
		IsValid: body.Data.IsValid,
		Scopes:  body.Data.Scopes,
	}
	if body.Data.IssuedAt > 0 {
		info.IssuedAt = time.Unix(body.Data.IssuedAt, 0).UTC()
	}
	if body.Data.ExpiresAt > 0 {
		info.ExpiresAt = time.Unix(body.Data.ExpiresAt, 0).UTC()
	}
	return info, nil
}

func requestError(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return errs.FromContext(ctx, op)
	}
	return errs.Wrap(errs.UpstreamUnavailable, err, "%s request failed", op)
}

func responseError(resp *resty.Response, op string) error {
	msg := fmt.Sprintf("status %d", resp.StatusCode())
	if apiErr := graph.ParseAPIError(resp.Body()); apiErr != nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	if resp.StatusCode() >= 500 {
		return errs.New(errs.UpstreamUnavailable, "%s failed: %s", op, msg)
	}
	return errs.New(errs.CredentialUnavailable, "%s failed: %s", op, msg)
}
