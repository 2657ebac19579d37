package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/metrics"
	"github.com/socialpulse/ig-insights/internal/models"
	"github.com/socialpulse/ig-insights/internal/storage"
)

// StoreKey is the object name of the persisted credential
const StoreKey = "credentials/long-lived-token.json"

const refreshKey = "token_refresh"

// Options configures a Manager
type Options struct {
	Refresher      Refresher                // nil when APP_ID/APP_SECRET are not configured
	Inspector      Inspector                // optional, used by Bootstrap
	Store          storage.StorageInterface // optional persistence of refreshed credentials
	Margin         time.Duration            // refresh when remaining lifetime drops below this
	Lifetime       time.Duration            // assumed lifetime when expiry is unknown
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// Manager owns the process-wide credential. The held value is replaced by
// pointer swap; at most one refresh runs at a time.
type Manager struct {
	current atomic.Pointer[models.Credential]
	group   singleflight.Group
	opts    Options

	refreshes atomic.Int64
	failures  atomic.Int64

	mu          sync.Mutex
	lastRefresh time.Time
	lastError   string
}

// Status is a point-in-time view of the credential for health reporting
type Status struct {
	Valid       bool      `json:"valid"`
	CanRefresh  bool      `json:"can_refresh"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Refreshes   int64     `json:"refreshes"`
	Failures    int64     `json:"failures"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewManager creates a manager holding the initial credential
func NewManager(initial models.Credential, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = 60 * 24 * time.Hour
	}

	m := &Manager{opts: opts}
	m.swap(initial)
	return m
}

// GetValidToken returns a credential that is valid now, refreshing it first
// when it has entered the safety margin.
func (m *Manager) GetValidToken(ctx context.Context) (models.Credential, error) {
	cur := m.current.Load()
	now := m.opts.Now()
	if cur.RemainingAt(now) > m.opts.Margin {
		return *cur, nil
	}

	if m.opts.Refresher == nil {
		if cur.ValidAt(now) {
			return *cur, nil
		}
		return models.Credential{}, errs.New(errs.CredentialUnavailable,
			"access token expired at %s and no refresh path is configured", cur.ExpiresAt.Format(time.RFC3339))
	}

	cred, err := m.refresh(ctx, "", false)
	if err == nil {
		return cred, nil
	}

	if errs.KindOf(err) != errs.DeadlineExceeded {
		// the held token is inside the margin but still usable
		if held := m.current.Load(); held.ValidAt(m.opts.Now()) {
			logrus.WithFields(logrus.Fields{
				"expires_at": held.ExpiresAt,
				"remaining":  held.RemainingAt(m.opts.Now()).String(),
			}).Warnf("Proactive token refresh failed, continuing with held token: %v", err)
			return *held, nil
		}
	}

	return models.Credential{}, err
}

// ForceRefresh replaces a token that upstream rejected. If the held token no
// longer matches rejected, another caller already replaced it and the held
// token is returned.
func (m *Manager) ForceRefresh(ctx context.Context, rejected string) (models.Credential, error) {
	if m.opts.Refresher == nil {
		return models.Credential{}, errs.New(errs.CredentialUnavailable, "access token rejected and no refresh path is configured")
	}
	return m.refresh(ctx, rejected, true)
}

// RefreshIfNeeded runs the proactive refresh check and reports its failure
// even when the held token is still usable.
func (m *Manager) RefreshIfNeeded(ctx context.Context) error {
	cur := m.current.Load()
	if cur.RemainingAt(m.opts.Now()) > m.opts.Margin {
		logrus.WithField("expires_at", cur.ExpiresAt).Debug("Token does not need proactive refresh")
		return nil
	}
	if m.opts.Refresher == nil {
		return errs.New(errs.CredentialUnavailable,
			"access token expires at %s and APP_ID/APP_SECRET are not configured", cur.ExpiresAt.Format(time.RFC3339))
	}
	_, err := m.refresh(ctx, "", false)
	return err
}

func (m *Manager) refresh(ctx context.Context, rejected string, force bool) (models.Credential, error) {
	ch := m.group.DoChan(refreshKey, func() (interface{}, error) {
		// another flight may have swapped the credential already
		cur := m.current.Load()
		if force && cur.Token != rejected {
			return *cur, nil
		}
		if !force && cur.RemainingAt(m.opts.Now()) > m.opts.Margin {
			return *cur, nil
		}

		// the refresh outlives any single caller's deadline
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.RefreshTimeout)
		defer cancel()

		log := logrus.WithFields(logrus.Fields{
			"token_prefix": tokenPrefix(cur.Token),
			"expires_at":   cur.ExpiresAt,
			"forced":       force,
		})
		log.Info("Refreshing long-lived access token")

		next, err := m.opts.Refresher.Exchange(rctx, cur.Token)
		if err != nil {
			m.failures.Add(1)
			m.recordResult(err)
			metrics.CredentialRefreshes.WithLabelValues("failure").Inc()
			log.Errorf("Token refresh failed: %v", err)
			if errs.KindOf(err) == errs.DeadlineExceeded {
				return nil, err
			}
			return nil, errs.Wrap(errs.CredentialUnavailable, err, "credential refresh failed")
		}

		m.swap(next)
		m.refreshes.Add(1)
		m.recordResult(nil)
		metrics.CredentialRefreshes.WithLabelValues("success").Inc()
		log.WithField("new_expires_at", next.ExpiresAt).Info("Token refresh completed")

		if err := m.persist(rctx, next); err != nil {
			log.Warnf("Refreshed token could not be persisted, using in-memory token: %v", err)
		}
		return next, nil
	})

	select {
	case <-ctx.Done():
		return models.Credential{}, errs.FromContext(ctx, "waiting for credential refresh")
	case res := <-ch:
		if res.Err != nil {
			return models.Credential{}, res.Err
		}
		if res.Shared {
			logrus.Debug("Token refresh result shared from concurrent caller")
		}
		return res.Val.(models.Credential), nil
	}
}

// Bootstrap resolves the expiry of the configured token and adopts a
// persisted credential when it outlives the configured one.
func (m *Manager) Bootstrap(ctx context.Context, configured string, expiresAt time.Time) models.Credential {
	now := m.opts.Now().UTC()
	seed := models.Credential{Token: configured, ExpiresAt: expiresAt}

	switch {
	case !expiresAt.IsZero():
		seed.IssuedAt = expiresAt.Add(-m.opts.Lifetime)
	case m.opts.Inspector != nil:
		info, err := m.opts.Inspector.Inspect(ctx, configured)
		if err == nil && info.IsValid && !info.ExpiresAt.IsZero() {
			seed.IssuedAt = info.IssuedAt
			seed.ExpiresAt = info.ExpiresAt
			break
		}
		if err != nil {
			logrus.Warnf("Token inspection failed, assuming a fresh token: %v", err)
		} else if !info.IsValid {
			logrus.Warn("Configured token is reported invalid by debug_token")
		}
		seed.IssuedAt = now
		seed.ExpiresAt = now.Add(m.opts.Lifetime)
	default:
		seed.IssuedAt = now
		seed.ExpiresAt = now.Add(m.opts.Lifetime)
	}

	if persisted, err := m.loadPersisted(ctx); err != nil {
		logrus.Warnf("Could not load persisted credential: %v", err)
	} else if persisted != nil && persisted.ValidAt(now) && persisted.ExpiresAt.After(seed.ExpiresAt) {
		logrus.WithField("expires_at", persisted.ExpiresAt).Info("Using persisted credential")
		seed = *persisted
	}

	m.swap(seed)
	logrus.WithFields(logrus.Fields{
		"token_prefix": tokenPrefix(seed.Token),
		"expires_at":   seed.ExpiresAt,
	}).Info("Credential initialized")
	return seed
}

// Status reports the held credential and refresh counters
func (m *Manager) Status() Status {
	cur := m.current.Load()
	now := m.opts.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Valid:       cur.ValidAt(now),
		CanRefresh:  m.opts.Refresher != nil,
		IssuedAt:    cur.IssuedAt,
		ExpiresAt:   cur.ExpiresAt,
		Remaining:   cur.RemainingAt(now).Round(time.Minute).String(),
		Refreshes:   m.refreshes.Load(),
		Failures:    m.failures.Load(),
		LastRefresh: m.lastRefresh,
		LastError:   m.lastError,
	}
}

// Persist writes the held credential to the store
func (m *Manager) Persist(ctx context.Context) error {
	return m.persist(ctx, *m.current.Load())
}

func (m *Manager) swap(c models.Credential) {
	m.current.Store(&c)
	metrics.CredentialExpiry.Set(float64(c.ExpiresAt.Unix()))
}

func (m *Manager) recordResult(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRefresh = m.opts.Now()
	if err != nil {
		m.lastError = err.Error()
	} else {
		m.lastError = ""
	}
}

func (m *Manager) persist(ctx context.Context, c models.Credential) error {
	if m.opts.Store == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	return m.opts.Store.Store(ctx, StoreKey, data)
}

func (m *Manager) loadPersisted(ctx context.Context) (*models.Credential, error) {
	if m.opts.Store == nil {
		return nil, nil
	}
	data, err := m.opts.Store.Retrieve(ctx, StoreKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c models.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode persisted credential: %w", err)
	}
	return &c, nil
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
