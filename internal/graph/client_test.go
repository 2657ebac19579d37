package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/models"
)

// fakeTokens hands out "token-N" and bumps N on every forced refresh
type fakeTokens struct {
	mu         sync.Mutex
	generation int
	forced     int
	refreshErr error
}

func (f *fakeTokens) GetValidToken(ctx context.Context) (models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Credential{
		Token:     fmt.Sprintf("token-%d", f.generation),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func (f *fakeTokens) ForceRefresh(ctx context.Context, rejected string) (models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
	if f.refreshErr != nil {
		return models.Credential{}, f.refreshErr
	}
	f.generation++
	return models.Credential{Token: fmt.Sprintf("token-%d", f.generation), ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

func testOptions(baseURL string) Options {
	return Options{
		BaseURL:         baseURL,
		Timeout:         5 * time.Second,
		RateLimit:       1000,
		RateBurst:       100,
		MaxWait:         time.Second,
		MaxRetries:      3,
		BackoffInitial:  time.Millisecond,
		BackoffMax:      5 * time.Millisecond,
		BreakerFailures: 0,
		BreakerTimeout:  time.Minute,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func graphError(code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "OAuthException",
			"code":    code,
		},
	}
}

func collect(t *testing.T, p *Pager) ([]string, int) {
	t.Helper()
	var ids []string
	pages := 0
	for p.More() {
		page, err := p.NextPage(context.Background())
		require.NoError(t, err)
		pages++
		for _, raw := range page.Records {
			var rec struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.Unmarshal(raw, &rec))
			ids = append(ids, rec.ID)
		}
	}
	return ids, pages
}

// pagedServer serves three pages linked by cursors c1 -> c2 -> end
func pagedServer(t *testing.T, hits *int32) *httptest.Server {
	pages := map[string]map[string]interface{}{
		"": {
			"data":   []map[string]string{{"id": "1"}, {"id": "2"}},
			"paging": map[string]interface{}{"cursors": map[string]string{"after": "c1"}, "next": "https://graph/next?after=c1"},
		},
		"c1": {
			"data":   []map[string]string{{"id": "3"}},
			"paging": map[string]interface{}{"cursors": map[string]string{"after": "c2"}, "next": "https://graph/next?after=c2"},
		},
		"c2": {
			"data":   []map[string]string{{"id": "4"}, {"id": "5"}},
			"paging": map[string]interface{}{"cursors": map[string]string{"before": "c1", "after": "c3"}},
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/v20.0/17841/media", r.URL.Path)
		assert.Equal(t, "token-0", r.URL.Query().Get("access_token"))
		assert.Equal(t, "id,like_count", r.URL.Query().Get("fields"))
		page, ok := pages[r.URL.Query().Get("after")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, graphError(100, "unknown cursor"))
			return
		}
		writeJSON(w, http.StatusOK, page)
	}))
}

func TestPager_ConcatenatesPagesInCursorOrder(t *testing.T) {
	var hits int32
	srv := pagedServer(t, &hits)
	defer srv.Close()

	client := NewClient(testOptions(srv.URL+"/v20.0"), &fakeTokens{})
	pager := client.Fetch("/17841/media", url.Values{"fields": {"id,like_count"}})

	ids, pages := collect(t, pager)

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
	assert.Equal(t, 3, pages)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	_, err := pager.NextPage(context.Background())
	assert.ErrorIs(t, err, ErrPagerDone)
}

func TestPager_Caps(t *testing.T) {
	tests := []struct {
		name          string
		opts          []FetchOption
		expectedIDs   []string
		expectedPages int
		truncated     bool
	}{
		{
			name:          "page cap",
			opts:          []FetchOption{WithMaxPages(2)},
			expectedIDs:   []string{"1", "2", "3"},
			expectedPages: 2,
			truncated:     true,
		},
		{
			name:          "page cap beyond the last page",
			opts:          []FetchOption{WithMaxPages(3)},
			expectedIDs:   []string{"1", "2", "3", "4", "5"},
			expectedPages: 3,
		},
		{
			name:          "record cap inside a page",
			opts:          []FetchOption{WithMaxRecords(4)},
			expectedIDs:   []string{"1", "2", "3", "4"},
			expectedPages: 3,
			truncated:     true,
		},
		{
			name:          "record cap on page boundary",
			opts:          []FetchOption{WithMaxRecords(2)},
			expectedIDs:   []string{"1", "2"},
			expectedPages: 1,
			truncated:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := pagedServer(t, &hits)
			defer srv.Close()

			client := NewClient(testOptions(srv.URL+"/v20.0"), &fakeTokens{})
			pager := client.Fetch("/17841/media", url.Values{"fields": {"id,like_count"}}, tt.opts...)
			ids, pages := collect(t, pager)

			assert.Equal(t, tt.expectedIDs, ids)
			assert.Equal(t, tt.expectedPages, pages)
			assert.Equal(t, tt.truncated, pager.Truncated())
			assert.Equal(t, int32(tt.expectedPages), atomic.LoadInt32(&hits))
		})
	}
}

func TestPager_InsightsTimeLinksAreNotFollowed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": []map[string]string{{"id": "17841/insights/reach/day"}},
			"paging": map[string]string{
				"previous": "https://graph/insights?since=1&until=2",
				"next":     "https://graph/insights?since=3&until=4",
			},
		})
	}))
	defer srv.Close()

	client := NewClient(testOptions(srv.URL), &fakeTokens{})
	ids, pages := collect(t, client.Fetch("/17841/insights", nil))

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, pages)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			writeJSON(w, http.StatusServiceUnavailable, graphError(2, "Service temporarily unavailable"))
		case 2:
			writeJSON(w, http.StatusTooManyRequests, graphError(4, "Application request limit reached"))
		default:
			writeJSON(w, http.StatusOK, map[string]string{"id": "17841"})
		}
	}))
	defer srv.Close()

	client := NewClient(testOptions(srv.URL), &fakeTokens{})
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, client.Get(context.Background(), "/17841", nil, &out))

	assert.Equal(t, "17841", out.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_ExhaustedRetriesAreUpstreamUnavailable(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(testOptions(srv.URL), &fakeTokens{})
	err := client.Get(context.Background(), "/17841", nil, &struct{}{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUpstreamUnavailable))
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits)) // first attempt + 3 retries
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusBadRequest, graphError(100, "(#100) metric[0] must be one of the following values"))
	}))
	defer srv.Close()

	client := NewClient(testOptions(srv.URL), &fakeTokens{})
	_, err := client.Fetch("/17841/insights", nil).NextPage(context.Background())

	require.Error(t, err)
	assert.Equal(t, errs.InvalidRequest, errs.KindOf(err))
	assert.Contains(t, err.Error(), "must be one of the following values")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_AuthExpiredRefreshesOnce(t *testing.T) {
	t.Run("retry succeeds with refreshed token", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			if r.URL.Query().Get("access_token") == "token-0" {
				writeJSON(w, http.StatusBadRequest, graphError(190, "Error validating access token: Session has expired"))
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"id": "17841"})
		}))
		defer srv.Close()

		tokens := &fakeTokens{}
		client := NewClient(testOptions(srv.URL), tokens)
		require.NoError(t, client.Get(context.Background(), "/17841", nil, &struct{}{}))

		assert.Equal(t, 1, tokens.forced)
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})

	t.Run("second rejection surfaces AuthExpired", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		tokens := &fakeTokens{}
		client := NewClient(testOptions(srv.URL), tokens)
		err := client.Get(context.Background(), "/17841", nil, &struct{}{})

		assert.True(t, errors.Is(err, errs.ErrAuthExpired))
		assert.Equal(t, 1, tokens.forced)
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})

	t.Run("failed refresh surfaces AuthExpired", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		tokens := &fakeTokens{refreshErr: errs.New(errs.CredentialUnavailable, "exchange failed")}
		client := NewClient(testOptions(srv.URL), tokens)
		err := client.Get(context.Background(), "/17841", nil, &struct{}{})

		assert.Equal(t, errs.AuthExpired, errs.KindOf(err))
		assert.Equal(t, 1, tokens.forced)
	})
}

func TestClient_RetryAfterBeyondMaxWait(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(testOptions(srv.URL), &fakeTokens{})
	err := client.Get(context.Background(), "/17841", nil, &struct{}{})

	assert.Equal(t, errs.RateLimited, errs.KindOf(err))
	assert.Equal(t, 120*time.Second, errs.RetryAfterOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_RateLimitAdmission(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusOK, map[string]string{"id": "17841"})
	}))
	defer srv.Close()

	t.Run("wait beyond max wait is rejected", func(t *testing.T) {
		atomic.StoreInt32(&hits, 0)
		opts := testOptions(srv.URL)
		opts.RateLimit = 0.01 // one token per 100s
		opts.RateBurst = 1
		opts.MaxWait = 10 * time.Millisecond
		client := NewClient(opts, &fakeTokens{})

		require.NoError(t, client.Get(context.Background(), "/17841", nil, &struct{}{}))
		err := client.Get(context.Background(), "/17841", nil, &struct{}{})

		assert.Equal(t, errs.RateLimited, errs.KindOf(err))
		assert.Greater(t, errs.RetryAfterOf(err), time.Duration(0))
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("limiter shared between clients", func(t *testing.T) {
		atomic.StoreInt32(&hits, 0)
		opts := testOptions(srv.URL)
		opts.Limiter = NewLimiter(0.01, 1, 10*time.Millisecond)
		first := NewClient(opts, &fakeTokens{})
		second := NewClient(opts, &fakeTokens{})

		require.NoError(t, first.Get(context.Background(), "/17841", nil, &struct{}{}))
		err := second.Get(context.Background(), "/17841", nil, &struct{}{})

		assert.Equal(t, errs.RateLimited, errs.KindOf(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("deadline shorter than wait", func(t *testing.T) {
		atomic.StoreInt32(&hits, 0)
		opts := testOptions(srv.URL)
		opts.RateLimit = 0.01
		opts.RateBurst = 1
		opts.MaxWait = time.Hour
		client := NewClient(opts, &fakeTokens{})

		require.NoError(t, client.Get(context.Background(), "/17841", nil, &struct{}{}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := client.Get(ctx, "/17841", nil, &struct{}{})

		assert.Equal(t, errs.DeadlineExceeded, errs.KindOf(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})
}

func TestClient_DeadlineDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.BackoffInitial = time.Second
	opts.BackoffMax = time.Second
	client := NewClient(opts, &fakeTokens{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Get(ctx, "/17841", nil, &struct{}{})

	assert.Equal(t, errs.DeadlineExceeded, errs.KindOf(err))
}

func TestClient_CircuitBreakerOpensOnOutage(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.MaxRetries = 0
	opts.BreakerFailures = 2
	client := NewClient(opts, &fakeTokens{})

	for i := 0; i < 2; i++ {
		err := client.Get(context.Background(), "/17841", nil, &struct{}{})
		assert.Equal(t, errs.UpstreamUnavailable, errs.KindOf(err))
	}

	err := client.Get(context.Background(), "/17841", nil, &struct{}{})
	assert.Equal(t, errs.UpstreamUnavailable, errs.KindOf(err))
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 9, 11, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5", now))
	assert.Equal(t, time.Minute, parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "insights", endpointLabel("/17841/insights"))
	assert.Equal(t, "media", endpointLabel("/17841/media"))
	assert.Equal(t, "object", endpointLabel("/17841"))
}
