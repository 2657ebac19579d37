package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/graph"
)

func newTestRefresher(t *testing.T, handler http.HandlerFunc) *GraphRefresher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	r := NewGraphRefresher(server.URL+"/v20.0", "app-1", "secret-1", 60*24*time.Hour)
	r.now = func() time.Time { return testNow }
	return r
}

func TestGraphRefresher_Exchange(t *testing.T) {
	r := newTestRefresher(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v20.0/oauth/access_token", req.URL.Path)
		q := req.URL.Query()
		assert.Equal(t, "fb_exchange_token", q.Get("grant_type"))
		assert.Equal(t, "app-1", q.Get("client_id"))
		assert.Equal(t, "secret-1", q.Get("client_secret"))
		assert.Equal(t, "old-token", q.Get("fb_exchange_token"))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "new-token",
			"token_type":   "bearer",
			"expires_in":   5183944,
		})
	})

	cred, err := r.Exchange(context.Background(), "old-token")

	require.NoError(t, err)
	assert.Equal(t, "new-token", cred.Token)
	assert.Equal(t, testNow, cred.IssuedAt)
	assert.Equal(t, testNow.Add(5183944*time.Second), cred.ExpiresAt)
}

func TestGraphRefresher_ExchangeDefaultsLifetime(t *testing.T) {
	r := newTestRefresher(t, func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "new-token"})
	})

	cred, err := r.Exchange(context.Background(), "old-token")

	require.NoError(t, err)
	assert.Equal(t, testNow.Add(60*24*time.Hour), cred.ExpiresAt)
}

func TestGraphRefresher_ExchangeErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected errs.Kind
	}{
		{
			name:     "rejected token",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`,
			expected: errs.CredentialUnavailable,
		},
		{
			name:     "server error",
			status:   http.StatusServiceUnavailable,
			body:     `{"error":{"message":"Service temporarily unavailable","code":2}}`,
			expected: errs.UpstreamUnavailable,
		},
		{
			name:     "missing token",
			status:   http.StatusOK,
			body:     `{"token_type":"bearer"}`,
			expected: errs.CredentialUnavailable,
		},
		{
			name:     "malformed body",
			status:   http.StatusOK,
			body:     `not json`,
			expected: errs.UpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRefresher(t, func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := r.Exchange(context.Background(), "old-token")

			require.Error(t, err)
			assert.Equal(t, tt.expected, errs.KindOf(err))
		})
	}
}

func TestGraphRefresher_Inspect(t *testing.T) {
	issued := testNow.Add(-24 * time.Hour).Unix()
	expires := testNow.Add(50 * 24 * time.Hour).Unix()

	r := newTestRefresher(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v20.0/debug_token", req.URL.Path)
		assert.Equal(t, "held-token", req.URL.Query().Get("input_token"))
		assert.Equal(t, "app-1|secret-1", req.URL.Query().Get("access_token"))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"app_id":     "app-1",
				"type":       "USER",
				"is_valid":   true,
				"issued_at":  issued,
				"expires_at": expires,
				"scopes":     []string{"instagram_basic", "instagram_manage_insights"},
			},
		})
	})

	info, err := r.Inspect(context.Background(), "held-token")

	require.NoError(t, err)
	assert.True(t, info.IsValid)
	assert.Equal(t, "USER", info.Type)
	assert.Equal(t, time.Unix(issued, 0).UTC(), info.IssuedAt)
	assert.Equal(t, time.Unix(expires, 0).UTC(), info.ExpiresAt)
	assert.Contains(t, info.Scopes, "instagram_manage_insights")
}

func TestGraphRefresher_InspectNeverExpires(t *testing.T) {
	r := newTestRefresher(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"is_valid":true,"expires_at":0}}`))
	})

	info, err := r.Inspect(context.Background(), "held-token")

	require.NoError(t, err)
	assert.True(t, info.ExpiresAt.IsZero())
}

func TestGraphRefresher_SharesRateLimit(t *testing.T) {
	var hits atomic.Int32
	r := newTestRefresher(t, func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "new-token"})
	})
	// one call per 100s, waits longer than 10ms are rejected
	r.WithLimiter(graph.NewLimiter(0.01, 1, 10*time.Millisecond))

	_, err := r.Exchange(context.Background(), "old-token")
	require.NoError(t, err)

	_, err = r.Exchange(context.Background(), "old-token")
	assert.Equal(t, errs.RateLimited, errs.KindOf(err))

	_, err = r.Inspect(context.Background(), "old-token")
	assert.Equal(t, errs.RateLimited, errs.KindOf(err))

	assert.Equal(t, int32(1), hits.Load())
}
