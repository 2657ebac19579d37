package insights

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/graph"
)

func newPageClient(t *testing.T, body string) *graph.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v20.0/1122334455", r.URL.Path)
		assert.Equal(t, "instagram_business_account", r.URL.Query().Get("fields"))
		assert.Equal(t, "test-token", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return graph.NewClient(graph.Options{
		BaseURL:        server.URL + "/v20.0",
		Timeout:        5 * time.Second,
		RateLimit:      100,
		RateBurst:      10,
		MaxWait:        time.Second,
		BackoffInitial: time.Millisecond,
		BackoffMax:     time.Millisecond,
		BreakerTimeout: time.Minute,
	}, staticTokens{})
}

func TestResolveAccountID(t *testing.T) {
	client := newPageClient(t, `{"instagram_business_account":{"id":"17841400000000"},"id":"1122334455"}`)

	id, err := ResolveAccountID(context.Background(), client, "1122334455")

	require.NoError(t, err)
	assert.Equal(t, "17841400000000", id)
}

func TestResolveAccountID_NoLinkedAccount(t *testing.T) {
	client := newPageClient(t, `{"id":"1122334455"}`)

	_, err := ResolveAccountID(context.Background(), client, "1122334455")

	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestResolveAccountID_RequiresPage(t *testing.T) {
	_, err := ResolveAccountID(context.Background(), nil, "")
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}
