package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/proxypool"
)

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	c := New(Config{})

	resp, err := c.Fetch(context.Background(), "alpha", srv.URL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "ok")
	assert.Empty(t, resp.ProxyID, "no pool configured means direct connection")
}

func TestFetchMapsTooManyRequestsToThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{})

	_, err := c.Fetch(context.Background(), "alpha", srv.URL)

	var throttle *domain.ThrottleError

	require.ErrorAs(t, err, &throttle)
	assert.Equal(t, http.StatusTooManyRequests, throttle.StatusCode)
}

func TestFetchDetectsChallengePage(t *testing.T) {
	challenged := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><title>Just a moment...</title></html>"))
	}))
	defer srv.Close()

	c := New(Config{
		OnChallenge: func(providerID string, statusCode int) {
			challenged++
			assert.Equal(t, "alpha", providerID)
			assert.Equal(t, http.StatusForbidden, statusCode)
		},
	})

	_, err := c.Fetch(context.Background(), "alpha", srv.URL)

	var throttle *domain.ThrottleError

	require.ErrorAs(t, err, &throttle)
	assert.Equal(t, 1, challenged)
}

func TestFetchForbiddenWithContentIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><body>members only area, nothing suspicious</body></html>"))
	}))
	defer srv.Close()

	c := New(Config{})

	_, err := c.Fetch(context.Background(), "alpha", srv.URL)

	var transport *domain.TransportError

	assert.ErrorAs(t, err, &transport)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, "alpha", srv.URL)

	var timeout *domain.TimeoutError

	assert.ErrorAs(t, err, &timeout)
}

func TestFetchFeedsProxyHealth(t *testing.T) {
	pools := proxypool.New(nil, nil)

	// port 9 is discard; nothing listens there in practice
	ep, err := pools.AddProxy(context.Background(), "alpha", domain.ProxyConfig{
		Scheme: "http",
		Host:   "127.0.0.1",
		Port:   9,
	})
	require.NoError(t, err)

	c := New(Config{Pools: pools, Timeout: 2 * time.Second})

	_, err = c.Fetch(context.Background(), "alpha", "http://unreachable.invalid/")

	var transport *domain.TransportError

	require.ErrorAs(t, err, &transport)

	statuses := pools.List("alpha")
	require.Len(t, statuses, 1)
	assert.Equal(t, ep.ID, statuses[0].Endpoint.ID)
	assert.Equal(t, 1, statuses[0].Health.ConsecutiveFails)
	assert.Equal(t, 1, statuses[0].Health.FailureCount)
}

func TestProbeUsesBaseURL(t *testing.T) {
	hits := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/", r.URL.Path)
	}))
	defer srv.Close()

	c := New(Config{})

	ms, err := c.Probe(context.Background(), &domain.ProviderDescriptor{
		ID:      "alpha",
		Name:    "Alpha",
		BaseURL: srv.URL + "/",
		Tier:    domain.TierPrimary,
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, int64(0))
	assert.Equal(t, 1, hits)
}
