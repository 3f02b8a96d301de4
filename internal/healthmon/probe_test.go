package healthmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

func probeTarget(url string) *domain.ProviderDescriptor {
	return &domain.ProviderDescriptor{ID: "alpha", Name: "Alpha", BaseURL: url, Tier: domain.TierPrimary}
}

func TestHTTPProberSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ms, err := NewHTTPProber(srv.Client()).Probe(context.Background(), probeTarget(srv.URL))

	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, int64(0))
}

func TestHTTPProberThrottleStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPProber(srv.Client()).Probe(context.Background(), probeTarget(srv.URL))

	var throttle *domain.ThrottleError

	require.ErrorAs(t, err, &throttle)
	assert.Equal(t, http.StatusServiceUnavailable, throttle.StatusCode)
	assert.True(t, domain.IsHealthAffecting(err))
}

func TestHTTPProberServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPProber(srv.Client()).Probe(context.Background(), probeTarget(srv.URL))

	var transport *domain.TransportError

	assert.ErrorAs(t, err, &transport)
}

func TestHTTPProberTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPProber(srv.Client()).Probe(ctx, probeTarget(srv.URL))

	var timeout *domain.TimeoutError

	assert.ErrorAs(t, err, &timeout)
}

func TestHTTPProberConnectionRefused(t *testing.T) {
	// bind then close so the port is very likely unoccupied
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPProber(nil).Probe(context.Background(), probeTarget(url))

	var transport *domain.TransportError

	assert.ErrorAs(t, err, &transport)
}
