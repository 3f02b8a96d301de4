package proxypool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

func addProxy(t *testing.T, m *Manager, provider, host string) *domain.ProxyEndpoint {
	t.Helper()

	ep, err := m.AddProxy(context.Background(), provider, domain.ProxyConfig{
		Scheme: "http",
		Host:   host,
		Port:   8080,
	})
	require.NoError(t, err)

	return ep
}

func TestAddProxyValidation(t *testing.T) {
	m := New(nil, nil)

	cases := []struct {
		name string
		cfg  domain.ProxyConfig
	}{
		{"missing scheme", domain.ProxyConfig{Host: "proxy.local", Port: 8080}},
		{"bad scheme", domain.ProxyConfig{Scheme: "ftp", Host: "proxy.local", Port: 8080}},
		{"missing host", domain.ProxyConfig{Scheme: "http", Port: 8080}},
		{"port too low", domain.ProxyConfig{Scheme: "http", Host: "proxy.local", Port: 0}},
		{"port too high", domain.ProxyConfig{Scheme: "http", Host: "proxy.local", Port: 70000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.AddProxy(context.Background(), "alpha", tc.cfg)
			assert.Error(t, err)
		})
	}

	_, err := m.AddProxy(context.Background(), "", domain.ProxyConfig{
		Scheme: "http", Host: "proxy.local", Port: 8080,
	})
	assert.Error(t, err, "provider id is mandatory")
}

func TestSelectRoundRobinRotates(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")
	b := addProxy(t, m, "alpha", "proxy-b.local")

	var got []string

	for i := 0; i < 3; i++ {
		ep, err := m.Select("alpha")
		require.NoError(t, err)
		got = append(got, ep.ID)
	}

	assert.Equal(t, []string{a.ID, b.ID, a.ID}, got)
}

func TestSelectNoProxies(t *testing.T) {
	m := New(nil, nil)

	_, err := m.Select("alpha")
	assert.ErrorIs(t, err, ErrNoProxy)
}

func TestSelectRandomStaysWithinPool(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")
	b := addProxy(t, m, "alpha", "proxy-b.local")
	require.NoError(t, m.SetStrategy("alpha", domain.StrategyRandom))

	known := map[string]bool{a.ID: true, b.ID: true}

	for i := 0; i < 20; i++ {
		ep, err := m.Select("alpha")
		require.NoError(t, err)
		assert.True(t, known[ep.ID])
	}
}

func TestSelectBestHealthPrefersFasterEndpoint(t *testing.T) {
	m := New(nil, nil)
	fast := addProxy(t, m, "alpha", "proxy-fast.local")
	slow := addProxy(t, m, "alpha", "proxy-slow.local")
	require.NoError(t, m.SetStrategy("alpha", domain.StrategyBestHealth))

	ctx := context.Background()

	m.RecordUsage(ctx, "alpha", fast.ID, true, 100*time.Millisecond)
	m.RecordUsage(ctx, "alpha", slow.ID, true, 4500*time.Millisecond)
	m.RecordUsage(ctx, "alpha", slow.ID, false, 0)

	ep, err := m.Select("alpha")
	require.NoError(t, err)
	assert.Equal(t, fast.ID, ep.ID)
}

func TestSelectBestHealthRotatesOverTiedScores(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")
	b := addProxy(t, m, "alpha", "proxy-b.local")
	require.NoError(t, m.SetStrategy("alpha", domain.StrategyBestHealth))

	// Fresh endpoints all score 1.0, so the tie must rotate instead of
	// pinning every selection to the first entry.
	picks := map[string]int{}

	for i := 0; i < 6; i++ {
		ep, err := m.Select("alpha")
		require.NoError(t, err)
		picks[ep.ID]++
	}

	assert.Equal(t, 3, picks[a.ID])
	assert.Equal(t, 3, picks[b.ID])

	// Once one endpoint pulls ahead, the tie is gone and it wins outright.
	m.RecordUsage(context.Background(), "alpha", b.ID, true, 100*time.Millisecond)
	m.RecordUsage(context.Background(), "alpha", a.ID, false, 0)

	for i := 0; i < 4; i++ {
		ep, err := m.Select("alpha")
		require.NoError(t, err)
		assert.Equal(t, b.ID, ep.ID)
	}
}

func TestRecordUsageDeactivatesAfterConsecutiveFailures(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")
	b := addProxy(t, m, "alpha", "proxy-b.local")

	ctx := context.Background()

	m.RecordUsage(ctx, "alpha", a.ID, false, 0)
	m.RecordUsage(ctx, "alpha", a.ID, false, 0)

	statuses := m.List("alpha")
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Endpoint.Active, "two failures should not deactivate")

	m.RecordUsage(ctx, "alpha", a.ID, false, 0)

	statuses = m.List("alpha")
	assert.False(t, statuses[0].Endpoint.Active, "third consecutive failure should deactivate")
	assert.Equal(t, 3, statuses[0].Health.ConsecutiveFails)

	// rotation must now stick to the surviving endpoint
	for i := 0; i < 4; i++ {
		ep, err := m.Select("alpha")
		require.NoError(t, err)
		assert.Equal(t, b.ID, ep.ID)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")

	ctx := context.Background()

	m.RecordUsage(ctx, "alpha", a.ID, false, 0)
	m.RecordUsage(ctx, "alpha", a.ID, false, 0)
	m.RecordUsage(ctx, "alpha", a.ID, true, 50*time.Millisecond)
	m.RecordUsage(ctx, "alpha", a.ID, false, 0)
	m.RecordUsage(ctx, "alpha", a.ID, false, 0)

	statuses := m.List("alpha")
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Endpoint.Active, "failure streak broken by a success")
	assert.Equal(t, 2, statuses[0].Health.ConsecutiveFails)
}

func TestDeactivatedProxyNeverReturnsOnItsOwn(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordUsage(ctx, "alpha", a.ID, false, 0)
	}

	_, err := m.Select("alpha")
	require.ErrorIs(t, err, ErrNoProxy)

	// even a recorded success must not flip it back
	m.RecordUsage(ctx, "alpha", a.ID, true, 50*time.Millisecond)

	_, err = m.Select("alpha")
	assert.ErrorIs(t, err, ErrNoProxy, "reactivation is manual only")
}

func TestReactivateRestoresRotation(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordUsage(ctx, "alpha", a.ID, false, 0)
	}

	require.NoError(t, m.Reactivate(ctx, "alpha", a.ID))

	ep, err := m.Select("alpha")
	require.NoError(t, err)
	assert.Equal(t, a.ID, ep.ID)

	statuses := m.List("alpha")
	assert.Zero(t, statuses[0].Health.ConsecutiveFails)

	assert.ErrorIs(t, m.Reactivate(ctx, "alpha", "nope"), ErrProxyNotFound)
}

func TestHealthScoreWeighting(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")

	ctx := context.Background()

	m.RecordUsage(ctx, "alpha", a.ID, true, 0)

	score, err := m.HealthScore("alpha", a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 0.001, "perfect rate and instant responses")

	m.RecordUsage(ctx, "alpha", a.ID, false, 0)

	score, err = m.HealthScore("alpha", a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, score, 0.001, "half the success share plus the full response share")

	_, err = m.HealthScore("alpha", "nope")
	assert.ErrorIs(t, err, ErrProxyNotFound)
}

func TestRemoveProxy(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")

	require.NoError(t, m.RemoveProxy(context.Background(), "alpha", a.ID))
	assert.Empty(t, m.List("alpha"))

	assert.ErrorIs(t, m.RemoveProxy(context.Background(), "alpha", a.ID), ErrProxyNotFound)
	assert.ErrorIs(t, m.RemoveProxy(context.Background(), "beta", "x"), ErrProxyNotFound)
}

func TestStatsCountsAcrossProviders(t *testing.T) {
	m := New(nil, nil)
	a := addProxy(t, m, "alpha", "proxy-a.local")
	addProxy(t, m, "alpha", "proxy-b.local")
	addProxy(t, m, "beta", "proxy-c.local")

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordUsage(ctx, "alpha", a.ID, false, 0)
	}

	stats := m.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Disabled)
}
