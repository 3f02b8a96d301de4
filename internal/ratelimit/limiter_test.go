package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	l := New(nil)
	t.Cleanup(l.Close)

	return l
}

func TestCheckAdmissionUnconfiguredProviderIsUnlimited(t *testing.T) {
	l := newTestLimiter(t)

	for i := 0; i < 500; i++ {
		l.RecordRequest("ghost")
		decision := l.CheckAdmission("ghost")
		require.True(t, decision.Allowed)
	}

	assert.Nil(t, l.Stats("ghost"))
}

func TestCheckAdmissionDeniesAfterWindowLimit(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{
		Limit:       3,
		Window:      time.Minute,
		BurstLimit:  10,
		BurstWindow: 100 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		decision := l.CheckAdmission("alpha")
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
		l.RecordRequest("alpha")
	}

	decision := l.CheckAdmission("alpha")
	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonRateLimit, decision.Reason)
	assert.Greater(t, decision.Wait, time.Duration(0))
	assert.LessOrEqual(t, decision.Wait, time.Minute)
}

func TestCheckAdmissionWindowSlides(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{
		Limit:       2,
		Window:      80 * time.Millisecond,
		BurstLimit:  10,
		BurstWindow: 10 * time.Millisecond,
	})

	l.RecordRequest("alpha")
	l.RecordRequest("alpha")
	require.False(t, l.CheckAdmission("alpha").Allowed)

	time.Sleep(120 * time.Millisecond)

	assert.True(t, l.CheckAdmission("alpha").Allowed, "expired entries should free the window")
}

func TestCheckAdmissionBurstDeniesBeforeWindow(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{
		Limit:       100,
		Window:      time.Minute,
		BurstLimit:  2,
		BurstWindow: 200 * time.Millisecond,
	})

	l.RecordRequest("alpha")
	l.RecordRequest("alpha")

	decision := l.CheckAdmission("alpha")
	require.False(t, decision.Allowed, "burst should deny while the window still has room")
	assert.Equal(t, domain.ReasonBurstLimit, decision.Reason)

	time.Sleep(250 * time.Millisecond)

	assert.True(t, l.CheckAdmission("alpha").Allowed, "burst sub-window should recover on its own")
}

func TestEnqueueRunsAdmittedTaskInline(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{Limit: 10, Window: time.Minute})

	ran := false
	err := l.Enqueue(context.Background(), "alpha", 0, func(ctx context.Context) error {
		ran = true

		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)

	wantErr := errors.New("upstream exploded")
	err = l.Enqueue(context.Background(), "alpha", 0, func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestEnqueueUnconfiguredProviderRunsImmediately(t *testing.T) {
	l := newTestLimiter(t)

	ran := false
	err := l.Enqueue(context.Background(), "ghost", 0, func(ctx context.Context) error {
		ran = true

		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{
		Limit:         1,
		Window:        time.Minute,
		BurstLimit:    1,
		BurstWindow:   time.Minute,
		QueueCapacity: 2,
	})

	require.NoError(t, l.Enqueue(context.Background(), "alpha", 0, func(ctx context.Context) error {
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = l.Enqueue(ctx, "alpha", 0, func(ctx context.Context) error { return nil })
		}()
	}

	require.Eventually(t, func() bool {
		return l.Stats("alpha").QueueLength == 2
	}, time.Second, 5*time.Millisecond)

	err := l.Enqueue(context.Background(), "alpha", 0, func(ctx context.Context) error { return nil })

	var full *domain.QueueFullError

	require.ErrorAs(t, err, &full)
	assert.Equal(t, "alpha", full.ProviderID)
	assert.Equal(t, 2, full.Capacity)

	cancel()
	wg.Wait()

	stats := l.Stats("alpha")
	assert.EqualValues(t, 1, stats.TotalRejected)
}

func TestEnqueueDrainsHighestPriorityFirst(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{
		Limit:         1,
		Window:        150 * time.Millisecond,
		BurstLimit:    1,
		BurstWindow:   150 * time.Millisecond,
		QueueCapacity: 10,
	})

	// occupy the single window slot so the next two tasks queue up
	require.NoError(t, l.Enqueue(context.Background(), "alpha", 0, func(ctx context.Context) error {
		return nil
	}))

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)

	record := func(name string) Task {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()

			return nil
		}
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = l.Enqueue(context.Background(), "alpha", 1, record("low"))
	}()

	require.Eventually(t, func() bool {
		return l.Stats("alpha").QueueLength == 1
	}, time.Second, 5*time.Millisecond)

	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = l.Enqueue(context.Background(), "alpha", 5, record("high"))
	}()

	require.Eventually(t, func() bool {
		return l.Stats("alpha").QueueLength == 2
	}, time.Second, 5*time.Millisecond)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []string{"high", "low"}, order,
		"the later high-priority task should overtake the earlier low-priority one")
}

func TestEnqueueHonoursCallerContext(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{
		Limit:       1,
		Window:      time.Minute,
		BurstLimit:  1,
		BurstWindow: time.Minute,
	})

	require.NoError(t, l.Enqueue(context.Background(), "alpha", 0, func(ctx context.Context) error {
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Enqueue(ctx, "alpha", 0, func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStatsCountsActivity(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{Limit: 5, Window: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Enqueue(context.Background(), "alpha", 0, func(ctx context.Context) error {
			return nil
		}))
	}

	stats := l.Stats("alpha")
	require.NotNil(t, stats)
	assert.Equal(t, "alpha", stats.ProviderID)
	assert.Equal(t, 5, stats.Limit)
	assert.EqualValues(t, 3, stats.TotalRequests)
	assert.Equal(t, 3, stats.WindowCount)
	assert.Zero(t, stats.QueueLength)
}

func TestSnapshotListsConfiguredProviders(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{})
	l.Configure("beta", domain.RateLimitConfig{})

	snap := l.Snapshot()
	require.Len(t, snap, 2)

	seen := map[string]bool{}
	for _, s := range snap {
		seen[s.ProviderID] = true
		assert.Equal(t, domain.DefaultRateLimit, s.Limit)
	}

	assert.True(t, seen["alpha"])
	assert.True(t, seen["beta"])
}

func TestConfigurePreservesWindowHistory(t *testing.T) {
	l := newTestLimiter(t)
	l.Configure("alpha", domain.RateLimitConfig{Limit: 2, Window: time.Minute, BurstLimit: 10})

	l.RecordRequest("alpha")
	l.RecordRequest("alpha")
	require.False(t, l.CheckAdmission("alpha").Allowed)

	l.Configure("alpha", domain.RateLimitConfig{Limit: 3, Window: time.Minute, BurstLimit: 10})

	assert.True(t, l.CheckAdmission("alpha").Allowed, "raising the limit should apply to existing history")
	assert.Equal(t, 2, l.Stats("alpha").WindowCount, "history should survive reconfiguration")
}
