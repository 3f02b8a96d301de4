// Package ratelimit gates outbound provider requests with a sliding window,
// a burst sub-window and a bounded priority queue, all per provider. No
// network calls originate here; the limiter only schedules caller-supplied
// closures.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/metrics"
)

// Task is a unit of work executed under admission control
type Task func(ctx context.Context) error

// Limiter owns one rate-limit state per configured provider. Each state sits
// behind its own mutex so a busy provider never blocks bookkeeping for
// another. Unconfigured providers are unlimited.
type Limiter struct {
	mu     sync.RWMutex
	states map[string]*state

	stop     chan struct{}
	stopOnce sync.Once

	met *metrics.Metrics
	log zerolog.Logger
}

// state is the mutable rate-limit bookkeeping for one provider. Created on
// first Configure and kept for the life of the process.
type state struct {
	mu  sync.Mutex
	cfg domain.RateLimitConfig

	window []time.Time
	burst  []time.Time
	queue  []*queueItem
	seq    uint64

	totalRequests int64
	totalQueued   int64
	totalRejected int64

	// wake nudges the drain loop after enqueue or recorded requests
	wake chan struct{}
}

// New creates a limiter. Metrics may be nil.
func New(met *metrics.Metrics) *Limiter {
	return &Limiter{
		states: make(map[string]*state),
		stop:   make(chan struct{}),
		met:    met,
		log:    logging.WithComponent("RateLimiter"),
	}
}

// Configure creates or updates the rate-limit state for a provider. Zero
// config fields fall back to defaults. Idempotent; reconfiguring preserves
// the window history and any queued requests.
func (l *Limiter) Configure(providerID string, cfg domain.RateLimitConfig) {
	cfg = cfg.WithDefaults()

	l.mu.Lock()
	st, ok := l.states[providerID]
	if !ok {
		st = &state{
			cfg:  cfg,
			wake: make(chan struct{}, 1),
		}
		l.states[providerID] = st
		go l.drainLoop(providerID, st)
		l.mu.Unlock()

		l.log.Debug().Str("provider", providerID).Int("limit", cfg.Limit).
			Dur("window", cfg.Window).Int("burst", cfg.BurstLimit).
			Msg("rate limit configured")

		return
	}
	l.mu.Unlock()

	st.mu.Lock()
	st.cfg = cfg
	st.mu.Unlock()

	st.nudge()
}

// CheckAdmission prunes expired window entries and reports whether a request
// may proceed right now. It does not record anything.
func (l *Limiter) CheckAdmission(providerID string) domain.AdmissionDecision {
	st := l.state(providerID)
	if st == nil {
		return domain.AdmissionDecision{Allowed: true}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return st.checkLocked(time.Now())
}

// RecordRequest appends the current timestamp to the window and burst
// sub-window. Call it for every admitted request. No-op for unconfigured
// providers.
func (l *Limiter) RecordRequest(providerID string) {
	st := l.state(providerID)
	if st == nil {
		return
	}

	st.mu.Lock()
	st.recordLocked(time.Now())
	st.mu.Unlock()

	st.nudge()
}

// Enqueue runs the task under admission control. Admitted tasks execute
// immediately in the caller's goroutine. Denied tasks wait in the bounded
// priority queue until the drain loop admits them; a full queue fails fast
// with QueueFullError. The returned error is the task's own error, the queue
// failure, or ctx's error if the caller gave up while queued.
func (l *Limiter) Enqueue(ctx context.Context, providerID string, priority int, task Task) error {
	st := l.state(providerID)
	if st == nil {
		return task(ctx)
	}

	now := time.Now()

	st.mu.Lock()

	decision := st.checkLocked(now)
	if decision.Allowed {
		st.recordLocked(now)
		st.mu.Unlock()

		l.met.RecordAdmission(providerID, "allowed")

		return task(ctx)
	}

	l.met.RecordAdmission(providerID, string(decision.Reason))

	if len(st.queue) >= st.cfg.QueueCapacity {
		st.totalRejected++
		capacity := st.cfg.QueueCapacity
		st.mu.Unlock()

		l.met.RecordQueueRejected(providerID)

		return &domain.QueueFullError{ProviderID: providerID, Capacity: capacity}
	}

	item := &queueItem{
		priority: priority,
		seq:      st.seq,
		task:     task,
		ctx:      ctx,
		done:     make(chan error, 1),
	}
	st.seq++
	st.insertLocked(item)
	st.totalQueued++
	depth := len(st.queue)
	st.mu.Unlock()

	l.met.SetQueueDepth(providerID, depth)
	st.nudge()

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		item.cancel()

		return ctx.Err()
	}
}

// Stats returns the limiter snapshot for one provider, or nil when the
// provider is unconfigured.
func (l *Limiter) Stats(providerID string) *domain.RateLimitStats {
	st := l.state(providerID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.pruneLocked(now)

	return &domain.RateLimitStats{
		ProviderID:    providerID,
		Limit:         st.cfg.Limit,
		WindowMs:      st.cfg.Window.Milliseconds(),
		BurstLimit:    st.cfg.BurstLimit,
		WindowCount:   len(st.window),
		BurstCount:    len(st.burst),
		QueueLength:   len(st.queue),
		QueueCapacity: st.cfg.QueueCapacity,
		TotalRequests: st.totalRequests,
		TotalQueued:   st.totalQueued,
		TotalRejected: st.totalRejected,
	}
}

// Snapshot returns stats for every configured provider
func (l *Limiter) Snapshot() []*domain.RateLimitStats {
	l.mu.RLock()
	ids := make([]string, 0, len(l.states))
	for id := range l.states {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	out := make([]*domain.RateLimitStats, 0, len(ids))

	for _, id := range ids {
		if s := l.Stats(id); s != nil {
			out = append(out, s)
		}
	}

	return out
}

// Close stops all drain loops. Queued tasks that were not yet admitted
// receive no result; their callers exit through their own contexts.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// state looks up the per-provider state without creating it
func (l *Limiter) state(providerID string) *state {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.states[providerID]
}

// drainLoop executes queued tasks for one provider as admission allows. It
// sleeps until the earliest time admission may change and also reacts to
// wake nudges from Enqueue and RecordRequest.
func (l *Limiter) drainLoop(providerID string, st *state) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		wait := l.drain(providerID, st)

		if wait > 0 {
			timer.Reset(wait)

			select {
			case <-l.stop:
				timer.Stop()

				return
			case <-st.wake:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			case <-timer.C:
			}

			continue
		}

		select {
		case <-l.stop:
			return
		case <-st.wake:
		}
	}
}

// drain pops and executes ready tasks until the queue empties or admission
// denies. Returns how long to wait before the next attempt; zero means the
// queue is empty.
func (l *Limiter) drain(providerID string, st *state) time.Duration {
	for {
		now := time.Now()

		st.mu.Lock()

		st.dropCancelledLocked()

		if len(st.queue) == 0 {
			st.mu.Unlock()
			l.met.SetQueueDepth(providerID, 0)

			return 0
		}

		decision := st.checkLocked(now)
		if !decision.Allowed {
			st.mu.Unlock()

			wait := decision.Wait
			if wait <= 0 {
				wait = 10 * time.Millisecond
			}

			return wait
		}

		item := st.popLocked()
		st.recordLocked(now)
		depth := len(st.queue)
		st.mu.Unlock()

		l.met.SetQueueDepth(providerID, depth)
		l.met.RecordDrained(providerID)

		err := item.task(item.ctx)
		item.deliver(err)
	}
}

// checkLocked applies the admission rules against a pruned window. Burst
// exhaustion wins over the main window so short spikes surface as
// burst_limit even when the window still has room.
func (st *state) checkLocked(now time.Time) domain.AdmissionDecision {
	st.pruneLocked(now)

	if len(st.burst) >= st.cfg.BurstLimit {
		return domain.AdmissionDecision{
			Allowed: false,
			Reason:  domain.ReasonBurstLimit,
			Wait:    st.cfg.BurstWindow - now.Sub(st.burst[0]),
		}
	}

	if len(st.window) >= st.cfg.Limit {
		return domain.AdmissionDecision{
			Allowed: false,
			Reason:  domain.ReasonRateLimit,
			Wait:    st.cfg.Window - now.Sub(st.window[0]),
		}
	}

	return domain.AdmissionDecision{Allowed: true}
}

// pruneLocked drops window entries older than their interval
func (st *state) pruneLocked(now time.Time) {
	for len(st.window) > 0 && now.Sub(st.window[0]) >= st.cfg.Window {
		st.window = st.window[1:]
	}

	for len(st.burst) > 0 && now.Sub(st.burst[0]) >= st.cfg.BurstWindow {
		st.burst = st.burst[1:]
	}
}

// recordLocked appends a request timestamp to both windows
func (st *state) recordLocked(now time.Time) {
	st.window = append(st.window, now)
	st.burst = append(st.burst, now)
	st.totalRequests++
}

// nudge wakes the drain loop without blocking
func (st *state) nudge() {
	select {
	case st.wake <- struct{}{}:
	default:
	}
}
