package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/cache"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/queue"
)

type fakeSearcher struct {
	mu      sync.Mutex
	calls   int
	results []domain.Metadata
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return &domain.SearchResponse{
		Query:   query,
		Mode:    opts.Mode,
		Status:  domain.StatusHealthy,
		Results: f.results,
	}, nil
}

func (f *fakeSearcher) Stats() domain.SearchStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return domain.SearchStats{Total: int64(f.calls)}
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type captureQueue struct {
	payloads []*queue.RefreshPayload
}

func (c *captureQueue) EnqueueRefresh(_ context.Context, p *queue.RefreshPayload) error {
	c.payloads = append(c.payloads, p)

	return nil
}

type fakeDedup struct {
	mu        sync.Mutex
	marks     map[string]bool
	forgotten int
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{marks: make(map[string]bool)}
}

func (f *fakeDedup) IsDuplicate(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.marks[key] {
		return true, nil
	}

	f.marks[key] = true

	return false, nil
}

func (f *fakeDedup) Forget(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.marks, key)
	f.forgotten++

	return nil
}

func TestSearchServesCachedResponse(t *testing.T) {
	searcher := &fakeSearcher{results: []domain.Metadata{{Title: "Berserk", SourceID: "alpha"}}}
	svc := NewSearchService(searcher, cache.NewMemoryCache(), nil)

	ctx := context.Background()

	first, err := svc.Search(ctx, "berserk", domain.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, first.Results, 1)

	second, err := svc.Search(ctx, "berserk", domain.SearchOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)

	assert.Equal(t, 1, searcher.callCount(), "cached search must not hit the aggregator")
	assert.Equal(t, int64(1), svc.Stats().CacheHits)
}

func TestSearchDefaultModeSharesCacheEntry(t *testing.T) {
	searcher := &fakeSearcher{results: []domain.Metadata{{Title: "Berserk"}}}
	svc := NewSearchService(searcher, cache.NewMemoryCache(), nil)

	ctx := context.Background()

	_, err := svc.Search(ctx, "berserk", domain.SearchOptions{})
	require.NoError(t, err)

	// An explicit fallback mode is the same logical search as the default.
	resp, err := svc.Search(ctx, "Berserk ", domain.SearchOptions{Mode: domain.SearchModeFallback})
	require.NoError(t, err)

	assert.True(t, resp.Cached)
	assert.Equal(t, 1, searcher.callCount())
}

func TestSearchWithoutCache(t *testing.T) {
	searcher := &fakeSearcher{results: []domain.Metadata{{Title: "Berserk"}}}
	svc := NewSearchService(searcher, nil, nil)

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := svc.Search(ctx, "berserk", domain.SearchOptions{})
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}

	assert.Equal(t, 2, searcher.callCount())
}

func TestRefreshCollapsesDuplicates(t *testing.T) {
	searcher := &fakeSearcher{}
	q := &captureQueue{}
	dedup := newFakeDedup()
	svc := NewSearchServiceWithRefresh(searcher, cache.NewMemoryCache(), nil, q, dedup, nil)

	ctx := context.Background()

	payload, err := svc.Refresh(ctx, RefreshRequest{Query: "berserk"})
	require.NoError(t, err)
	assert.Equal(t, "berserk", payload.Query)
	assert.Equal(t, domain.SearchModeFallback, payload.Mode)
	require.Len(t, q.payloads, 1)

	_, err = svc.Refresh(ctx, RefreshRequest{Query: "berserk"})
	assert.ErrorIs(t, err, ErrRefreshPending)
	assert.Len(t, q.payloads, 1)

	// Completing the refresh releases the mark for the next request.
	require.NoError(t, svc.ExecuteRefresh(ctx, payload))

	_, err = svc.Refresh(ctx, RefreshRequest{Query: "berserk"})
	require.NoError(t, err)
	assert.Len(t, q.payloads, 2)
}

func TestRefreshWithoutQueue(t *testing.T) {
	svc := NewSearchService(&fakeSearcher{}, nil, nil)

	_, err := svc.Refresh(context.Background(), RefreshRequest{Query: "berserk"})
	assert.ErrorIs(t, err, ErrRefreshUnavailable)
}

func TestExecuteRefreshRewritesCache(t *testing.T) {
	searcher := &fakeSearcher{results: []domain.Metadata{{Title: "Old"}}}
	dedup := newFakeDedup()
	svc := NewSearchServiceWithRefresh(searcher, cache.NewMemoryCache(), nil, &captureQueue{}, dedup, nil)

	ctx := context.Background()

	stale, err := svc.Search(ctx, "berserk", domain.SearchOptions{})
	require.NoError(t, err)
	require.Equal(t, "Old", stale.Results[0].Title)

	searcher.mu.Lock()
	searcher.results = []domain.Metadata{{Title: "New"}}
	searcher.mu.Unlock()

	require.NoError(t, svc.ExecuteRefresh(ctx, &queue.RefreshPayload{Query: "berserk"}))

	refreshed, err := svc.Search(ctx, "berserk", domain.SearchOptions{})
	require.NoError(t, err)
	assert.True(t, refreshed.Cached)
	assert.Equal(t, "New", refreshed.Results[0].Title)

	assert.Equal(t, 1, dedup.forgotten, "refresh must release the dedup mark")
}
