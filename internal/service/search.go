package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/cache"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/metrics"
	"github.com/sadewadee/source-orchestrator/internal/mq"
	"github.com/sadewadee/source-orchestrator/internal/queue"
)

// Searcher is the aggregation engine behind the service
type Searcher interface {
	Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
	Stats() domain.SearchStats
}

// RefreshQueue enqueues background refresh tasks
type RefreshQueue interface {
	EnqueueRefresh(ctx context.Context, payload *queue.RefreshPayload) error
}

// DuplicateChecker collapses identical refresh requests while one is still
// in flight
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// RefreshRequest asks for a background re-run of a search
type RefreshRequest struct {
	Query       string            `json:"query"`
	Mode        domain.SearchMode `json:"mode,omitempty"`
	IncludeNSFW bool              `json:"include_nsfw,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Priority    int               `json:"priority,omitempty"`
}

// SearchService serves aggregated searches through the result cache and
// hands refreshes off to the background queue
type SearchService struct {
	searcher Searcher
	cache    cache.Cache      // may be nil
	refresh  RefreshQueue     // may be nil
	dedup    DuplicateChecker // may be nil
	pub      mq.Publisher     // may be nil
	met      *metrics.Metrics
	log      zerolog.Logger

	cacheHits atomic.Int64
}

// NewSearchService creates a new SearchService
func NewSearchService(searcher Searcher, c cache.Cache, met *metrics.Metrics) *SearchService {
	return &SearchService{
		searcher: searcher,
		cache:    c,
		met:      met,
		log:      logging.WithComponent("SearchService"),
	}
}

// NewSearchServiceWithRefresh creates a SearchService that can enqueue
// background refreshes and publish completed-search events
func NewSearchServiceWithRefresh(
	searcher Searcher,
	c cache.Cache,
	met *metrics.Metrics,
	refresh RefreshQueue,
	dedup DuplicateChecker,
	pub mq.Publisher,
) *SearchService {
	s := NewSearchService(searcher, c, met)
	s.refresh = refresh
	s.dedup = dedup
	s.pub = pub

	return s
}

// Search serves a logical search, preferring the cached merged response.
// Cached responses are marked so callers can tell them apart.
func (s *SearchService) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	query = strings.TrimSpace(query)

	if opts.Mode == "" {
		opts.Mode = domain.SearchModeFallback
	}

	key := cache.SearchKey(query, string(opts.Mode), opts.IncludeNSFW, opts.Limit)

	if resp := s.cached(ctx, key); resp != nil {
		return resp, nil
	}

	resp, err := s.searcher.Search(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	s.store(ctx, key, resp)
	s.publishEvent(ctx, resp)

	return resp, nil
}

// Refresh enqueues a background re-run of the search. Identical requests
// collapse while one is pending.
func (s *SearchService) Refresh(ctx context.Context, req RefreshRequest) (*queue.RefreshPayload, error) {
	if s.refresh == nil {
		return nil, ErrRefreshUnavailable
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("refresh query is empty")
	}

	if req.Mode == "" {
		req.Mode = domain.SearchModeFallback
	}

	if s.dedup != nil {
		key := cache.SearchKey(query, string(req.Mode), req.IncludeNSFW, req.Limit)

		dup, err := s.dedup.IsDuplicate(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Msg("dedup check failed, enqueueing anyway")
		} else if dup {
			return nil, ErrRefreshPending
		}
	}

	payload := &queue.RefreshPayload{
		Query:       query,
		Mode:        req.Mode,
		IncludeNSFW: req.IncludeNSFW,
		Limit:       req.Limit,
		Priority:    req.Priority,
	}

	if err := s.refresh.EnqueueRefresh(ctx, payload); err != nil {
		return nil, fmt.Errorf("failed to enqueue refresh: %w", err)
	}

	return payload, nil
}

// ExecuteRefresh re-runs the search and rewrites the cached response. Called
// by the background worker; the dedup mark is always released so a later
// refresh can be requested regardless of outcome.
func (s *SearchService) ExecuteRefresh(ctx context.Context, payload *queue.RefreshPayload) error {
	opts := domain.SearchOptions{
		Mode:        payload.Mode,
		Priority:    payload.Priority,
		IncludeNSFW: payload.IncludeNSFW,
		Limit:       payload.Limit,
	}

	if opts.Mode == "" {
		opts.Mode = domain.SearchModeFallback
	}

	key := cache.SearchKey(payload.Query, string(opts.Mode), opts.IncludeNSFW, opts.Limit)

	if s.dedup != nil {
		defer func() {
			if err := s.dedup.Forget(ctx, key); err != nil {
				s.log.Warn().Err(err).Msg("failed to release dedup mark")
			}
		}()
	}

	resp, err := s.searcher.Search(ctx, payload.Query, opts)
	if err != nil {
		return fmt.Errorf("refresh search failed: %w", err)
	}

	s.store(ctx, key, resp)
	s.publishEvent(ctx, resp)

	s.log.Info().Str("query", payload.Query).Int("results", len(resp.Results)).Msg("refresh completed")

	return nil
}

// Stats reports the search counters including cache hits
func (s *SearchService) Stats() domain.SearchStats {
	stats := s.searcher.Stats()
	stats.CacheHits = s.cacheHits.Load()

	return stats
}

// cached returns the stored merged response for key, or nil
func (s *SearchService) cached(ctx context.Context, key string) *domain.SearchResponse {
	if s.cache == nil {
		return nil
	}

	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn().Err(err).Msg("cache read failed")
		}

		s.met.RecordCacheMiss()

		return nil
	}

	var resp domain.SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		// Unreadable entry; drop it and fall through to a live search.
		_ = s.cache.Delete(ctx, key)
		s.met.RecordCacheMiss()

		return nil
	}

	resp.Cached = true
	s.cacheHits.Add(1)
	s.met.RecordCacheHit()

	return &resp
}

func (s *SearchService) store(ctx context.Context, key string, resp *domain.SearchResponse) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to marshal search response for cache")

		return
	}

	if err := s.cache.Set(ctx, key, data, cache.TTLSearch); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache search response")
	}
}

func (s *SearchService) publishEvent(ctx context.Context, resp *domain.SearchResponse) {
	if s.pub == nil {
		return
	}

	event := domain.SearchEvent{
		Query:   resp.Query,
		Mode:    resp.Mode,
		Status:  resp.Status,
		Results: len(resp.Results),
		TookMs:  resp.TookMs,
		At:      time.Now().UTC(),
	}

	if err := s.pub.PublishSearchEvent(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("query", resp.Query).Msg("failed to publish search event")
	}
}
