// Package workerrunner runs the background refresh worker. It consumes
// refresh tasks from the Redis queue, re-executes the searches through its
// own engine and rewrites the shared result cache. When RabbitMQ is
// configured it also accepts externally published refresh requests and
// feeds them into the same queue.
package workerrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/source-orchestrator/internal/cache"
	"github.com/sadewadee/source-orchestrator/internal/engine"
	"github.com/sadewadee/source-orchestrator/internal/healthmon"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/metrics"
	"github.com/sadewadee/source-orchestrator/internal/mq"
	"github.com/sadewadee/source-orchestrator/internal/queue"
	"github.com/sadewadee/source-orchestrator/internal/repository"
	"github.com/sadewadee/source-orchestrator/internal/service"
	"github.com/sadewadee/source-orchestrator/runner"
	"github.com/sadewadee/source-orchestrator/tlmt"
)

// Config holds configuration for the worker runner
type Config struct {
	// DatabaseURL is the PostgreSQL connection string or SQLite file path
	DatabaseURL string

	// CatalogPath is the JSON provider catalog loaded on start
	CatalogPath string

	// WorkerID identifies this worker (auto-generated if empty)
	WorkerID string

	// Concurrency is the number of refresh tasks processed in parallel
	Concurrency int

	FetchTimeout  time.Duration
	UserAgent     string
	MaxConcurrent int

	// Redis configuration, required
	RedisURL  string
	RedisAddr string
	RedisPass string
	RedisDB   int

	// RabbitMQURL enables the external refresh consumer when set
	RabbitMQURL string
}

// WorkerRunner consumes refresh tasks and keeps the result cache warm
type WorkerRunner struct {
	cfg      *Config
	store    *repository.Store
	eng      *engine.Engine
	worker   *queue.Worker
	refresh  *queue.Queue
	cache    cache.Cache
	consumer *mq.RabbitMQConsumer
	pub      *mq.RabbitMQPublisher
	search   *service.SearchService
	log      zerolog.Logger
}

// New creates a new WorkerRunner
func New(cfg *Config) (runner.Runner, error) {
	if cfg.RedisURL == "" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis is required for the worker")
	}

	if cfg.WorkerID == "" {
		hostname, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	}

	store, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	met := metrics.New()

	resultCache, err := openCache(cfg)
	if err != nil {
		store.Close()

		return nil, err
	}

	var (
		pub  *mq.RabbitMQPublisher
		sink healthmon.EventSink
	)

	if cfg.RabbitMQURL != "" {
		pub, err = mq.NewPublisher(mq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			resultCache.Close()
			store.Close()

			return nil, err
		}

		sink = pub
	}

	eng := engine.New(engine.Config{
		CatalogPath:   cfg.CatalogPath,
		Store:         store,
		Metrics:       met,
		Sink:          sink,
		FetchTimeout:  cfg.FetchTimeout,
		UserAgent:     cfg.UserAgent,
		MaxConcurrent: cfg.MaxConcurrent,
	})

	refreshQueue, err := queue.New(&queue.Config{
		RedisURL:  cfg.RedisURL,
		RedisAddr: cfg.RedisAddr,
		Password:  cfg.RedisPass,
		DB:        cfg.RedisDB,
	})
	if err != nil {
		if pub != nil {
			pub.Close()
		}

		resultCache.Close()
		store.Close()

		return nil, err
	}

	dedup := queue.NewDeduperWithClient(resultCache.Client(), "", 0)

	var eventPub mq.Publisher
	if pub != nil {
		eventPub = pub
	}

	searchSvc := service.NewSearchServiceWithRefresh(eng.Aggregator, resultCache, met, refreshQueue, dedup, eventPub)

	worker, err := queue.NewWorker(&queue.WorkerConfig{
		RedisURL:    cfg.RedisURL,
		RedisAddr:   cfg.RedisAddr,
		Password:    cfg.RedisPass,
		DB:          cfg.RedisDB,
		Concurrency: cfg.Concurrency,
	}, searchSvc.ExecuteRefresh)
	if err != nil {
		if pub != nil {
			pub.Close()
		}

		refreshQueue.Close()
		resultCache.Close()
		store.Close()

		return nil, err
	}

	var consumer *mq.RabbitMQConsumer
	if cfg.RabbitMQURL != "" {
		consumer, err = mq.NewConsumer(mq.ConsumerConfig{
			URL:        cfg.RabbitMQURL,
			ConsumerID: cfg.WorkerID,
		})
		if err != nil {
			pub.Close()
			refreshQueue.Close()
			resultCache.Close()
			store.Close()

			return nil, err
		}
	}

	return &WorkerRunner{
		cfg:      cfg,
		store:    store,
		eng:      eng,
		worker:   worker,
		refresh:  refreshQueue,
		cache:    resultCache,
		consumer: consumer,
		pub:      pub,
		search:   searchSvc,
		log:      logging.WithComponent("worker"),
	}, nil
}

// openCache connects the Redis result cache the worker writes into
func openCache(cfg *Config) (*cache.RedisCache, error) {
	redisCfg := cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}

		redisCfg = cache.RedisConfig{
			Addr:     opt.Addr,
			Password: opt.Password,
			DB:       opt.DB,
		}
	}

	return cache.NewRedisCache(redisCfg)
}

// Run starts the engine, the queue worker and the optional refresh consumer
func (w *WorkerRunner) Run(ctx context.Context) error {
	_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("workerrunner.Run", nil))

	egroup, ctx := errgroup.WithContext(ctx)

	if err := w.eng.Start(ctx); err != nil {
		return err
	}

	w.log.Info().Str("worker_id", w.cfg.WorkerID).Int("concurrency", w.cfg.Concurrency).Msg("worker starting")

	egroup.Go(func() error {
		return w.worker.Run(ctx)
	})

	if w.consumer != nil {
		egroup.Go(func() error {
			return w.consumer.Consume(ctx, w.handleRefreshRequest)
		})
	}

	err := egroup.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if stopErr := w.eng.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}

	return err
}

// handleRefreshRequest feeds an externally published refresh through the
// same dedup and priority path as API-originated ones
func (w *WorkerRunner) handleRefreshRequest(ctx context.Context, req *mq.RefreshRequest) error {
	_, err := w.search.Refresh(ctx, service.RefreshRequest{
		Query:       req.Query,
		Mode:        req.Mode,
		IncludeNSFW: req.IncludeNSFW,
		Limit:       req.Limit,
		Priority:    req.Priority,
	})
	if err != nil {
		// An identical refresh is already queued; ack the message.
		if errors.Is(err, service.ErrRefreshPending) {
			w.log.Debug().Str("query", req.Query).Msg("refresh already pending")

			return nil
		}

		return err
	}

	return nil
}

// Close cleans up resources
func (w *WorkerRunner) Close(_ context.Context) error {
	w.worker.Shutdown()

	var firstErr error

	if w.consumer != nil {
		if err := w.consumer.Close(); err != nil {
			firstErr = err
		}
	}

	if w.pub != nil {
		if err := w.pub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := w.refresh.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := w.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := w.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
