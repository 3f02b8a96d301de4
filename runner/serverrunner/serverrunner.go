// Package serverrunner wires the default run mode: the orchestration engine,
// the HTTP API on top of it, and the optional Redis cache, refresh queue,
// RabbitMQ event bus and SOCKS5 egress gate.
package serverrunner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/source-orchestrator/internal/api"
	"github.com/sadewadee/source-orchestrator/internal/api/handlers"
	"github.com/sadewadee/source-orchestrator/internal/cache"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/engine"
	"github.com/sadewadee/source-orchestrator/internal/gate"
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

// Config holds configuration for the server runner
type Config struct {
	// DatabaseURL is the PostgreSQL connection string or SQLite file path
	DatabaseURL string

	// Address is the HTTP server address
	Address string

	// CatalogPath is the JSON provider catalog loaded on start
	CatalogPath string

	FetchTimeout  time.Duration
	UserAgent     string
	MaxConcurrent int

	RateLimit  int
	RateWindow time.Duration

	HistoryRetention time.Duration

	// Redis configuration for the result cache and refresh queue
	RedisURL  string
	RedisAddr string
	RedisPass string
	RedisDB   int

	// RabbitMQURL enables the event bus when set
	RabbitMQURL string

	// Egress gate configuration
	GateEnabled  bool
	GateAddr     string
	GateProvider string

	// Migration flags
	Migrate       bool
	MigrateStatus bool
}

// ServerRunner runs the engine with the HTTP API on top
type ServerRunner struct {
	cfg     *Config
	store   *repository.Store
	eng     *engine.Engine
	srv     *http.Server
	gate    *gate.Server
	cache   cache.Cache
	refresh *queue.Queue
	pub     *mq.RabbitMQPublisher
	log     zerolog.Logger
}

// New creates a new ServerRunner
func New(cfg *Config) (runner.Runner, error) {
	if cfg.Address == "" {
		cfg.Address = ":8080"
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
			closeAll(resultCache, store)

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
		RateLimit: domain.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateWindow,
		},
		HistoryRetention: cfg.HistoryRetention,
	})

	var (
		refreshQueue *queue.Queue
		dedup        *queue.Deduper
	)

	if cfg.RedisURL != "" || cfg.RedisAddr != "" {
		refreshQueue, err = queue.New(&queue.Config{
			RedisURL:  cfg.RedisURL,
			RedisAddr: cfg.RedisAddr,
			Password:  cfg.RedisPass,
			DB:        cfg.RedisDB,
		})
		if err != nil {
			if pub != nil {
				pub.Close()
			}

			closeAll(resultCache, store)

			return nil, err
		}

		// The deduper rides on the cache connection instead of opening
		// its own.
		if rc, ok := resultCache.(*cache.RedisCache); ok {
			dedup = queue.NewDeduperWithClient(rc.Client(), "", 0)
		}
	}

	var (
		refreshQ service.RefreshQueue
		dedupC   service.DuplicateChecker
		eventPub mq.Publisher
	)

	if refreshQueue != nil {
		refreshQ = refreshQueue
	}

	if dedup != nil {
		dedupC = dedup
	}

	if pub != nil {
		eventPub = pub
	}

	searchSvc := service.NewSearchServiceWithRefresh(eng.Aggregator, resultCache, met, refreshQ, dedupC, eventPub)
	healthSvc := service.NewHealthService(eng.Registry, eng.Monitor, store, resultCache, runner.Version)
	providerSvc := service.NewProviderService(eng.Registry, eng.Monitor, eng.Limiter, store.Overrides, resultCache)
	proxySvc := service.NewProxyService(eng.Registry, eng.Pools)
	statsSvc := service.NewStatsService(eng.Registry, eng.Monitor, eng.Limiter, eng.Pools, searchSvc, resultCache)

	router := api.NewRouter(
		handlers.NewHealthHandler(healthSvc),
		handlers.NewSystemHandler(runner.Version),
		handlers.NewSearchHandler(searchSvc),
		handlers.NewProviderHandler(providerSvc, healthSvc),
		handlers.NewProxyHandler(proxySvc),
		handlers.NewStatsHandler(statsSvc),
	)

	apiToken := os.Getenv("API_TOKEN")
	handler := router.Setup(apiToken)

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	var gateSrv *gate.Server
	if cfg.GateEnabled {
		gateSrv = gate.NewServer(cfg.GateAddr, cfg.GateProvider, eng.Pools)
	}

	return &ServerRunner{
		cfg:     cfg,
		store:   store,
		eng:     eng,
		srv:     srv,
		gate:    gateSrv,
		cache:   resultCache,
		refresh: refreshQueue,
		pub:     pub,
		log:     logging.WithComponent("server"),
	}, nil
}

// openCache connects the Redis result cache. Returns a nil cache when no
// Redis is configured; every consumer treats that as cache-off.
func openCache(cfg *Config) (cache.Cache, error) {
	if cfg.RedisURL == "" && cfg.RedisAddr == "" {
		return nil, nil
	}

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

	c, err := cache.NewRedisCache(redisCfg)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Run starts the engine, the API server and the optional gate. The -migrate
// and -migrate-status flags short-circuit into one-shot database commands.
func (s *ServerRunner) Run(ctx context.Context) error {
	_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("serverrunner.Run", nil))

	if s.cfg.Migrate {
		return s.migrate(ctx)
	}

	if s.cfg.MigrateStatus {
		return s.migrationStatus(ctx)
	}

	egroup, ctx := errgroup.WithContext(ctx)

	if err := s.eng.Start(ctx); err != nil {
		return err
	}

	if s.gate != nil {
		egroup.Go(func() error {
			return s.gate.Run(ctx)
		})
	}

	egroup.Go(func() error {
		return s.startServer(ctx)
	})

	err := egroup.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if stopErr := s.eng.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}

	return err
}

// Close cleans up resources
func (s *ServerRunner) Close(_ context.Context) error {
	var firstErr error

	if s.pub != nil {
		if err := s.pub.Close(); err != nil {
			firstErr = err
		}
	}

	if s.refresh != nil {
		if err := s.refresh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := closeAll(s.cache, s.store); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func (s *ServerRunner) startServer(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("error shutting down server")
		}
	}()

	s.log.Info().
		Str("addr", s.cfg.Address).
		Str("database", s.store.Dialect().String()).
		Msg("API server starting")

	err := s.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *ServerRunner) migrate(ctx context.Context) error {
	if err := s.store.Migrate(ctx); err != nil {
		return err
	}

	s.log.Info().Str("database", s.store.Dialect().String()).Msg("database migrations completed")

	return nil
}

func (s *ServerRunner) migrationStatus(ctx context.Context) error {
	state, pending, err := s.store.MigrationState(ctx)
	if err != nil {
		return err
	}

	s.log.Info().
		Str("state", state.String()).
		Strs("pending", pending).
		Msg("migration status")

	return nil
}

// closeAll closes the cache and the store, keeping the first error
func closeAll(c cache.Cache, store *repository.Store) error {
	var firstErr error

	if c != nil {
		if err := c.Close(); err != nil {
			firstErr = err
		}
	}

	if store != nil {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
