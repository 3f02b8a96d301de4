package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/runner"
	"github.com/sadewadee/source-orchestrator/runner/checkrunner"
	"github.com/sadewadee/source-orchestrator/runner/serverrunner"
	"github.com/sadewadee/source-orchestrator/runner/workerrunner"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Banner()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan

		cancel()
	}()

	cfg := runner.ParseConfig()

	logging.Init(cfg.Debug)

	log := logging.WithComponent("main")
	log.Info().Int("run_mode", cfg.RunMode).Bool("worker", cfg.WorkerMode).Bool("check", cfg.CheckMode).Msg("starting")

	runnerInstance, err := runnerFactory(cfg)
	if err != nil {
		cancel()
		os.Stderr.WriteString(err.Error() + "\n")

		runner.Telemetry().Close()

		os.Exit(1)
	}

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})

	if err := egroup.Wait(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		_ = runnerInstance.Close(ctx)
		runner.Telemetry().Close()
		os.Exit(1)
	}

	_ = runnerInstance.Close(ctx)
	runner.Telemetry().Close()

	os.Exit(0)
}

func runnerFactory(cfg *runner.Config) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeServer:
		return serverrunner.New(&serverrunner.Config{
			DatabaseURL:      cfg.Dsn,
			Address:          cfg.Addr,
			CatalogPath:      cfg.CatalogPath,
			FetchTimeout:     cfg.FetchTimeout,
			UserAgent:        cfg.UserAgent,
			MaxConcurrent:    cfg.MaxConcurrent,
			RateLimit:        cfg.RateLimit,
			RateWindow:       cfg.RateWindow,
			HistoryRetention: cfg.HistoryRetention,
			RedisURL:         cfg.RedisURL,
			RedisAddr:        cfg.RedisAddr,
			RedisPass:        cfg.RedisPass,
			RedisDB:          cfg.RedisDB,
			RabbitMQURL:      cfg.RabbitMQURL,
			GateEnabled:      cfg.GateEnabled,
			GateAddr:         cfg.GateAddr,
			GateProvider:     cfg.GateProvider,
			Migrate:          cfg.Migrate,
			MigrateStatus:    cfg.MigrateStatus,
		})
	case runner.RunModeWorker:
		return workerrunner.New(&workerrunner.Config{
			DatabaseURL:   cfg.Dsn,
			CatalogPath:   cfg.CatalogPath,
			WorkerID:      cfg.WorkerID,
			Concurrency:   cfg.Concurrency,
			FetchTimeout:  cfg.FetchTimeout,
			UserAgent:     cfg.UserAgent,
			MaxConcurrent: cfg.MaxConcurrent,
			RedisURL:      cfg.RedisURL,
			RedisAddr:     cfg.RedisAddr,
			RedisPass:     cfg.RedisPass,
			RedisDB:       cfg.RedisDB,
			RabbitMQURL:   cfg.RabbitMQURL,
		})
	case runner.RunModeCheck:
		return checkrunner.New(&checkrunner.Config{
			CatalogPath:  cfg.CatalogPath,
			DatabaseURL:  cfg.Dsn,
			FetchTimeout: cfg.FetchTimeout,
			UserAgent:    cfg.UserAgent,
		})
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}
