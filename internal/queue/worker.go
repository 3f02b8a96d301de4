package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/logging"
)

// RefreshHandler processes one refresh task
type RefreshHandler func(ctx context.Context, payload *RefreshPayload) error

// Worker consumes refresh tasks from the Redis queue
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler RefreshHandler
	log     zerolog.Logger
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	RedisURL    string
	RedisAddr   string
	Password    string
	DB          int
	Concurrency int
	Queues      map[string]int // queue name -> priority
}

// NewWorker creates a new queue worker
func NewWorker(cfg *WorkerConfig, handler RefreshHandler) (*Worker, error) {
	redisOpt, err := connOpt(cfg.RedisURL, cfg.RedisAddr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	queues := cfg.Queues
	if queues == nil {
		// Default queue priorities
		queues = map[string]int{
			QueueCritical: 6,
			QueueHigh:     3,
			QueueDefault:  2,
			QueueLow:      1,
		}
	}

	log := logging.WithComponent("queue-worker")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues:      queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				log.Error().Err(err).Str("task", task.Type()).Msg("task failed")
			}),
			Logger: &asynqLogger{log: log},
		},
	)

	w := &Worker{
		server:  server,
		mux:     asynq.NewServeMux(),
		handler: handler,
		log:     log,
	}

	w.mux.HandleFunc(TypeSearchRefresh, w.handleRefresh)

	return w, nil
}

// handleRefresh processes a refresh task
func (w *Worker) handleRefresh(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRefreshPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	w.log.Info().
		Str("id", payload.ID.String()).
		Str("query", payload.Query).
		Msg("processing refresh")

	if err := w.handler(ctx, payload); err != nil {
		w.log.Warn().Err(err).Str("id", payload.ID.String()).Msg("refresh failed")
		return err
	}

	return nil
}

// Run starts the worker and blocks until the context is cancelled
func (w *Worker) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.server.Run(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the worker
func (w *Worker) Shutdown() {
	if w.server != nil {
		w.server.Shutdown()
	}
}

// asynqLogger adapts asynq logging to zerolog
type asynqLogger struct {
	log zerolog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	// Suppress debug logs
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.log.Fatal().Msg(fmt.Sprint(args...))
}
