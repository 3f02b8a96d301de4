// Package queue provides a Redis-based refresh queue using Asynq
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
)

const (
	// Task types
	TypeSearchRefresh = "search:refresh"

	// Queue names
	QueueDefault  = "default"
	QueueHigh     = "high"
	QueueLow      = "low"
	QueueCritical = "critical"
)

// RefreshPayload is the payload for a search refresh task
type RefreshPayload struct {
	ID          uuid.UUID         `json:"id"`
	Query       string            `json:"query"`
	Mode        domain.SearchMode `json:"mode"`
	IncludeNSFW bool              `json:"include_nsfw"`
	Limit       int               `json:"limit"`
	Priority    int               `json:"priority"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Config holds Redis queue configuration
type Config struct {
	RedisURL  string
	RedisAddr string
	Password  string
	DB        int
}

// Queue enqueues refresh tasks onto the Redis-backed queue
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redisOpt  asynq.RedisConnOpt
	log       zerolog.Logger
}

// New creates a new Queue
func New(cfg *Config) (*Queue, error) {
	redisOpt, err := connOpt(cfg.RedisURL, cfg.RedisAddr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}

	return &Queue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redisOpt:  redisOpt,
		log:       logging.WithComponent("queue"),
	}, nil
}

func connOpt(redisURL, redisAddr, password string, db int) (asynq.RedisConnOpt, error) {
	if redisURL != "" {
		opt, err := asynq.ParseRedisURI(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}

		return opt, nil
	}

	if redisAddr != "" {
		return asynq.RedisClientOpt{
			Addr:         redisAddr,
			Password:     password,
			DB:           db,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		}, nil
	}

	return nil, fmt.Errorf("redis URL or address is required")
}

// EnqueueRefresh adds a refresh task to the queue
func (q *Queue) EnqueueRefresh(ctx context.Context, payload *RefreshPayload) error {
	if payload.ID == uuid.Nil {
		payload.ID = uuid.New()
	}
	if payload.CreatedAt.IsZero() {
		payload.CreatedAt = time.Now().UTC()
	}
	if payload.Mode == "" {
		payload.Mode = domain.SearchModeFallback
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeSearchRefresh, data)
	queueName := queueFor(payload.Priority)

	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
		asynq.Timeout(5 * time.Minute),
		asynq.Retention(24 * time.Hour),
	}

	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.log.Info().
		Str("query", payload.Query).
		Str("queue", queueName).
		Str("task_id", info.ID).
		Msg("enqueued refresh")

	return nil
}

// queueFor maps a task priority onto a queue name
func queueFor(priority int) string {
	switch {
	case priority >= 10:
		return QueueCritical
	case priority >= 5:
		return QueueHigh
	case priority < 0:
		return QueueLow
	default:
		return QueueDefault
	}
}

// GetRedisOpt returns the Redis client options for creating a server
func (q *Queue) GetRedisOpt() asynq.RedisConnOpt {
	return q.redisOpt
}

// GetQueueStats returns queue statistics
func (q *Queue) GetQueueStats(ctx context.Context) (map[string]*asynq.QueueInfo, error) {
	queues := []string{QueueDefault, QueueHigh, QueueLow, QueueCritical}
	stats := make(map[string]*asynq.QueueInfo)

	for _, queue := range queues {
		info, err := q.inspector.GetQueueInfo(queue)
		if err != nil {
			// Queue might not exist yet
			continue
		}
		stats[queue] = info
	}

	return stats, nil
}

// Close closes the queue client
func (q *Queue) Close() error {
	if q.client != nil {
		return q.client.Close()
	}

	return nil
}

// ParseRefreshPayload parses a refresh payload from task data
func ParseRefreshPayload(data []byte) (*RefreshPayload, error) {
	var payload RefreshPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return &payload, nil
}
