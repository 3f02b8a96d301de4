package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper suppresses duplicate refresh requests using Redis SETNX. A search
// key stays marked until its task completes or the TTL lapses, so identical
// refreshes collapse into one in-flight task.
type Deduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// DedupeConfig holds deduper configuration
type DedupeConfig struct {
	RedisURL  string
	RedisAddr string
	Password  string
	DB        int
	Prefix    string
	TTL       time.Duration
}

// NewDeduper creates a deduper with its own Redis connection
func NewDeduper(cfg *DedupeConfig) (*Deduper, error) {
	var client *redis.Client

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opt.PoolSize = 10
		opt.MinIdleConns = 2
		opt.DialTimeout = 5 * time.Second
		opt.ReadTimeout = 3 * time.Second
		opt.WriteTimeout = 3 * time.Second
		client = redis.NewClient(opt)
	} else if cfg.RedisAddr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
	} else {
		return nil, fmt.Errorf("redis URL or address is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	d := NewDeduperWithClient(client, cfg.Prefix, cfg.TTL)
	d.owned = true

	return d, nil
}

// NewDeduperWithClient creates a deduper sharing an existing connection,
// typically the result cache's client
func NewDeduperWithClient(client *redis.Client, prefix string, ttl time.Duration) *Deduper {
	if prefix == "" {
		prefix = "refresh"
	}
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	return &Deduper{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// IsDuplicate marks a search key as pending and reports whether it already
// was. Returns true when an identical refresh is in flight.
func (d *Deduper) IsDuplicate(ctx context.Context, key string) (bool, error) {
	wasSet, err := d.client.SetNX(ctx, d.key(key), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}

	return !wasSet, nil
}

// Forget clears a search key so the next refresh request passes through
func (d *Deduper) Forget(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.key(key)).Err()
}

// Clear removes all pending markers
func (d *Deduper) Clear(ctx context.Context) error {
	pattern := fmt.Sprintf("%s:*", d.prefix)

	iter := d.client.Scan(ctx, 0, pattern, 1000).Iterator()
	for iter.Next(ctx) {
		if err := d.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}

	return iter.Err()
}

// Pending counts in-flight refresh markers
func (d *Deduper) Pending(ctx context.Context) (int64, error) {
	pattern := fmt.Sprintf("%s:*", d.prefix)

	var count int64
	iter := d.client.Scan(ctx, 0, pattern, 1000).Iterator()
	for iter.Next(ctx) {
		count++
	}

	return count, iter.Err()
}

// Close closes the Redis connection when the deduper owns it
func (d *Deduper) Close() error {
	if d.owned && d.client != nil {
		return d.client.Close()
	}

	return nil
}

func (d *Deduper) key(key string) string {
	return fmt.Sprintf("%s:search:%s", d.prefix, key)
}
