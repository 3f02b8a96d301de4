package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = errors.New("cache miss")

// Cache interface for caching operations
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// DeleteByPattern removes all values matching a pattern (e.g., "cache:search:*")
	DeleteByPattern(ctx context.Context, pattern string) error

	// Close closes the cache connection
	Close() error
}

// Key prefixes. Only merged responses and snapshots are cached, never raw
// provider bodies.
const (
	// KeyPrefixSearch is the prefix for merged search responses
	KeyPrefixSearch = "cache:search"

	// KeyPrefixHealth is the prefix for the provider health snapshot
	KeyPrefixHealth = "cache:health"

	// KeyPrefixStats is the prefix for dashboard statistics
	KeyPrefixStats = "cache:stats"
)

// TTL configurations for different cache types
const (
	// TTLSearch is the TTL for merged search responses (15 minutes)
	TTLSearch = 15 * time.Minute

	// TTLHealth is the TTL for the health snapshot (30 seconds)
	TTLHealth = 30 * time.Second

	// TTLStats is the TTL for dashboard statistics (30 seconds)
	TTLStats = 30 * time.Second
)

// SearchKey builds the cache key for one logical search. Queries are folded
// to lower case so "Naruto" and "naruto" share an entry.
func SearchKey(query, mode string, includeNSFW bool, limit int) string {
	return fmt.Sprintf("%s:%s:%s:%t:%d",
		KeyPrefixSearch, strings.ToLower(strings.TrimSpace(query)), mode, includeNSFW, limit)
}
