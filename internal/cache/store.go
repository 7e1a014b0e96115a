// Package cache implements the response cache for LLM inference results:
// a Redis-backed store for production, an in-process store as fallback, and
// a Manager that picks one of the two at startup and degrades every backend
// failure to a cache miss.
package cache

import (
	"context"
	"time"
)

// Store is a key/value store with expiration. Implemented by RedisStore and
// MemoryStore. Get returns (value, ok, err) so callers can distinguish a
// clean miss from a backend failure; the Manager treats both as a miss.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Flush removes all entries and reports how many were removed.
	Flush(ctx context.Context) (int64, error)

	// Len reports the approximate number of live entries.
	Len(ctx context.Context) (int64, error)
}
