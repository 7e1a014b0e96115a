package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// Config for the cache manager.
type Config struct {
	// Enabled turns the cache off entirely when false: gets always miss,
	// sets are no-ops.
	Enabled bool

	// RedisAddr is probed once at startup. Empty skips Redis entirely.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL applied when Set is called with ttl == 0.
	TTL time.Duration

	// MemoryMaxEntries caps the fallback store. <= 0 means uncapped.
	MemoryMaxEntries int
}

// Manager presents one logical cache regardless of which backend is active.
// The backend is chosen once at construction and never changes for the
// process lifetime. Backend failures never reach the caller: a failed read
// is a miss, a failed write is a no-op.
type Manager struct {
	store   Store
	backend string
	enabled bool
	ttl     time.Duration
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewManager probes Redis once with a short timeout and selects the backend
// for the lifetime of the process: Redis on success, the in-memory store on
// any failure. The selection is logged here and nowhere else; later
// transient backend errors are swallowed silently.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "cache"))

	m := &Manager{
		enabled: cfg.Enabled,
		ttl:     cfg.TTL,
		logger:  logger,
	}

	if !cfg.Enabled {
		m.store = NewMemoryStore(cfg.MemoryMaxEntries, 0)
		m.backend = "disabled"
		logger.Info("cache disabled by config")
		return m
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			m.store = NewRedisStore(client, "llm")
			m.backend = "redis"
			logger.Info("cache backend selected",
				zap.String("backend", "redis"),
				zap.String("addr", cfg.RedisAddr),
			)
			return m
		}

		_ = client.Close()
		logger.Warn("redis unreachable, falling back to in-memory cache",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err),
		)
	}

	m.store = NewMemoryStore(cfg.MemoryMaxEntries, 0)
	m.backend = "memory"
	m.logger.Info("cache backend selected", zap.String("backend", "memory"))
	return m
}

// NewManagerWithStore builds a manager around an explicit store. Used by
// tests and anywhere the probe behavior is not wanted.
func NewManagerWithStore(store Store, backend string, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		backend: backend,
		enabled: true,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "cache")),
	}
}

// Get returns the cached value for key. Absent, expired, and backend-error
// cases all come back as ok == false.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if !m.enabled {
		return nil, false
	}

	value, ok, err := m.store.Get(ctx, key)
	if err != nil || !ok {
		m.misses.Add(1)
		return nil, false
	}

	m.hits.Add(1)
	return value, true
}

// Set stores value under key, best-effort. A failed write degrades to "no
// caching for this entry". ttl == 0 uses the configured default.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !m.enabled {
		return
	}
	if ttl == 0 {
		ttl = m.ttl
	}
	_ = m.store.Set(ctx, key, value, ttl)
}

// Flush clears all entries and returns the count removed. Admin use only.
func (m *Manager) Flush(ctx context.Context) int64 {
	if !m.enabled {
		return 0
	}
	removed, err := m.store.Flush(ctx)
	if err != nil {
		m.logger.Warn("cache flush incomplete", zap.Error(err))
	}
	return removed
}

// Stats reports process-lifetime cache statistics.
type Stats struct {
	Enabled       bool    `json:"enabled"`
	Backend       string  `json:"backend"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
	Entries       int64   `json:"entries"`
}

// Stats returns hit/miss counters, the computed hit rate (0 before any
// traffic) and the approximate live entry count.
func (m *Manager) Stats(ctx context.Context) Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()
	total := hits + misses

	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}

	entries, err := m.store.Len(ctx)
	if err != nil {
		entries = 0
	}

	return Stats{
		Enabled:       m.enabled,
		Backend:       m.backend,
		Hits:          hits,
		Misses:        misses,
		TotalRequests: total,
		HitRate:       rate,
		Entries:       entries,
	}
}

// Backend reports which store was selected at startup.
func (m *Manager) Backend() string {
	return m.backend
}

// Close releases backend resources.
func (m *Manager) Close() error {
	if closer, ok := m.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
