package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryStore is the in-process fallback store. The map has no native
// expiry, so TTLs are enforced by comparing expiresAt on every Get; a
// background janitor sweeps expired entries so the map does not grow
// unbounded between reads. When maxEntries is exceeded the least recently
// used entry is evicted.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// NewMemoryStore creates an in-memory store. maxEntries <= 0 disables the
// size cap; sweepInterval <= 0 defaults to 5 minutes.
func NewMemoryStore(maxEntries int, sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	s := &MemoryStore{
		items:       make(map[string]*list.Element),
		order:       list.New(),
		maxEntries:  maxEntries,
		stopJanitor: make(chan struct{}),
	}

	go s.sweepExpired(sweepInterval)

	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}

	entry := el.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		s.removeLocked(el)
		return nil, false, nil
	}

	s.order.MoveToFront(el)
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(context.Background(), key)
	}

	// Copy to decouple from the caller's buffer.
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = valueCopy
		entry.expiresAt = time.Now().Add(ttl)
		s.order.MoveToFront(el)
		return nil
	}

	el := s.order.PushFront(&memoryEntry{
		key:       key,
		value:     valueCopy,
		expiresAt: time.Now().Add(ttl),
	})
	s.items[key] = el

	if s.maxEntries > 0 {
		for len(s.items) > s.maxEntries {
			oldest := s.order.Back()
			if oldest == nil {
				break
			}
			s.removeLocked(oldest)
		}
	}

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeLocked(el)
	}
	return nil
}

func (s *MemoryStore) Flush(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := int64(len(s.items))
	s.items = make(map[string]*list.Element)
	s.order.Init()
	return removed, nil
}

func (s *MemoryStore) Len(_ context.Context) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var live int64
	for _, el := range s.items {
		if !now.After(el.Value.(*memoryEntry).expiresAt) {
			live++
		}
	}
	return live, nil
}

// Close stops the janitor goroutine. Call on shutdown or in tests.
func (s *MemoryStore) Close() error {
	s.janitorOnce.Do(func() {
		close(s.stopJanitor)
	})
	return nil
}

func (s *MemoryStore) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	s.order.Remove(el)
	delete(s.items, entry.key)
}

func (s *MemoryStore) sweepExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for _, el := range s.items {
				if now.After(el.Value.(*memoryEntry).expiresAt) {
					s.removeLocked(el)
				}
			}
			s.mu.Unlock()
		case <-s.stopJanitor:
			return
		}
	}
}
