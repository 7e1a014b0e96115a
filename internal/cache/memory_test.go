package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore(0, 10*time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	key := "test:key"
	val := []byte("hello")

	if err := s.Set(ctx, key, val, 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit immediately after Set")
	}
	if string(got) != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}

	// Wait for TTL to expire
	time.Sleep(30 * time.Millisecond)

	_, hit, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after TTL failed: %v", err)
	}
	if hit {
		t.Fatalf("expected miss after TTL expiry")
	}
}

func TestMemoryStoreEvictsOldestOverCap(t *testing.T) {
	s := NewMemoryStore(2, time.Minute)
	defer s.Close()

	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte(k), time.Minute); err != nil {
			t.Fatalf("Set %q failed: %v", k, err)
		}
	}

	if _, hit, _ := s.Get(ctx, "a"); hit {
		t.Fatalf("expected oldest entry to be evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, hit, _ := s.Get(ctx, k); !hit {
			t.Fatalf("expected %q to survive eviction", k)
		}
	}

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
}

func TestMemoryStoreLRUTouchOnGet(t *testing.T) {
	s := NewMemoryStore(2, time.Minute)
	defer s.Close()

	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("a"), time.Minute)
	_ = s.Set(ctx, "b", []byte("b"), time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, hit, _ := s.Get(ctx, "a"); !hit {
		t.Fatalf("expected hit for a")
	}

	_ = s.Set(ctx, "c", []byte("c"), time.Minute)

	if _, hit, _ := s.Get(ctx, "b"); hit {
		t.Fatalf("expected b to be evicted after a was touched")
	}
	if _, hit, _ := s.Get(ctx, "a"); !hit {
		t.Fatalf("expected a to survive")
	}
}

func TestMemoryStoreFlush(t *testing.T) {
	s := NewMemoryStore(0, time.Minute)
	defer s.Close()

	ctx := context.Background()

	_ = s.Set(ctx, "x", []byte("1"), time.Minute)
	_ = s.Set(ctx, "y", []byte("2"), time.Minute)

	removed, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	if _, hit, _ := s.Get(ctx, "x"); hit {
		t.Fatalf("expected miss after flush")
	}
}
