package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(ttl time.Duration, max int) (*TTL[string, []string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTL[string, []string](ttl, max)
	c.now = clock.Now
	return c, clock
}

func TestTTL_Get(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(c *TTL[string, []string], clock *fakeClock)
		expectedOk bool
	}{
		{
			name:       "empty cache",
			setup:      func(*TTL[string, []string], *fakeClock) {},
			expectedOk: false,
		},
		{
			name: "fresh value",
			setup: func(c *TTL[string, []string], _ *fakeClock) {
				c.Set("main.go", []string{"package main"})
			},
			expectedOk: true,
		},
		{
			name: "expired value",
			setup: func(c *TTL[string, []string], clock *fakeClock) {
				c.Set("main.go", []string{"package main"})
				clock.Advance(2 * time.Minute)
			},
			expectedOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock := newTestCache(time.Minute, 0)
			tt.setup(c, clock)

			_, ok := c.Get("main.go")
			if ok != tt.expectedOk {
				t.Errorf("expected ok=%v, got %v", tt.expectedOk, ok)
			}
		})
	}
}

func TestTTL_Eviction(t *testing.T) {
	c, clock := newTestCache(time.Minute, 2)

	c.Set("a", nil)
	clock.Advance(time.Second)
	c.Set("b", nil)
	clock.Advance(time.Second)
	c.Set("c", nil)

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected newest entry to be present")
	}

	// Overwriting an existing key never evicts.
	c.Set("b", []string{"x"})
	if _, ok := c.Get("c"); !ok {
		t.Error("overwrite must not evict other keys")
	}
}

func TestTTL_GetOrLoad(t *testing.T) {
	c, _ := newTestCache(time.Minute, 0)
	calls := 0
	load := func(key string) ([]string, error) {
		calls++
		return []string{key}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("file.go", load)
		if err != nil || len(v) != 1 || v[0] != "file.go" {
			t.Fatalf("unexpected result %v, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected a single load, got %d", calls)
	}

	failing := func(string) ([]string, error) { return nil, errors.New("unreadable") }
	if _, err := c.GetOrLoad("missing.go", failing); err == nil {
		t.Error("expected load error")
	}
	if _, ok := c.Get("missing.go"); ok {
		t.Error("failed loads must not be cached")
	}
}

func TestTTL_Delete(t *testing.T) {
	c, _ := newTestCache(time.Minute, 0)
	c.Set("k", nil)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected key to be deleted")
	}
}

func TestTTL_ConcurrentAccess(t *testing.T) {
	c := NewTTL[int, int](time.Minute, 50)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set(n*100+j, j)
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Get(n*100 + j)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("cache exceeded its bound: %d", c.Len())
	}
}
