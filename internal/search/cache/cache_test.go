package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type result struct {
	Total int `json:"total"`
}

// memoryStore is an in-process Store.
type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	getHits int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	data, ok := m.data[key]
	if ok {
		m.getHits++
	}
	return data, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = data
	m.ttls[key] = ttl
	return nil
}

func TestCache_GetOrFetch(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(c *Cache[*result])
		key        string
		fetchFunc  func() (*result, error)
		wantResult *result
		wantHit    bool
		wantErr    bool
	}{
		{
			name:  "cache miss - successful fetch",
			setup: func(c *Cache[*result]) {},
			key:   "test-key",
			fetchFunc: func() (*result, error) {
				return &result{Total: 5}, nil
			},
			wantResult: &result{Total: 5},
		},
		{
			name: "cache hit - returns cached value",
			setup: func(c *Cache[*result]) {
				c.mu.Lock()
				c.entries["cached-key"] = &cacheEntry[*result]{
					result:    &result{Total: 10},
					expiresAt: time.Now().Add(time.Minute),
				}
				c.mu.Unlock()
			},
			key: "cached-key",
			fetchFunc: func() (*result, error) {
				t.Error("fetch should not be called for cached entry")
				return nil, nil
			},
			wantResult: &result{Total: 10},
			wantHit:    true,
		},
		{
			name:  "fetch error - not cached",
			setup: func(c *Cache[*result]) {},
			key:   "error-key",
			fetchFunc: func() (*result, error) {
				return nil, errors.New("fetch failed")
			},
			wantErr: true,
		},
		{
			name: "expired entry - refetches",
			setup: func(c *Cache[*result]) {
				c.mu.Lock()
				c.entries["expired-key"] = &cacheEntry[*result]{
					result:    &result{Total: 1},
					expiresAt: time.Now().Add(-time.Minute),
				}
				c.mu.Unlock()
			},
			key: "expired-key",
			fetchFunc: func() (*result, error) {
				return &result{Total: 99}, nil
			},
			wantResult: &result{Total: 99},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewCache[*result](time.Minute)
			defer cache.Close()

			tt.setup(cache)

			got, hit, err := cache.GetOrFetch(context.Background(), tt.key, tt.fetchFunc)

			if (err != nil) != tt.wantErr {
				t.Errorf("GetOrFetch() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if hit != tt.wantHit {
				t.Errorf("GetOrFetch() hit = %v, want %v", hit, tt.wantHit)
			}

			if tt.wantResult == nil && got != nil {
				t.Errorf("GetOrFetch() = %v, want nil", got)
			} else if tt.wantResult != nil {
				if got == nil {
					t.Errorf("GetOrFetch() = nil, want %v", tt.wantResult)
				} else if got.Total != tt.wantResult.Total {
					t.Errorf("GetOrFetch() Total = %d, want %d", got.Total, tt.wantResult.Total)
				}
			}
		})
	}
}

func TestCache_GetOrFetch_ContextCancellation(t *testing.T) {
	cache := NewCache[*result](time.Minute)
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())

	fetchStarted := make(chan struct{})
	fetchDone := make(chan struct{})

	// Start a slow fetch
	go func() {
		_, _, _ = cache.GetOrFetch(context.Background(), "slow-key", func() (*result, error) {
			close(fetchStarted)
			<-fetchDone
			return &result{Total: 1}, nil
		})
	}()

	<-fetchStarted

	// Cancel context before fetch completes
	cancel()

	_, _, err := cache.GetOrFetch(ctx, "slow-key", func() (*result, error) {
		t.Error("fetch should not be called - should wait for inflight")
		return nil, nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	close(fetchDone)
}

func TestCache_GetOrFetch_Singleflight(t *testing.T) {
	cache := NewCache[*result](time.Minute)
	defer cache.Close()

	var fetchCount atomic.Int32
	fetchStarted := make(chan struct{})
	fetchContinue := make(chan struct{})

	var wg sync.WaitGroup
	const numGoroutines = 10

	for range numGoroutines {
		wg.Go(func() {
			got, _, err := cache.GetOrFetch(context.Background(), "shared-key", func() (*result, error) {
				if fetchCount.Add(1) == 1 {
					close(fetchStarted)
					<-fetchContinue
				}
				return &result{Total: 42}, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got == nil || got.Total != 42 {
				t.Errorf("unexpected result: %v", got)
			}
		})
	}

	<-fetchStarted
	close(fetchContinue)
	wg.Wait()

	if count := fetchCount.Load(); count != 1 {
		t.Errorf("fetch called %d times, expected 1 (singleflight)", count)
	}
}

func TestCache_Invalidate(t *testing.T) {
	tests := []struct {
		name       string
		setupKeys  []string
		invalidate string
		wantKeys   []string
	}{
		{
			name:       "invalidate existing key",
			setupKeys:  []string{"a", "b", "c"},
			invalidate: "b",
			wantKeys:   []string{"a", "c"},
		},
		{
			name:       "invalidate non-existing key",
			setupKeys:  []string{"a", "b"},
			invalidate: "x",
			wantKeys:   []string{"a", "b"},
		},
		{
			name:       "invalidate from empty cache",
			setupKeys:  []string{},
			invalidate: "a",
			wantKeys:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewCache[*result](time.Minute)
			defer cache.Close()

			for _, key := range tt.setupKeys {
				cache.mu.Lock()
				cache.entries[key] = &cacheEntry[*result]{
					result:    &result{},
					expiresAt: time.Now().Add(time.Minute),
				}
				cache.mu.Unlock()
			}

			cache.Invalidate(tt.invalidate)

			if cache.Len() != len(tt.wantKeys) {
				t.Errorf("cache has %d entries, want %d", cache.Len(), len(tt.wantKeys))
			}

			cache.mu.RLock()
			defer cache.mu.RUnlock()
			for _, key := range tt.wantKeys {
				if _, ok := cache.entries[key]; !ok {
					t.Errorf("expected key %q to exist", key)
				}
			}
		})
	}
}

func TestCache_Clear(t *testing.T) {
	cache := NewCache[*result](time.Minute)
	defer cache.Close()

	for _, key := range []string{"a", "b", "c"} {
		_, _, _ = cache.GetOrFetch(context.Background(), key, func() (*result, error) {
			return &result{}, nil
		})
	}
	if cache.Len() != 3 {
		t.Fatalf("cache has %d entries, want 3", cache.Len())
	}

	cache.Clear()

	if cache.Len() != 0 {
		t.Errorf("cache has %d entries after Clear(), want 0", cache.Len())
	}
}

func TestCache_ErrorNotCached(t *testing.T) {
	cache := NewCache[*result](time.Minute)
	defer cache.Close()

	fetchErr := errors.New("temporary error")
	callCount := 0

	_, _, err := cache.GetOrFetch(context.Background(), "error-key", func() (*result, error) {
		callCount++
		return nil, fetchErr
	})
	if !errors.Is(err, fetchErr) {
		t.Errorf("expected fetch error, got %v", err)
	}

	got, hit, err := cache.GetOrFetch(context.Background(), "error-key", func() (*result, error) {
		callCount++
		return &result{Total: 7}, nil
	})
	if err != nil || hit || got.Total != 7 {
		t.Errorf("second call = %v, %v, %v", got, hit, err)
	}
	if callCount != 2 {
		t.Errorf("fetch called %d times, expected 2", callCount)
	}
}

func TestCache_StoreWriteThrough(t *testing.T) {
	store := newMemoryStore()
	cache := NewCache[*result](time.Minute, WithStore(store))
	defer cache.Close()

	_, hit, err := cache.GetOrFetch(context.Background(), "k", func() (*result, error) {
		return &result{Total: 3}, nil
	})
	if err != nil || hit {
		t.Fatalf("GetOrFetch() hit = %v, err = %v", hit, err)
	}

	if got := string(store.data["k"]); got != `{"total":3}` {
		t.Errorf("store holds %q", got)
	}
	if store.ttls["k"] != time.Minute {
		t.Errorf("store ttl = %v, want 1m", store.ttls["k"])
	}
}

func TestCache_StoreReadOnLocalMiss(t *testing.T) {
	store := newMemoryStore()
	store.data["k"] = []byte(`{"total":11}`)

	cache := NewCache[*result](time.Minute, WithStore(store))
	defer cache.Close()

	got, hit, err := cache.GetOrFetch(context.Background(), "k", func() (*result, error) {
		t.Error("fetch should not be called when the store has the key")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hit || got.Total != 11 {
		t.Errorf("GetOrFetch() = %v, hit %v; want 11 from store", got, hit)
	}

	// Now served from memory.
	_, hit, _ = cache.GetOrFetch(context.Background(), "k", nil)
	if !hit || store.getHits != 1 {
		t.Errorf("second lookup hit=%v store reads=%d", hit, store.getHits)
	}
}

func TestCache_StoreFailuresDoNotFailLookups(t *testing.T) {
	tests := []struct {
		name  string
		store *memoryStore
	}{
		{name: "read error", store: &memoryStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}, getErr: errors.New("conn refused")}},
		{name: "write error", store: &memoryStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}, setErr: errors.New("readonly replica")}},
		{name: "corrupt entry", store: &memoryStore{data: map[string][]byte{"k": []byte("{")}, ttls: map[string]time.Duration{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reported []error
			cache := NewCache[*result](time.Minute,
				WithStore(tt.store),
				WithErrorHandler(func(_ string, err error) { reported = append(reported, err) }),
			)
			defer cache.Close()

			got, hit, err := cache.GetOrFetch(context.Background(), "k", func() (*result, error) {
				return &result{Total: 5}, nil
			})
			if err != nil || hit || got.Total != 5 {
				t.Errorf("GetOrFetch() = %v, %v, %v", got, hit, err)
			}
			if len(reported) != 1 {
				t.Errorf("reported %d store errors, want 1", len(reported))
			}
		})
	}
}
