package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, "velocity", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, "velocity", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		// Wait for window to expire
		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, "velocity", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("GetCounter", func(t *testing.T) {
		n, err := cache.GetCounter(ctx, "burst:user-1")
		if err != nil {
			t.Fatalf("GetCounter failed: %v", err)
		}
		if n != 0 {
			t.Errorf("expected 0 for unknown counter, got %d", n)
		}

		_, _ = cache.IncrementCounter(ctx, "burst:user-1", time.Minute)
		_, _ = cache.IncrementCounter(ctx, "burst:user-1", time.Minute)

		n, _ = cache.GetCounter(ctx, "burst:user-1")
		if n != 2 {
			t.Errorf("expected 2, got %d", n)
		}
	})

	t.Run("JSONHelpers", func(t *testing.T) {
		merchant := &domain.Merchant{ID: "m-1", Name: "Casino", Category: "gambling", RiskLevel: 90}
		if err := SetJSON(ctx, cache, "merchant:m-1", merchant, time.Minute); err != nil {
			t.Fatalf("SetJSON failed: %v", err)
		}

		var got domain.Merchant
		ok, err := GetJSON(ctx, cache, "merchant:m-1", &got)
		if err != nil || !ok {
			t.Fatalf("GetJSON = %v, %v", ok, err)
		}
		if got.RiskLevel != 90 || got.Category != "gambling" {
			t.Errorf("unexpected merchant %+v", got)
		}

		ok, err = GetJSON(ctx, cache, "merchant:missing", &got)
		if err != nil || ok {
			t.Errorf("expected miss, got %v, %v", ok, err)
		}

		_ = cache.Set(ctx, "merchant:corrupt", []byte("{"), time.Minute)
		ok, err = GetJSON(ctx, cache, "merchant:corrupt", &got)
		if err != nil || ok {
			t.Errorf("expected corrupt entry to read as miss, got %v, %v", ok, err)
		}
		if val, _ := cache.Get(ctx, "merchant:corrupt"); val != nil {
			t.Error("expected corrupt entry to be dropped")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		_, _ = statsCache.Get(ctx, "k1")
		_, _ = statsCache.Get(ctx, "missing")

		stats := statsCache.Stats()
		if stats.Size != 2 {
			t.Errorf("expected size 2, got %d", stats.Size)
		}
		if stats.Capacity != 50 {
			t.Errorf("expected capacity 50, got %d", stats.Capacity)
		}
		if stats.Hits != 1 || stats.Misses != 1 {
			t.Errorf("expected 1 hit and 1 miss, got %d/%d", stats.Hits, stats.Misses)
		}
	})

	t.Run("ExpiredCountersSwept", func(t *testing.T) {
		now := time.Now()
		small := NewLRUCache(2)
		small.now = func() time.Time { return now }

		_, _ = small.IncrementCounter(ctx, "velocity:u1", time.Second)
		_, _ = small.IncrementCounter(ctx, "velocity:u2", time.Second)

		now = now.Add(2 * time.Second)
		if n, _ := small.IncrementCounter(ctx, "velocity:u3", time.Second); n != 1 {
			t.Errorf("expected fresh counter, got %d", n)
		}
		if got := small.Stats().Counters; got != 1 {
			t.Errorf("expected expired counters swept, got %d", got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
