package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterCapacity(t *testing.T) {
	counter := NewMemoryCounter()
	defer counter.Close()
	limiter := NewLimiter(counter, "signed", 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, _, err := limiter.Allow(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !ok {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}

	ok, retryAfter, _ := limiter.Allow(ctx, "tenant-1")
	if ok {
		t.Error("6th call in the same window should be denied")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("retry-after should be within the window, got %v", retryAfter)
	}
}

func TestLimiterPerTenantIsolation(t *testing.T) {
	counter := NewMemoryCounter()
	defer counter.Close()
	limiter := NewLimiter(counter, "signed", 1, time.Minute)
	ctx := context.Background()

	if ok, _, _ := limiter.Allow(ctx, "tenant-a"); !ok {
		t.Fatal("tenant-a first call should be admitted")
	}
	if ok, _, _ := limiter.Allow(ctx, "tenant-a"); ok {
		t.Error("tenant-a second call should be denied")
	}
	if ok, _, _ := limiter.Allow(ctx, "tenant-b"); !ok {
		t.Error("tenant-b should not be affected by tenant-a's window")
	}
}

func TestLimiterNamespaceIsolation(t *testing.T) {
	counter := NewMemoryCounter()
	defer counter.Close()
	signed := NewLimiter(counter, "signed", 1, time.Minute)
	browser := NewLimiter(counter, "browser", 1, time.Minute)
	ctx := context.Background()

	if ok, _, _ := signed.Allow(ctx, "tenant-1"); !ok {
		t.Fatal("signed limiter should admit first call")
	}
	if ok, _, _ := browser.Allow(ctx, "tenant-1"); !ok {
		t.Error("browser limiter should have its own window")
	}
}

func TestLimiterNextWindow(t *testing.T) {
	counter := NewMemoryCounter()
	defer counter.Close()
	limiter := NewLimiter(counter, "signed", 1, 50*time.Millisecond)
	ctx := context.Background()

	if ok, _, _ := limiter.Allow(ctx, "tenant-1"); !ok {
		t.Fatal("first call should be admitted")
	}
	// Exhaust the current window, then wait for the next one.
	limiter.Allow(ctx, "tenant-1") //nolint:errcheck
	time.Sleep(60 * time.Millisecond)
	if ok, _, _ := limiter.Allow(ctx, "tenant-1"); !ok {
		t.Error("call in the next window should be admitted")
	}
}

func TestMemoryCounterConcurrent(t *testing.T) {
	counter := NewMemoryCounter()
	defer counter.Close()
	ctx := context.Background()

	const racers = 64
	var wg sync.WaitGroup
	var max int64
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := counter.Incr(ctx, "contested", time.Minute)
			if err != nil {
				t.Errorf("Incr failed: %v", err)
				return
			}
			for {
				cur := atomic.LoadInt64(&max)
				if n <= cur || atomic.CompareAndSwapInt64(&max, cur, n) {
					break
				}
			}
		}()
	}
	wg.Wait()

	if max != racers {
		t.Errorf("expected final count %d, got %d", racers, max)
	}
}
