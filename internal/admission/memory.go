package admission

import (
	"context"
	"sync"
	"time"
)

const janitorInterval = time.Minute

type window struct {
	count  int64
	expiry time.Time
}

// MemoryCounter is a process-local CounterStore. Expired windows are
// evicted by a janitor goroutine.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	done    chan struct{}
	once    sync.Once
}

// NewMemoryCounter creates a MemoryCounter and starts its janitor.
func NewMemoryCounter() *MemoryCounter {
	c := &MemoryCounter{
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Incr increments the counter for key, creating it with the given TTL.
func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[key]
	if !ok || now.After(w.expiry) {
		w = &window{expiry: now.Add(ttl)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// Close stops the janitor and drops all counters.
func (c *MemoryCounter) Close() {
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	c.windows = make(map[string]*window)
	c.mu.Unlock()
}

func (c *MemoryCounter) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, w := range c.windows {
				if now.After(w.expiry) {
					delete(c.windows, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
