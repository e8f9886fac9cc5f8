package replay

import (
	"context"
	"sync"
	"time"
)

const janitorInterval = time.Minute

// MemoryStore is a process-local NonceStore for single-instance
// deployments. A janitor goroutine evicts expired entries.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce → expiry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a MemoryStore and starts its janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// SetIfAbsent inserts the nonce unless a live entry already exists.
func (s *MemoryStore) SetIfAbsent(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.entries[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	s.entries[nonce] = now.Add(ttl)
	return true, nil
}

// Close stops the janitor and clears the set.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	s.entries = make(map[string]time.Time)
	s.mu.Unlock()
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for nonce, exp := range s.entries {
				if now.After(exp) {
					delete(s.entries, nonce)
				}
			}
			s.mu.Unlock()
		}
	}
}
