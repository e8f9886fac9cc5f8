package replay

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSetIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "nonce-a", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	if !ok {
		t.Fatal("first insertion should win")
	}

	ok, _ = s.SetIfAbsent(ctx, "nonce-a", time.Minute)
	if ok {
		t.Error("second insertion of same nonce should lose")
	}

	ok, _ = s.SetIfAbsent(ctx, "nonce-b", time.Minute)
	if !ok {
		t.Error("different nonce should win")
	}
}

func TestSetIfAbsentExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	if ok, _ := s.SetIfAbsent(ctx, "nonce-ttl", 10*time.Millisecond); !ok {
		t.Fatal("first insertion should win")
	}
	time.Sleep(20 * time.Millisecond)
	if ok, _ := s.SetIfAbsent(ctx, "nonce-ttl", time.Minute); !ok {
		t.Error("insertion after expiry should win again")
	}
}

func TestSetIfAbsentConcurrent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := s.SetIfAbsent(ctx, "contested", time.Minute)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}
