package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/originaryx/trace/pkg/models"
)

// memCatalog is an in-memory Catalog applying the same upsert semantics
// as the SQL backend.
type memCatalog struct {
	mu        sync.Mutex
	resources map[string]*models.Resource
	batches   int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{resources: map[string]*models.Resource{}}
}

func (c *memCatalog) UpsertResources(_ context.Context, updates []models.ResourceUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	for _, u := range updates {
		key := u.Key()
		if r, ok := c.resources[key]; ok {
			r.AccessCount += u.Accesses
			r.BotAccessCount += u.BotAccesses
			if u.SeenAt.After(r.LastSeenAt) {
				r.LastSeenAt = u.SeenAt
			}
			continue
		}
		c.resources[key] = &models.Resource{
			TenantID:        u.TenantID,
			Host:            u.Host,
			Path:            u.Path,
			ContentHash:     u.ContentHash,
			ContentType:     u.ContentType,
			ContentLength:   u.ContentLength,
			EstimatedTokens: u.EstimatedTokens,
			AccessCount:     u.Accesses,
			BotAccessCount:  u.BotAccesses,
			FirstSeenAt:     u.SeenAt,
			LastSeenAt:      u.SeenAt,
		}
	}
	return nil
}

func botEvent(path, hash string, bytes int64) *models.CrawlEvent {
	return &models.CrawlEvent{
		TenantID:      "tenant-1",
		ServerTS:      time.Now().UTC(),
		Host:          "example.com",
		Path:          path,
		ContentType:   "text/html",
		ResponseBytes: bytes,
		ResourceHash:  hash,
		IsBot:         true,
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		contentType string
		length      int64
		want        int64
	}{
		{"text/html", 4000, 1000},
		{"text/html; charset=utf-8", 4001, 1001},
		{"application/json", 8, 2},
		{"image/png", 123456, 765},
		{"image/jpeg", 1, 765},
		{"application/pdf", 100000, 1000},
		{"application/pdf", 100001, 1500},
		{"application/octet-stream", 95, 10},
		{"video/mp4", 1000, 100},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.contentType, tc.length); got != tc.want {
			t.Errorf("EstimateTokens(%q, %d) = %d, want %d", tc.contentType, tc.length, got, tc.want)
		}
	}
}

func TestCollapse(t *testing.T) {
	events := []*models.CrawlEvent{
		botEvent("/a", "hash-a", 4000),
		botEvent("/a", "hash-a", 4000),
		botEvent("/a", "hash-a2", 5000), // same path, new hash → new key
		botEvent("/b", "hash-b", 100),
		{TenantID: "tenant-1", Host: "example.com", Path: "/b", ResourceHash: "hash-b", IsBot: false, ServerTS: time.Now().UTC()},
		{TenantID: "tenant-1", Host: "example.com", Path: "/nohash"},
	}
	updates := Collapse(events)
	if len(updates) != 3 {
		t.Fatalf("expected 3 collapsed updates, got %d", len(updates))
	}

	byHash := map[string]models.ResourceUpdate{}
	for _, u := range updates {
		byHash[u.ContentHash] = u
	}
	if u := byHash["hash-a"]; u.Accesses != 2 || u.BotAccesses != 2 {
		t.Errorf("hash-a: got accesses=%d bot=%d, want 2/2", u.Accesses, u.BotAccesses)
	}
	if u := byHash["hash-b"]; u.Accesses != 2 || u.BotAccesses != 1 {
		t.Errorf("hash-b: got accesses=%d bot=%d, want 2/1", u.Accesses, u.BotAccesses)
	}
	if u := byHash["hash-a2"]; u.Accesses != 1 {
		t.Errorf("hash-a2: got accesses=%d, want 1", u.Accesses)
	}
}

func TestTrackerIdempotentTokenEstimate(t *testing.T) {
	catalog := newMemCatalog()
	tracker := NewTracker(catalog, nil)

	const k = 5
	for i := 0; i < k; i++ {
		tracker.Track([]*models.CrawlEvent{botEvent("/a", "hash-a", 4000)})
	}
	tracker.Close()

	if len(catalog.resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(catalog.resources))
	}
	for _, r := range catalog.resources {
		if r.AccessCount != k || r.BotAccessCount != k {
			t.Errorf("expected access_count=%d bot_access_count=%d, got %d/%d", k, k, r.AccessCount, r.BotAccessCount)
		}
		if r.EstimatedTokens != 1000 {
			t.Errorf("estimated_tokens should stay at the creation value, got %d", r.EstimatedTokens)
		}
	}
}

func TestTrackerBatchCollapseSavesRoundTrips(t *testing.T) {
	catalog := newMemCatalog()
	tracker := NewTracker(catalog, nil)

	batch := []*models.CrawlEvent{
		botEvent("/a", "hash-a", 4000),
		botEvent("/a", "hash-a", 4000),
		botEvent("/a", "hash-a", 4000),
	}
	tracker.Track(batch)
	tracker.Close()

	if catalog.batches != 1 {
		t.Errorf("expected a single catalog round trip, got %d", catalog.batches)
	}
	for _, r := range catalog.resources {
		if r.AccessCount != 3 {
			t.Errorf("collapsed counts should be preserved, got %d", r.AccessCount)
		}
	}
}

func TestTrackerDropsWhenQueueFull(t *testing.T) {
	dropped := 0
	// A catalog that blocks until released, so the queue backs up.
	release := make(chan struct{})
	catalog := &blockingCatalog{release: release}
	tracker := NewTracker(catalog, func() { dropped++ })

	for i := 0; i < queueDepth+10; i++ {
		tracker.Enqueue([]models.ResourceUpdate{{TenantID: "t", Host: "h", Path: "/", ContentHash: "x", Accesses: 1}})
	}
	close(release)
	tracker.Close()

	if dropped == 0 {
		t.Error("expected some batches to be dropped when the queue is full")
	}
}

type blockingCatalog struct {
	release chan struct{}
	applied int
}

func (c *blockingCatalog) UpsertResources(context.Context, []models.ResourceUpdate) error {
	<-c.release
	c.applied++
	return nil
}
