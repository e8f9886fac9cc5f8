// Package dedup maintains the content-addressed resource catalog. Updates
// run asynchronously after the ingestion response: delivery is best
// effort and failures never propagate back to the ingestion path.
package dedup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/originaryx/trace/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	queueDepth   = 256
	applyTimeout = 30 * time.Second
)

// Catalog is the minimal storage interface the tracker needs.
type Catalog interface {
	UpsertResources(ctx context.Context, updates []models.ResourceUpdate) error
}

// Tracker applies collapsed resource updates through a single worker
// goroutine. Enqueue never blocks the caller: when the queue is full the
// batch is dropped and logged.
type Tracker struct {
	catalog Catalog
	queue   chan []models.ResourceUpdate
	wg      sync.WaitGroup
	once    sync.Once
	dropped func() // metrics hook, may be nil
}

// NewTracker creates a Tracker and starts its worker.
func NewTracker(catalog Catalog, dropped func()) *Tracker {
	t := &Tracker{
		catalog: catalog,
		queue:   make(chan []models.ResourceUpdate, queueDepth),
		dropped: dropped,
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

// Track collapses a batch of events and hands it to the worker.
func (t *Tracker) Track(events []*models.CrawlEvent) {
	updates := Collapse(events)
	if len(updates) == 0 {
		return
	}
	t.Enqueue(updates)
}

// Enqueue submits updates without blocking. Best-effort: a full queue
// drops the batch.
func (t *Tracker) Enqueue(updates []models.ResourceUpdate) {
	select {
	case t.queue <- updates:
	default:
		log.Warn().Int("updates", len(updates)).Msg("resource tracking queue full, dropping batch")
		if t.dropped != nil {
			t.dropped()
		}
	}
}

// Close drains the queue and stops the worker.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.queue) })
	t.wg.Wait()
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for updates := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
		if err := t.catalog.UpsertResources(ctx, updates); err != nil {
			// Degrade silently: the primary event write already
			// succeeded, only the catalog misses these counts.
			log.Error().Err(err).Int("updates", len(updates)).Msg("resource upsert failed")
		}
		cancel()
	}
}

// Collapse folds events carrying a content hash into at most one update
// per (tenant, host, path, hash) key. The first occurrence wins for
// representative metadata; counts accumulate across the batch.
func Collapse(events []*models.CrawlEvent) []models.ResourceUpdate {
	byKey := map[string]int{}
	var updates []models.ResourceUpdate
	for _, e := range events {
		if e.ResourceHash == "" {
			continue
		}
		u := models.ResourceUpdate{
			TenantID:    e.TenantID,
			Host:        e.Host,
			Path:        e.Path,
			ContentHash: e.ResourceHash,
		}
		if idx, ok := byKey[u.Key()]; ok {
			updates[idx].Accesses++
			if e.IsBot {
				updates[idx].BotAccesses++
			}
			if e.ServerTS.After(updates[idx].SeenAt) {
				updates[idx].SeenAt = e.ServerTS
			}
			continue
		}
		u.ContentType = e.ContentType
		u.ContentLength = e.ResponseBytes
		u.EstimatedTokens = EstimateTokens(e.ContentType, e.ResponseBytes)
		u.Accesses = 1
		if e.IsBot {
			u.BotAccesses = 1
		}
		u.SeenAt = e.ServerTS
		byKey[u.Key()] = len(updates)
		updates = append(updates, u)
	}
	return updates
}

// EstimateTokens converts content type and byte length into an estimated
// semantic token count. Deterministic; computed once at resource creation
// and never revised for later accesses to the same hash.
func EstimateTokens(contentType string, contentLength int64) int64 {
	if contentLength < 0 {
		contentLength = 0
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/") || strings.Contains(ct, "html") || strings.Contains(ct, "json"):
		return ceilDiv(contentLength, 4)
	case strings.HasPrefix(ct, "image/"):
		return 765
	case strings.Contains(ct, "pdf"):
		return ceilDiv(contentLength, 50000) * 500
	default:
		return ceilDiv(contentLength, 10)
	}
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
