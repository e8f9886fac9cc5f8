// Package footprint computes per-tenant content footprint metrics over a
// time window. All reads go through the storage backend; the aggregator
// holds no state of its own.
package footprint

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/originaryx/trace/pkg/models"
)

// valuePerToken is the flat rate applied to estimated tokens when
// computing estimated value.
const valuePerToken = 0.00002

// topResourceCount bounds the most-accessed resource list in a report.
const topResourceCount = 10

// MetricsSource is the slice of the storage backend the aggregator reads.
type MetricsSource interface {
	BotTotals(ctx context.Context, tenantID string, start, end time.Time) (bytes, requests int64, err error)
	CrawlerStats(ctx context.Context, tenantID string, start, end time.Time) ([]models.CrawlerStat, error)
	ResourceTotals(ctx context.Context, tenantID string, start, end time.Time) (unique, bytes, tokens int64, err error)
	TopResources(ctx context.Context, tenantID string, start, end time.Time, limit int) ([]models.Resource, error)
}

// Aggregator assembles FootprintMetrics from stored events and resources.
type Aggregator struct {
	source MetricsSource
}

func NewAggregator(source MetricsSource) *Aggregator {
	return &Aggregator{source: source}
}

// Compute builds the footprint for a tenant over [start, end). Totals
// count bot traffic only; human events are excluded everywhere except
// the per-resource access counters maintained by the catalog.
func (a *Aggregator) Compute(ctx context.Context, tenantID string, start, end time.Time) (*models.FootprintMetrics, error) {
	bytes, requests, err := a.source.BotTotals(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("bot totals: %w", err)
	}

	byCrawler, err := a.source.CrawlerStats(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("crawler stats: %w", err)
	}
	sort.SliceStable(byCrawler, func(i, j int) bool {
		if byCrawler[i].Bytes != byCrawler[j].Bytes {
			return byCrawler[i].Bytes > byCrawler[j].Bytes
		}
		return byCrawler[i].Family < byCrawler[j].Family
	})

	unique, uniqueBytes, tokens, err := a.source.ResourceTotals(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("resource totals: %w", err)
	}

	top, err := a.source.TopResources(ctx, tenantID, start, end, topResourceCount)
	if err != nil {
		return nil, fmt.Errorf("top resources: %w", err)
	}

	return &models.FootprintMetrics{
		TenantID:        tenantID,
		WindowStart:     start.UTC(),
		WindowEnd:       end.UTC(),
		TotalBytes:      bytes,
		TotalRequests:   requests,
		UniqueResources: unique,
		UniqueBytes:     uniqueBytes,
		EstimatedTokens: tokens,
		EstimatedValue:  float64(tokens) * valuePerToken,
		ByCrawler:       byCrawler,
		TopResources:    top,
	}, nil
}
