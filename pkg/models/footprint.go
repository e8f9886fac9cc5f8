package models

import "time"

// FootprintMetrics describes how much distinct content bots accessed in a
// window and its estimated token value. Totals are bot traffic only.
type FootprintMetrics struct {
	TenantID        string        `json:"tenant_id"`
	WindowStart     time.Time     `json:"window_start"`
	WindowEnd       time.Time     `json:"window_end"`
	TotalBytes      int64         `json:"total_bytes"`
	TotalRequests   int64         `json:"total_requests"`
	UniqueResources int64         `json:"unique_resources"`
	UniqueBytes     int64         `json:"unique_bytes"`
	EstimatedTokens int64         `json:"estimated_tokens"`
	EstimatedValue  float64       `json:"estimated_value"`
	ByCrawler       []CrawlerStat `json:"by_crawler"`
	TopResources    []Resource    `json:"top_resources"`
}
