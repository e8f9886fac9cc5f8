package models

import "time"

// CrawlEvent is one observed HTTP request against a tenant's site.
// Events are immutable, append-only facts. ServerTS is authoritative and
// set at ingestion; ClientTS is advisory metadata only and is never used
// for ordering or retention.
type CrawlEvent struct {
	ID            int64
	TenantID      string
	ServerTS      time.Time
	ClientTS      *time.Time
	Host          string
	Path          string
	Method        string
	Status        *int
	UserAgent     string
	IPPrefix      string
	IsBot         bool
	CrawlerFamily string
	Source        string
	ResponseBytes int64
	ContentType   string
	ResourceHash  string
}

// EventSummary holds headline counts for a reporting period.
type EventSummary struct {
	TotalEvents int64 `json:"total_events"`
	BotEvents   int64 `json:"bot_events"`
	HumanEvents int64 `json:"human_events"`
}

// CrawlerStat is the per-family rollup of bot traffic.
type CrawlerStat struct {
	Family          string `json:"family"`
	Bytes           int64  `json:"bytes"`
	Requests        int64  `json:"requests"`
	EstimatedTokens int64  `json:"estimated_tokens"`
	UniqueResources int64  `json:"unique_resources"`
}

// DayDigest is a tamper-evidence checkpoint: a deterministic hash over the
// sorted set of event ids recorded on one calendar day.
type DayDigest struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Count  int64  `json:"count"`
	Digest string `json:"digest"` // hex sha256
}
