package models

import "time"

// PolicyVersion records one revision of a tenant's published crawl policy.
// Versions are append-only; the active version at any instant is the most
// recent one at or before that instant.
type PolicyVersion struct {
	ID          int64     `json:"-"`
	TenantID    string    `json:"-"`
	Version     int       `json:"version"`
	ContentHash string    `json:"content_hash"`
	PolicyText  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// PolicyViolation is one detected breach of the tenant's policy, recorded
// by an upstream detector and consumed read-only by the bundle signer.
type PolicyViolation struct {
	ID            int64     `json:"-"`
	TenantID      string    `json:"-"`
	CrawlerFamily string    `json:"crawler_family"`
	Rule          string    `json:"rule"`
	Detail        string    `json:"detail"`
	ObservedAt    time.Time `json:"observed_at"`
}
