package models

import "time"

// Resource is a deduplicated content identity, unique on
// (tenant_id, host, path, content_hash). A changed hash for the same
// (host, path) creates a new row: content is versioned by hash, never
// overwritten. Invariant: AccessCount >= BotAccessCount >= 0.
type Resource struct {
	ID              int64     `json:"-"`
	TenantID        string    `json:"-"`
	Host            string    `json:"host"`
	Path            string    `json:"path"`
	ContentHash     string    `json:"content_hash"`
	ContentType     string    `json:"content_type"`
	ContentLength   int64     `json:"content_length"`
	EstimatedTokens int64     `json:"estimated_tokens"`
	AccessCount     int64     `json:"access_count"`
	BotAccessCount  int64     `json:"bot_access_count"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// ResourceUpdate is one collapsed catalog update: the counts accumulated
// for a (tenant, host, path, hash) key within a single batch.
type ResourceUpdate struct {
	TenantID      string
	Host          string
	Path          string
	ContentHash   string
	ContentType   string
	ContentLength int64
	// EstimatedTokens is computed once before the update is applied and
	// only takes effect when the update creates the resource.
	EstimatedTokens int64
	Accesses        int64
	BotAccesses     int64
	SeenAt          time.Time
}

// Key returns the catalog identity of the update.
func (u ResourceUpdate) Key() string {
	return u.TenantID + "\x00" + u.Host + "\x00" + u.Path + "\x00" + u.ContentHash
}
