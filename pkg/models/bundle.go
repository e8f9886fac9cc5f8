package models

import "time"

// BundleManifest is the signed content of a monthly compliance bundle.
// It is serialized deterministically before signing; any later change to
// the underlying event data (e.g. pruning) yields a different manifest.
type BundleManifest struct {
	TenantID       string            `json:"tenant_id"`
	Domain         string            `json:"domain"`
	Year           int               `json:"year"`
	Month          int               `json:"month"`
	GeneratedAt    time.Time         `json:"generated_at"`
	Summary        EventSummary      `json:"summary"`
	Footprint      *FootprintMetrics `json:"footprint"`
	Violations     []PolicyViolation `json:"violations"`
	PolicyVersions []PolicyVersion   `json:"policy_versions"`
	DailyDigests   []DayDigest       `json:"daily_digests"`
}

// SignedBundle is the compact signed object handed to callers: a base64url
// JSON header carrying the algorithm and key id, the base64url manifest
// bytes, and the base64url signature over header.payload.
type SignedBundle struct {
	Header    string `json:"header"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// BundleHeader is the decoded signing header.
type BundleHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}
