package models

import "time"

// Tenant is a publisher/domain whose traffic is tracked independently.
// Tenants are never deleted implicitly; deletion cascades to events,
// resources, and keys.
type Tenant struct {
	ID            string
	Domain        string
	RetentionDays int
	CreatedAt     time.Time
}

// APIKey maps a key id to a tenant and its HMAC secret, encrypted at rest.
// Exactly one live secret per key id: rotation replaces EncryptedSecret
// atomically and invalidates the previous value for new requests.
type APIKey struct {
	ID              string
	TenantID        string
	EncryptedSecret []byte // IV ‖ AuthTag ‖ Ciphertext
	CreatedAt       time.Time
	RotatedAt       *time.Time
}
