// Package secrets manages per-tenant API key secrets, encrypted at rest
// with a key derived from the configured master key.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/originaryx/trace/internal/crypto"
	"github.com/originaryx/trace/internal/storage"
	"github.com/originaryx/trace/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix  = "trk_"
	kekContext = "trace-secret-v1"

	// lookupTimeout bounds the only network call on the ingestion hot
	// path before signature verification. Lookups that exceed it fail
	// closed.
	lookupTimeout = 2 * time.Second
)

// ErrUnknownKey is returned when a key id cannot be resolved to a live
// secret, for any reason. Callers must not distinguish lookup failure
// modes to the client.
var ErrUnknownKey = errors.New("unknown api key")

// Store creates, rotates, and resolves tenant API key secrets.
type Store struct {
	store storage.StorageBackend
	kek   []byte
}

// NewStore derives the at-rest encryption key and returns a ready Store.
func NewStore(store storage.StorageBackend, masterKey []byte) (*Store, error) {
	kek, err := crypto.DeriveKey(masterKey, kekContext)
	if err != nil {
		return nil, fmt.Errorf("deriving secret KEK: %w", err)
	}
	return &Store{store: store, kek: kek}, nil
}

// CreateTenant registers a tenant and issues its first API key. The
// plaintext secret is returned exactly once and never stored.
func (s *Store) CreateTenant(ctx context.Context, domain string, retentionDays int) (*models.Tenant, string, string, error) {
	tenant := &models.Tenant{
		ID:            uuid.NewString(),
		Domain:        domain,
		RetentionDays: retentionDays,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		return nil, "", "", fmt.Errorf("creating tenant: %w", err)
	}

	keyID, plaintext, err := s.issueKey(ctx, tenant.ID)
	if err != nil {
		return nil, "", "", err
	}
	log.Info().Str("tenant", tenant.ID).Str("domain", domain).Str("key_id", keyID).Msg("tenant created")
	return tenant, keyID, plaintext, nil
}

// RotateKey atomically replaces the secret for an existing key id and
// returns the new plaintext. There is no grace window: requests signed
// with the old secret fail from this point on.
func (s *Store) RotateKey(ctx context.Context, keyID string) (string, error) {
	if _, err := s.store.GetAPIKey(ctx, keyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrUnknownKey
		}
		return "", err
	}

	secret, err := crypto.GenerateSecret()
	if err != nil {
		return "", err
	}
	encrypted, err := crypto.EncryptSecret(secret, s.kek)
	if err != nil {
		return "", fmt.Errorf("encrypting secret: %w", err)
	}
	if err := s.store.RotateAPIKeySecret(ctx, keyID, encrypted); err != nil {
		return "", fmt.Errorf("rotating key: %w", err)
	}
	log.Info().Str("key_id", keyID).Msg("api key rotated")
	return base64.RawURLEncoding.EncodeToString(secret), nil
}

// LookupSecret resolves a key id to its tenant and decrypted secret.
// Any failure (missing key, storage error, decryption error) resolves to
// ErrUnknownKey: no implicit trust fallback.
func (s *Store) LookupSecret(ctx context.Context, keyID string) (string, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("key_id", keyID).Msg("api key lookup failed")
		}
		return "", nil, ErrUnknownKey
	}
	secret, err := crypto.DecryptSecret(key.EncryptedSecret, s.kek)
	if err != nil {
		log.Error().Err(err).Str("key_id", keyID).Msg("api key secret decryption failed")
		return "", nil, ErrUnknownKey
	}
	return key.TenantID, secret, nil
}

// DeleteTenant removes a tenant and all dependent rows. Explicit and
// irreversible; the cascade is handled by the schema.
func (s *Store) DeleteTenant(ctx context.Context, tenantID string) error {
	if err := s.store.DeleteTenant(ctx, tenantID); err != nil {
		return err
	}
	log.Warn().Str("tenant", tenantID).Msg("tenant deleted with all events and resources")
	return nil
}

func (s *Store) issueKey(ctx context.Context, tenantID string) (string, string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating key id: %w", err)
	}
	keyID := keyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	secret, err := crypto.GenerateSecret()
	if err != nil {
		return "", "", err
	}
	encrypted, err := crypto.EncryptSecret(secret, s.kek)
	if err != nil {
		return "", "", fmt.Errorf("encrypting secret: %w", err)
	}
	key := &models.APIKey{
		ID:              keyID,
		TenantID:        tenantID,
		EncryptedSecret: encrypted,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", "", fmt.Errorf("persisting api key: %w", err)
	}
	return keyID, base64.RawURLEncoding.EncodeToString(secret), nil
}
