// Package auth validates signed event batches: HMAC signature, timestamp
// freshness, and replay protection.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/originaryx/trace/internal/crypto"
	"github.com/originaryx/trace/internal/replay"
)

// MaxTimestampSkew is the tolerated difference between the claimed
// timestamp and server time. It also bounds the replay nonce TTL.
const MaxTimestampSkew = 5 * time.Minute

// Authentication failure modes. All map to 401 at the API layer and are
// never retried server-side.
var (
	ErrUnknownKey       = errors.New("invalid_api_key")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrTimestampSkew    = errors.New("timestamp_skew")
	ErrReplayDetected   = errors.New("replay_detected")
)

// SecretSource resolves an API key id to its tenant and HMAC secret.
type SecretSource interface {
	LookupSecret(ctx context.Context, keyID string) (tenantID string, secret []byte, err error)
}

// Authenticator validates inbound event batches.
type Authenticator struct {
	secrets SecretSource
	nonces  replay.NonceStore
	now     func() time.Time
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(secrets SecretSource, nonces replay.NonceStore) *Authenticator {
	return &Authenticator{secrets: secrets, nonces: nonces, now: time.Now}
}

// Authenticate checks the batch signature, timestamp freshness, and replay
// nonce, in that order. The signature is verified before the nonce is
// consumed so forged requests cannot exhaust nonce slots for a later
// legitimate submission. Exactly one of two racing identical submissions
// passes the replay check.
func (a *Authenticator) Authenticate(ctx context.Context, keyID, signature string, timestampMS int64, body []byte) (string, error) {
	tenantID, secret, err := a.secrets.LookupSecret(ctx, keyID)
	if err != nil {
		return "", ErrUnknownKey
	}

	if !crypto.VerifyHMAC(secret, body, signature) {
		return "", ErrInvalidSignature
	}

	skew := a.now().UnixMilli() - timestampMS
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxTimestampSkew.Milliseconds() {
		return "", ErrTimestampSkew
	}

	nonce := crypto.NonceKey(keyID, timestampMS, body)
	inserted, err := a.nonces.SetIfAbsent(ctx, nonce, MaxTimestampSkew)
	if err != nil {
		// Fail closed: without the nonce set we cannot rule out a replay.
		return "", err
	}
	if !inserted {
		return "", ErrReplayDetected
	}
	return tenantID, nil
}
