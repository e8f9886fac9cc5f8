package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/originaryx/trace/internal/crypto"
	"github.com/originaryx/trace/internal/replay"
)

// mockSecrets is a minimal in-memory SecretSource for testing.
type mockSecrets struct {
	keys map[string][]byte // key id → secret
}

func (m *mockSecrets) LookupSecret(_ context.Context, keyID string) (string, []byte, error) {
	if secret, ok := m.keys[keyID]; ok {
		return "tenant-" + keyID, secret, nil
	}
	return "", nil, errors.New("unknown api key")
}

// countingNonces wraps a NonceStore and counts insert attempts.
type countingNonces struct {
	replay.NonceStore
	attempts int
}

func (c *countingNonces) SetIfAbsent(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	c.attempts++
	return c.NonceStore.SetIfAbsent(ctx, nonce, ttl)
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *countingNonces, []byte) {
	t.Helper()
	secret := []byte("test-hmac-secret-32-bytes-long!!")
	nonces := &countingNonces{NonceStore: replay.NewMemoryStore()}
	t.Cleanup(nonces.Close)
	a := NewAuthenticator(&mockSecrets{keys: map[string][]byte{"key-1": secret}}, nonces)
	return a, nonces, secret
}

func TestAuthenticateSuccess(t *testing.T) {
	a, _, secret := newTestAuthenticator(t)
	body := []byte(`{"host":"example.com","path":"/","method":"GET"}`)
	ts := time.Now().UnixMilli()

	tenantID, err := a.Authenticate(context.Background(), "key-1", crypto.SignHMAC(secret, body), ts, body)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if tenantID != "tenant-key-1" {
		t.Errorf("unexpected tenant id %q", tenantID)
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	a, _, secret := newTestAuthenticator(t)
	body := []byte(`{}`)
	_, err := a.Authenticate(context.Background(), "key-missing", crypto.SignHMAC(secret, body), time.Now().UnixMilli(), body)
	if !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
}

func TestAuthenticateInvalidSignature(t *testing.T) {
	a, nonces, secret := newTestAuthenticator(t)
	body := []byte(`{"host":"example.com"}`)
	ts := time.Now().UnixMilli()

	sig := crypto.SignHMAC(secret, append([]byte(nil), append(body, 'x')...))
	_, err := a.Authenticate(context.Background(), "key-1", sig, ts, body)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	// Invalid signatures must never consume a nonce slot.
	if nonces.attempts != 0 {
		t.Errorf("nonce store consulted %d times for a forged signature", nonces.attempts)
	}

	// The same payload with a valid signature still goes through.
	if _, err := a.Authenticate(context.Background(), "key-1", crypto.SignHMAC(secret, body), ts, body); err != nil {
		t.Errorf("legitimate submission after forgery attempt failed: %v", err)
	}
}

func TestAuthenticateTimestampSkew(t *testing.T) {
	a, nonces, secret := newTestAuthenticator(t)
	body := []byte(`{}`)
	sig := crypto.SignHMAC(secret, body)

	cases := []struct {
		name string
		ts   int64
		want error
	}{
		{"too old", time.Now().Add(-6 * time.Minute).UnixMilli(), ErrTimestampSkew},
		{"too new", time.Now().Add(6 * time.Minute).UnixMilli(), ErrTimestampSkew},
		{"within window", time.Now().Add(-4 * time.Minute).UnixMilli(), nil},
	}
	for _, tc := range cases {
		_, err := a.Authenticate(context.Background(), "key-1", sig, tc.ts, body)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	// Only the in-window submission should have reached the nonce store.
	if nonces.attempts != 1 {
		t.Errorf("expected 1 nonce attempt, got %d", nonces.attempts)
	}
}

func TestAuthenticateReplay(t *testing.T) {
	a, _, secret := newTestAuthenticator(t)
	body := []byte(`[{"host":"example.com","path":"/a","method":"GET"}]`)
	ts := time.Now().UnixMilli()
	sig := crypto.SignHMAC(secret, body)

	if _, err := a.Authenticate(context.Background(), "key-1", sig, ts, body); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	_, err := a.Authenticate(context.Background(), "key-1", sig, ts, body)
	if !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected on byte-identical resubmission, got %v", err)
	}

	// A different timestamp (resigned batch) is a new submission.
	ts2 := ts + 1
	if _, err := a.Authenticate(context.Background(), "key-1", sig, ts2, body); err != nil {
		t.Errorf("submission with fresh timestamp failed: %v", err)
	}
}
