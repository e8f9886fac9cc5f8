// Package bundle produces and verifies Ed25519-signed monthly compliance
// bundles and publishes the verification keys as a JWKS.
package bundle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// KeyID derives the key identifier published alongside the public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// LoadOrGenerateKey reads an Ed25519 private key from a PKCS#8 PEM file,
// generating and persisting one when the file does not exist.
func LoadOrGenerateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != "PRIVATE KEY" {
			return nil, fmt.Errorf("signing key %s: not a PEM private key", path)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing key %s: %w", path, err)
		}
		key, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key %s: not an Ed25519 key", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("signing key %s: %w", path, err)
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode signing key: %w", err)
	}
	blob := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, fmt.Errorf("write signing key %s: %w", path, err)
	}
	log.Info().Str("path", path).Str("kid", KeyID(key.Public().(ed25519.PublicKey))).
		Msg("generated new bundle signing key")
	return key, nil
}

// JWK is the published form of one Ed25519 verification key.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

// KeySet is a JWKS document restricted to Ed25519 keys.
type KeySet struct {
	Keys []JWK `json:"keys"`
}

// NewKeySet publishes a single public key.
func NewKeySet(pub ed25519.PublicKey) KeySet {
	return KeySet{Keys: []JWK{{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
		Kid: KeyID(pub),
		Use: "sig",
		Alg: "EdDSA",
	}}}
}

// Key returns the public key for kid, if present.
func (ks KeySet) Key(kid string) (ed25519.PublicKey, bool) {
	for _, k := range ks.Keys {
		if k.Kid != kid || k.Kty != "OKP" || k.Crv != "Ed25519" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, false
		}
		return ed25519.PublicKey(raw), true
	}
	return nil, false
}

// Fetcher retrieves a remote JWKS and caches it for a bounded interval.
// When a refresh fails the last good copy keeps serving.
type Fetcher struct {
	url    string
	client *http.Client
	ttl    time.Duration

	mu        sync.Mutex
	cached    KeySet
	fetchedAt time.Time
	primed    bool
}

func NewFetcher(url string, ttl time.Duration) *Fetcher {
	return &Fetcher{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    ttl,
	}
}

// Keys returns the cached key set, refreshing it when the cache interval
// has elapsed.
func (f *Fetcher) Keys(ctx context.Context) (KeySet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.primed && time.Since(f.fetchedAt) < f.ttl {
		return f.cached, nil
	}

	ks, err := f.fetch(ctx)
	if err != nil {
		if f.primed {
			log.Warn().Err(err).Str("url", f.url).Msg("jwks refresh failed, serving cached keys")
			return f.cached, nil
		}
		return KeySet{}, err
	}
	f.cached = ks
	f.fetchedAt = time.Now()
	f.primed = true
	return ks, nil
}

func (f *Fetcher) fetch(ctx context.Context) (KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return KeySet{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return KeySet{}, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return KeySet{}, fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return KeySet{}, fmt.Errorf("read jwks: %w", err)
	}
	var ks KeySet
	if err := json.Unmarshal(body, &ks); err != nil {
		return KeySet{}, fmt.Errorf("parse jwks: %w", err)
	}
	if len(ks.Keys) == 0 {
		return KeySet{}, errors.New("jwks contains no keys")
	}
	return ks, nil
}
