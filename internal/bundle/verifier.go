package bundle

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"github.com/originaryx/trace/pkg/models"
)

// Verification failures. ErrBadSignature covers both a corrupt signature
// and a payload that no longer matches it.
var (
	ErrMalformedBundle = errors.New("malformed_bundle")
	ErrUnknownKid      = errors.New("unknown_kid")
	ErrBadSignature    = errors.New("bad_signature")
)

// KeyResolver maps a kid to its verification key.
type KeyResolver interface {
	Key(kid string) (pub []byte, ok bool)
}

// keySetResolver adapts KeySet to KeyResolver.
type keySetResolver struct{ ks KeySet }

func (r keySetResolver) Key(kid string) ([]byte, bool) {
	pub, ok := r.ks.Key(kid)
	return pub, ok
}

// Verifier checks signed bundles against a key set.
type Verifier struct {
	keys KeyResolver
}

func NewVerifier(keys KeyResolver) *Verifier {
	return &Verifier{keys: keys}
}

// NewVerifierFromKeySet verifies against a fixed, already-fetched JWKS.
func NewVerifierFromKeySet(ks KeySet) *Verifier {
	return &Verifier{keys: keySetResolver{ks: ks}}
}

// Verify checks the signature over header.payload and returns the decoded
// header on success.
func (v *Verifier) Verify(b *models.SignedBundle) (*models.BundleHeader, error) {
	headerJSON, err := base64.RawURLEncoding.DecodeString(b.Header)
	if err != nil {
		return nil, ErrMalformedBundle
	}
	var header models.BundleHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, ErrMalformedBundle
	}
	if header.Alg != "EdDSA" {
		return nil, fmt.Errorf("%w: alg %q", ErrMalformedBundle, header.Alg)
	}
	if _, err := base64.RawURLEncoding.DecodeString(b.Payload); err != nil {
		return nil, ErrMalformedBundle
	}

	pub, ok := v.keys.Key(header.Kid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKid, header.Kid)
	}

	signingString := b.Header + "." + b.Payload
	if err := jwt.SigningMethodEdDSA.Verify(signingString, b.Signature, ed25519.PublicKey(pub)); err != nil {
		return nil, ErrBadSignature
	}
	return &header, nil
}

// Manifest decodes the payload of a bundle. Call Verify first; decoding
// does not authenticate.
func Manifest(b *models.SignedBundle) (*models.BundleManifest, error) {
	payloadJSON, err := base64.RawURLEncoding.DecodeString(b.Payload)
	if err != nil {
		return nil, ErrMalformedBundle
	}
	var m models.BundleManifest
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return nil, ErrMalformedBundle
	}
	return &m, nil
}
