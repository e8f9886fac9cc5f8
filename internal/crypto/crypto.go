package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// GenerateSecret generates a 32-byte cryptographically secure random secret.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}
	return secret, nil
}

// DeriveKey derives a 32-byte key from the master key using HKDF-SHA256.
// The context string separates key uses (e.g. "trace-secret-v1").
func DeriveKey(masterKey []byte, context string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, masterKey, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// EncryptSecret encrypts plaintext with AES-256-GCM. The stored layout is
// IV, then auth tag, then ciphertext.
func EncryptSecret(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}
	// gcm.Seal appends the tag after the ciphertext; reorder to the
	// IV/tag/ciphertext storage layout.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - gcm.Overhead()
	blob := make([]byte, 0, len(iv)+len(sealed))
	blob = append(blob, iv...)
	blob = append(blob, sealed[tagStart:]...)
	blob = append(blob, sealed[:tagStart]...)
	return blob, nil
}

// DecryptSecret decrypts a blob produced by EncryptSecret.
func DecryptSecret(blob, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	ivLen := gcm.NonceSize()
	tagLen := gcm.Overhead()
	if len(blob) < ivLen+tagLen {
		return nil, errors.New("encrypted secret too short")
	}
	iv := blob[:ivLen]
	tag := blob[ivLen : ivLen+tagLen]
	ciphertext := blob[ivLen+tagLen:]
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// SignHMAC computes the base64 HMAC-SHA256 signature of body under secret.
func SignHMAC(secret, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyHMAC checks a claimed base64 signature against body in constant time.
func VerifyHMAC(secret, body []byte, signature string) bool {
	claimed, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hmac.Equal(h.Sum(nil), claimed)
}

// NonceKey derives the replay nonce for a submission: SHA-256 over the key
// id, the claimed timestamp, and the raw body, hex encoded.
func NonceKey(keyID string, timestampMS int64, body []byte) string {
	h := sha256.New()
	h.Write([]byte(keyID))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestampMS))
	h.Write(ts[:])
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
