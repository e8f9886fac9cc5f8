package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if len(secret) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(secret))
	}
	secret2, _ := GenerateSecret()
	if bytes.Equal(secret, secret2) {
		t.Error("two generated secrets should not be equal")
	}
}

func TestDeriveKey(t *testing.T) {
	master, _ := GenerateSecret()
	key, err := DeriveKey(master, "trace-secret-v1")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(key))
	}
	// Same inputs → same key (deterministic)
	key2, _ := DeriveKey(master, "trace-secret-v1")
	if !bytes.Equal(key, key2) {
		t.Error("key derivation should be deterministic")
	}
	// Different context → different key
	key3, _ := DeriveKey(master, "trace-secret-v2")
	if bytes.Equal(key, key3) {
		t.Error("different contexts should yield different keys")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, _ := GenerateSecret()
	plaintext := []byte("per-tenant hmac secret 12345")

	blob, err := EncryptSecret(plaintext, key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Error("blob should not contain plaintext")
	}
	// 12-byte IV + 16-byte tag precede the ciphertext
	if len(blob) != 12+16+len(plaintext) {
		t.Errorf("unexpected blob length %d", len(blob))
	}

	decrypted, err := DecryptSecret(blob, key)
	if err != nil {
		t.Fatalf("DecryptSecret failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted %q != original %q", decrypted, plaintext)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key, _ := GenerateSecret()
	wrongKey, _ := GenerateSecret()
	blob, _ := EncryptSecret([]byte("secret data"), key)
	if _, err := DecryptSecret(blob, wrongKey); err == nil {
		t.Error("decryption with wrong key should fail")
	}
}

func TestDecryptTamperedBlob(t *testing.T) {
	key, _ := GenerateSecret()
	blob, _ := EncryptSecret([]byte("secret data"), key)
	for _, idx := range []int{0, 13, len(blob) - 1} {
		tampered := append([]byte(nil), blob...)
		tampered[idx] ^= 0x01
		if _, err := DecryptSecret(tampered, key); err == nil {
			t.Errorf("decryption of blob tampered at %d should fail", idx)
		}
	}
}

func TestHMACSignVerify(t *testing.T) {
	secret := []byte("shared-secret")
	body := []byte(`{"host":"example.com","path":"/a"}`)

	sig := SignHMAC(secret, body)
	if !VerifyHMAC(secret, body, sig) {
		t.Fatal("signature should verify against original body")
	}

	// Any single-byte mutation of the body must fail verification.
	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		if VerifyHMAC(secret, mutated, sig) {
			t.Fatalf("mutated body at byte %d should not verify", i)
		}
	}

	if VerifyHMAC([]byte("other-secret"), body, sig) {
		t.Error("wrong secret should not verify")
	}
	if VerifyHMAC(secret, body, "!!not-base64!!") {
		t.Error("malformed signature should not verify")
	}
}

func TestNonceKey(t *testing.T) {
	a := NonceKey("key-1", 1700000000000, []byte("body"))
	if a != NonceKey("key-1", 1700000000000, []byte("body")) {
		t.Error("nonce key should be deterministic")
	}
	if a == NonceKey("key-2", 1700000000000, []byte("body")) {
		t.Error("different key id should change nonce")
	}
	if a == NonceKey("key-1", 1700000000001, []byte("body")) {
		t.Error("different timestamp should change nonce")
	}
	if a == NonceKey("key-1", 1700000000000, []byte("body2")) {
		t.Error("different body should change nonce")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256 (64 chars), got %d", len(a))
	}
}
