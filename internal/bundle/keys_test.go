package bundle

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoadOrGenerateKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.key")

	generated, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	loaded, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !generated.Equal(loaded) {
		t.Error("reloaded key differs from generated key")
	}
	if KeyID(generated.Public().(ed25519.PublicKey)) != KeyID(loaded.Public().(ed25519.PublicKey)) {
		t.Error("kid changed across reload")
	}
}

func TestKeySetLookup(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	ks := NewKeySet(pub)

	got, ok := ks.Key(KeyID(pub))
	if !ok || !pub.Equal(got) {
		t.Fatal("published key should resolve by its kid")
	}
	if _, ok := ks.Key("deadbeef"); ok {
		t.Error("unknown kid must not resolve")
	}
}

func TestFetcherServesStaleOnFailure(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	var failing atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(NewKeySet(pub))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, time.Millisecond)

	ks, err := f.Keys(context.Background())
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	if _, ok := ks.Key(KeyID(pub)); !ok {
		t.Fatal("fetched key set missing the published key")
	}

	failing.Store(true)
	time.Sleep(5 * time.Millisecond) // let the cache interval lapse

	ks, err = f.Keys(context.Background())
	if err != nil {
		t.Fatalf("stale fallback should not error: %v", err)
	}
	if _, ok := ks.Key(KeyID(pub)); !ok {
		t.Error("stale copy should still carry the key")
	}
}

func TestFetcherErrorsWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, time.Minute)
	if _, err := f.Keys(context.Background()); err == nil {
		t.Fatal("first fetch failure with no cache must surface an error")
	}
}
