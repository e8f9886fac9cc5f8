package bundle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/originaryx/trace/pkg/models"
)

type fakeManifestSource struct {
	tenant   *models.Tenant
	summary  models.EventSummary
	idsByDay map[string][]int64
}

func (f *fakeManifestSource) GetTenant(context.Context, string) (*models.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeManifestSource) EventSummary(context.Context, string, time.Time, time.Time) (*models.EventSummary, error) {
	s := f.summary
	return &s, nil
}

func (f *fakeManifestSource) EventIDsByDay(context.Context, string, time.Time, time.Time) (map[string][]int64, error) {
	out := map[string][]int64{}
	for day, ids := range f.idsByDay {
		out[day] = append([]int64(nil), ids...)
	}
	return out, nil
}

func (f *fakeManifestSource) ListPolicyVersions(context.Context, string, time.Time, time.Time) ([]models.PolicyVersion, error) {
	return nil, nil
}

func (f *fakeManifestSource) ListViolations(context.Context, string, time.Time, time.Time) ([]models.PolicyViolation, error) {
	return nil, nil
}

type fakeFootprint struct{ metrics models.FootprintMetrics }

func (f *fakeFootprint) Compute(_ context.Context, tenantID string, start, end time.Time) (*models.FootprintMetrics, error) {
	m := f.metrics
	m.TenantID = tenantID
	m.WindowStart = start
	m.WindowEnd = end
	return &m, nil
}

func testSigner(t *testing.T) (*Signer, ed25519.PublicKey) {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	source := &fakeManifestSource{
		tenant:  &models.Tenant{ID: "tenant-1", Domain: "example.com"},
		summary: models.EventSummary{TotalEvents: 10, BotEvents: 7, HumanEvents: 3},
		idsByDay: map[string][]int64{
			"2026-08-02": {5, 3, 4},
			"2026-08-01": {1, 2},
		},
	}
	fp := &fakeFootprint{metrics: models.FootprintMetrics{TotalBytes: 600, TotalRequests: 3}}
	return NewSigner(source, fp, key), pub
}

func TestSignAndVerify(t *testing.T) {
	signer, pub := testSigner(t)

	bundle, err := signer.Sign(context.Background(), "tenant-1", 2026, 8)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	verifier := NewVerifierFromKeySet(NewKeySet(pub))
	header, err := verifier.Verify(bundle)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if header.Alg != "EdDSA" || header.Kid != KeyID(pub) {
		t.Errorf("unexpected header: %+v", header)
	}

	manifest, err := Manifest(bundle)
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if manifest.TenantID != "tenant-1" || manifest.Domain != "example.com" {
		t.Errorf("manifest identity: %q / %q", manifest.TenantID, manifest.Domain)
	}
	if manifest.Year != 2026 || manifest.Month != 8 {
		t.Errorf("manifest period: %d-%d", manifest.Year, manifest.Month)
	}
	if manifest.Summary.BotEvents != 7 {
		t.Errorf("summary not carried: %+v", manifest.Summary)
	}
	if manifest.Footprint == nil || manifest.Footprint.TotalBytes != 600 {
		t.Error("footprint not carried into manifest")
	}

	if len(manifest.DailyDigests) != 2 {
		t.Fatalf("expected 2 daily digests, got %d", len(manifest.DailyDigests))
	}
	if manifest.DailyDigests[0].Date != "2026-08-01" || manifest.DailyDigests[1].Date != "2026-08-02" {
		t.Errorf("digests must be date-ordered, got %v", manifest.DailyDigests)
	}
	if manifest.DailyDigests[1].Count != 3 {
		t.Errorf("digest count: got %d, want 3", manifest.DailyDigests[1].Count)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer, pub := testSigner(t)
	bundle, err := signer.Sign(context.Background(), "tenant-1", 2026, 8)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	verifier := NewVerifierFromKeySet(NewKeySet(pub))
	tampered := *bundle
	payload := []byte(tampered.Payload)
	if payload[10] == 'A' {
		payload[10] = 'B'
	} else {
		payload[10] = 'A'
	}
	tampered.Payload = string(payload)

	if _, err := verifier.Verify(&tampered); err == nil {
		t.Fatal("tampered payload must not verify")
	}
}

func TestVerifyUnknownKid(t *testing.T) {
	signer, _ := testSigner(t)
	bundle, err := signer.Sign(context.Background(), "tenant-1", 2026, 8)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)
	verifier := NewVerifierFromKeySet(NewKeySet(otherPub))
	if _, err := verifier.Verify(bundle); !errors.Is(err, ErrUnknownKid) {
		t.Fatalf("expected ErrUnknownKid, got %v", err)
	}
}

func TestResignBothValid(t *testing.T) {
	signer, pub := testSigner(t)
	verifier := NewVerifierFromKeySet(NewKeySet(pub))

	first, err := signer.Sign(context.Background(), "tenant-1", 2026, 8)
	if err != nil {
		t.Fatalf("first Sign failed: %v", err)
	}
	second, err := signer.Sign(context.Background(), "tenant-1", 2026, 8)
	if err != nil {
		t.Fatalf("second Sign failed: %v", err)
	}

	for i, b := range []*models.SignedBundle{first, second} {
		if _, err := verifier.Verify(b); err != nil {
			t.Errorf("bundle %d should verify: %v", i, err)
		}
	}

	// The digests cover the same unchanged data, so they are identical
	// even though generated_at differs.
	m1, _ := Manifest(first)
	m2, _ := Manifest(second)
	for i := range m1.DailyDigests {
		if m1.DailyDigests[i].Digest != m2.DailyDigests[i].Digest {
			t.Errorf("digest for %s changed between signings", m1.DailyDigests[i].Date)
		}
	}
}

func TestSignInvalidPeriod(t *testing.T) {
	signer, _ := testSigner(t)
	for _, p := range []struct{ year, month int }{{2026, 0}, {2026, 13}, {99, 6}} {
		if _, err := signer.Sign(context.Background(), "tenant-1", p.year, p.month); !errors.Is(err, ErrInvalidPeriod) {
			t.Errorf("period %d-%d: expected ErrInvalidPeriod, got %v", p.year, p.month, err)
		}
	}
}
