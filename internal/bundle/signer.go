package bundle

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/originaryx/trace/pkg/models"
)

// ErrInvalidPeriod is returned for a month outside 1..12 or an
// unreasonable year.
var ErrInvalidPeriod = errors.New("invalid_period")

// ManifestSource is the read-only slice of storage the signer consumes.
type ManifestSource interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	EventSummary(ctx context.Context, tenantID string, start, end time.Time) (*models.EventSummary, error)
	EventIDsByDay(ctx context.Context, tenantID string, start, end time.Time) (map[string][]int64, error)
	ListPolicyVersions(ctx context.Context, tenantID string, start, end time.Time) ([]models.PolicyVersion, error)
	ListViolations(ctx context.Context, tenantID string, start, end time.Time) ([]models.PolicyViolation, error)
}

// FootprintSource computes footprint metrics for the manifest.
type FootprintSource interface {
	Compute(ctx context.Context, tenantID string, start, end time.Time) (*models.FootprintMetrics, error)
}

// Signer assembles monthly manifests and signs them with Ed25519.
// Signing reads but never writes: generating a bundle twice for the same
// month yields two independently valid bundles.
type Signer struct {
	store     ManifestSource
	footprint FootprintSource
	key       ed25519.PrivateKey
	kid       string
	now       func() time.Time
}

func NewSigner(store ManifestSource, footprint FootprintSource, key ed25519.PrivateKey) *Signer {
	return &Signer{
		store:     store,
		footprint: footprint,
		key:       key,
		kid:       KeyID(key.Public().(ed25519.PublicKey)),
		now:       time.Now,
	}
}

// Sign builds and signs the compliance bundle for one calendar month.
func (s *Signer) Sign(ctx context.Context, tenantID string, year, month int) (*models.SignedBundle, error) {
	if month < 1 || month > 12 || year < 2000 || year > 9999 {
		return nil, ErrInvalidPeriod
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant: %w", err)
	}

	summary, err := s.store.EventSummary(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("event summary: %w", err)
	}

	fp, err := s.footprint.Compute(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("footprint: %w", err)
	}

	violations, err := s.store.ListViolations(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("violations: %w", err)
	}

	versions, err := s.store.ListPolicyVersions(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("policy versions: %w", err)
	}

	digests, err := s.dailyDigests(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	manifest := &models.BundleManifest{
		TenantID:       tenantID,
		Domain:         tenant.Domain,
		Year:           year,
		Month:          month,
		GeneratedAt:    s.now().UTC(),
		Summary:        *summary,
		Footprint:      fp,
		Violations:     violations,
		PolicyVersions: versions,
		DailyDigests:   digests,
	}
	return s.seal(manifest)
}

// dailyDigests hashes each day's sorted event-id set. The digest changes
// if any event is later added or pruned, which is the tamper-evidence
// property the manifest relies on.
func (s *Signer) dailyDigests(ctx context.Context, tenantID string, start, end time.Time) ([]models.DayDigest, error) {
	byDay, err := s.store.EventIDsByDay(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("event ids: %w", err)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	digests := make([]models.DayDigest, 0, len(days))
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids := byDay[day]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		h := sha256.New()
		var buf [8]byte
		for _, id := range ids {
			binary.BigEndian.PutUint64(buf[:], uint64(id))
			h.Write(buf[:])
		}
		digests = append(digests, models.DayDigest{
			Date:   day,
			Count:  int64(len(ids)),
			Digest: hex.EncodeToString(h.Sum(nil)),
		})
	}
	return digests, nil
}

func (s *Signer) seal(manifest *models.BundleManifest) (*models.SignedBundle, error) {
	headerJSON, err := json.Marshal(models.BundleHeader{Alg: "EdDSA", Kid: s.kid, Typ: "trace-bundle+json"})
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	payloadJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	header := base64.RawURLEncoding.EncodeToString(headerJSON)
	payload := base64.RawURLEncoding.EncodeToString(payloadJSON)

	signature, err := jwt.SigningMethodEdDSA.Sign(header+"."+payload, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	return &models.SignedBundle{Header: header, Payload: payload, Signature: signature}, nil
}
