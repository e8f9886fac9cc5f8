package storage

import (
	"context"
	"errors"
	"time"

	"github.com/originaryx/trace/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a record that already exists.
var ErrAlreadyExists = errors.New("already exists")

// StorageBackend defines the persistence interface for Trace.
type StorageBackend interface {
	// Tenants and API keys
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	DeleteTenant(ctx context.Context, id string) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*models.APIKey, error)
	RotateAPIKeySecret(ctx context.Context, id string, encryptedSecret []byte) error

	// Crawl events (append-only)
	InsertEvents(ctx context.Context, events []*models.CrawlEvent) (int, error)
	PruneEvents(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
	EventSummary(ctx context.Context, tenantID string, start, end time.Time) (*models.EventSummary, error)
	BotTotals(ctx context.Context, tenantID string, start, end time.Time) (bytes, requests int64, err error)
	CrawlerStats(ctx context.Context, tenantID string, start, end time.Time) ([]models.CrawlerStat, error)
	EventIDsByDay(ctx context.Context, tenantID string, start, end time.Time) (map[string][]int64, error)
	ListEventMonths(ctx context.Context, tenantID string) ([]string, error)

	// Resource catalog
	UpsertResources(ctx context.Context, updates []models.ResourceUpdate) error
	ResourceTotals(ctx context.Context, tenantID string, start, end time.Time) (unique, bytes, tokens int64, err error)
	TopResources(ctx context.Context, tenantID string, start, end time.Time, limit int) ([]models.Resource, error)

	// Policy audit trail (append-only; consumed read-only by the signer)
	AppendPolicyVersion(ctx context.Context, v *models.PolicyVersion) error
	ListPolicyVersions(ctx context.Context, tenantID string, start, end time.Time) ([]models.PolicyVersion, error)
	ListViolations(ctx context.Context, tenantID string, start, end time.Time) ([]models.PolicyViolation, error)

	// Metrics helpers
	CountTenants(ctx context.Context) (int64, error)
	CountEvents(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}
