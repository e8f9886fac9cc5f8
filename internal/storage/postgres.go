package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/originaryx/trace/pkg/models"
)

// PostgresBackend is a StorageBackend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Tenants & API keys ---

func (p *PostgresBackend) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tenants (id, domain, retention_days, created_at) VALUES ($1, $2, $3, $4)`,
		tenant.ID, tenant.Domain, tenant.RetentionDays, tenant.CreatedAt,
	)
	return err
}

func (p *PostgresBackend) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, domain, retention_days, created_at FROM tenants WHERE id = $1`, id,
	)
	var t models.Tenant
	if err := row.Scan(&t.ID, &t.Domain, &t.RetentionDays, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (p *PostgresBackend) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, domain, retention_days, created_at FROM tenants ORDER BY domain`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []*models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Domain, &t.RetentionDays, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// DeleteTenant removes a tenant and cascades to its keys, events, resources,
// and policy history. Irreversible; callers must log the operation.
func (p *PostgresBackend) DeleteTenant(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, encrypted_secret, created_at) VALUES ($1, $2, $3, $4)`,
		key.ID, key.TenantID, key.EncryptedSecret, key.CreatedAt,
	)
	return err
}

func (p *PostgresBackend) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, tenant_id, encrypted_secret, created_at, rotated_at FROM api_keys WHERE id = $1`, id,
	)
	var k models.APIKey
	if err := row.Scan(&k.ID, &k.TenantID, &k.EncryptedSecret, &k.CreatedAt, &k.RotatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &k, nil
}

// RotateAPIKeySecret replaces the encrypted secret in a single statement so
// the previous value is invalidated atomically for new requests.
func (p *PostgresBackend) RotateAPIKeySecret(ctx context.Context, id string, encryptedSecret []byte) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE api_keys SET encrypted_secret = $1, rotated_at = NOW() WHERE id = $2`,
		encryptedSecret, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Crawl events ---

func (p *PostgresBackend) InsertEvents(ctx context.Context, events []*models.CrawlEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(
			`INSERT INTO crawl_events
			 (tenant_id, server_ts, client_ts, host, path, method, status, user_agent,
			  ip_prefix, is_bot, crawler_family, source, response_bytes, content_type, resource_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			e.TenantID, e.ServerTS, e.ClientTS, e.Host, e.Path, e.Method, e.Status, e.UserAgent,
			e.IPPrefix, e.IsBot, e.CrawlerFamily, e.Source, e.ResponseBytes, e.ContentType, e.ResourceHash,
		)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close() //nolint:errcheck

	inserted := 0
	for range events {
		if _, err := br.Exec(); err != nil {
			return inserted, fmt.Errorf("inserting event: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

func (p *PostgresBackend) PruneEvents(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM crawl_events WHERE tenant_id = $1 AND server_ts < $2`,
		tenantID, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresBackend) EventSummary(ctx context.Context, tenantID string, start, end time.Time) (*models.EventSummary, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_bot), COUNT(*) FILTER (WHERE NOT is_bot)
		 FROM crawl_events
		 WHERE tenant_id = $1 AND server_ts >= $2 AND server_ts < $3`,
		tenantID, start, end,
	)
	var s models.EventSummary
	if err := row.Scan(&s.TotalEvents, &s.BotEvents, &s.HumanEvents); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresBackend) BotTotals(ctx context.Context, tenantID string, start, end time.Time) (int64, int64, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(response_bytes), 0), COUNT(*)
		 FROM crawl_events
		 WHERE tenant_id = $1 AND is_bot AND server_ts >= $2 AND server_ts < $3`,
		tenantID, start, end,
	)
	var bytes, requests int64
	if err := row.Scan(&bytes, &requests); err != nil {
		return 0, 0, err
	}
	return bytes, requests, nil
}

// CrawlerStats rolls up bot traffic per family. estimated_tokens counts
// tokens served per access, so a resource fetched twice counts twice.
func (p *PostgresBackend) CrawlerStats(ctx context.Context, tenantID string, start, end time.Time) ([]models.CrawlerStat, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT e.crawler_family,
		        COALESCE(SUM(e.response_bytes), 0),
		        COUNT(*),
		        COALESCE(SUM(r.estimated_tokens), 0),
		        COUNT(DISTINCT e.resource_hash) FILTER (WHERE e.resource_hash <> '')
		 FROM crawl_events e
		 LEFT JOIN resources r
		   ON r.tenant_id = e.tenant_id AND r.host = e.host
		  AND r.path = e.path AND r.content_hash = e.resource_hash
		 WHERE e.tenant_id = $1 AND e.is_bot AND e.server_ts >= $2 AND e.server_ts < $3
		 GROUP BY e.crawler_family
		 ORDER BY 2 DESC`,
		tenantID, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stats []models.CrawlerStat
	for rows.Next() {
		var s models.CrawlerStat
		if err := rows.Scan(&s.Family, &s.Bytes, &s.Requests, &s.EstimatedTokens, &s.UniqueResources); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (p *PostgresBackend) EventIDsByDay(ctx context.Context, tenantID string, start, end time.Time) (map[string][]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT to_char(server_ts AT TIME ZONE 'UTC', 'YYYY-MM-DD'), id
		 FROM crawl_events
		 WHERE tenant_id = $1 AND server_ts >= $2 AND server_ts < $3
		 ORDER BY 1, id`,
		tenantID, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	days := map[string][]int64{}
	for rows.Next() {
		var day string
		var id int64
		if err := rows.Scan(&day, &id); err != nil {
			return nil, err
		}
		days[day] = append(days[day], id)
	}
	return days, rows.Err()
}

func (p *PostgresBackend) ListEventMonths(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT to_char(server_ts AT TIME ZONE 'UTC', 'YYYY-MM')
		 FROM crawl_events WHERE tenant_id = $1 ORDER BY 1`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var months []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// --- Resource catalog ---

// UpsertResources applies collapsed catalog updates. The increment happens
// inside the upsert so concurrent updates to the same key from overlapping
// batches never lose counts; estimated_tokens is only written on insert.
func (p *PostgresBackend) UpsertResources(ctx context.Context, updates []models.ResourceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			`INSERT INTO resources
			 (tenant_id, host, path, content_hash, content_type, content_length,
			  estimated_tokens, access_count, bot_access_count, first_seen_at, last_seen_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			 ON CONFLICT (tenant_id, host, path, content_hash) DO UPDATE
			 SET access_count = resources.access_count + EXCLUDED.access_count,
			     bot_access_count = resources.bot_access_count + EXCLUDED.bot_access_count,
			     last_seen_at = GREATEST(resources.last_seen_at, EXCLUDED.last_seen_at)`,
			u.TenantID, u.Host, u.Path, u.ContentHash, u.ContentType, u.ContentLength,
			u.EstimatedTokens, u.Accesses, u.BotAccesses, u.SeenAt,
		)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close() //nolint:errcheck
	for range updates {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting resource: %w", err)
		}
	}
	return nil
}

func (p *PostgresBackend) ResourceTotals(ctx context.Context, tenantID string, start, end time.Time) (int64, int64, int64, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(content_length), 0), COALESCE(SUM(estimated_tokens), 0)
		 FROM resources
		 WHERE tenant_id = $1 AND bot_access_count > 0
		   AND last_seen_at >= $2 AND first_seen_at < $3`,
		tenantID, start, end,
	)
	var unique, bytes, tokens int64
	if err := row.Scan(&unique, &bytes, &tokens); err != nil {
		return 0, 0, 0, err
	}
	return unique, bytes, tokens, nil
}

func (p *PostgresBackend) TopResources(ctx context.Context, tenantID string, start, end time.Time, limit int) ([]models.Resource, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, host, path, content_hash, content_type, content_length,
		        estimated_tokens, access_count, bot_access_count, first_seen_at, last_seen_at
		 FROM resources
		 WHERE tenant_id = $1 AND bot_access_count > 0
		   AND last_seen_at >= $2 AND first_seen_at < $3
		 ORDER BY bot_access_count DESC, id
		 LIMIT $4`,
		tenantID, start, end, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var resources []models.Resource
	for rows.Next() {
		var r models.Resource
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Host, &r.Path, &r.ContentHash, &r.ContentType,
			&r.ContentLength, &r.EstimatedTokens, &r.AccessCount, &r.BotAccessCount,
			&r.FirstSeenAt, &r.LastSeenAt); err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// --- Policy audit trail ---

func (p *PostgresBackend) AppendPolicyVersion(ctx context.Context, v *models.PolicyVersion) error {
	row := p.pool.QueryRow(ctx,
		`INSERT INTO policy_versions (tenant_id, version, content_hash, policy_text, created_at)
		 VALUES ($1,
		         (SELECT COALESCE(MAX(version), 0) + 1 FROM policy_versions WHERE tenant_id = $1),
		         $2, $3, $4)
		 RETURNING id, version`,
		v.TenantID, v.ContentHash, v.PolicyText, v.CreatedAt,
	)
	return row.Scan(&v.ID, &v.Version)
}

func (p *PostgresBackend) ListPolicyVersions(ctx context.Context, tenantID string, start, end time.Time) ([]models.PolicyVersion, error) {
	// Include the version active at window start: the latest one created
	// before the window, plus everything created inside it.
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, version, content_hash, policy_text, created_at
		 FROM policy_versions
		 WHERE tenant_id = $1
		   AND (created_at >= $2 OR version = (
		         SELECT MAX(version) FROM policy_versions
		         WHERE tenant_id = $1 AND created_at < $2))
		   AND created_at < $3
		 ORDER BY version`,
		tenantID, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []models.PolicyVersion
	for rows.Next() {
		var v models.PolicyVersion
		if err := rows.Scan(&v.ID, &v.TenantID, &v.Version, &v.ContentHash, &v.PolicyText, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (p *PostgresBackend) ListViolations(ctx context.Context, tenantID string, start, end time.Time) ([]models.PolicyViolation, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, crawler_family, rule, detail, observed_at
		 FROM policy_violations
		 WHERE tenant_id = $1 AND observed_at >= $2 AND observed_at < $3
		 ORDER BY observed_at, id`,
		tenantID, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var violations []models.PolicyViolation
	for rows.Next() {
		var v models.PolicyViolation
		if err := rows.Scan(&v.ID, &v.TenantID, &v.CrawlerFamily, &v.Rule, &v.Detail, &v.ObservedAt); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// --- Metrics ---

func (p *PostgresBackend) CountTenants(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&count)
	return count, err
}

func (p *PostgresBackend) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM crawl_events`).Scan(&count)
	return count, err
}
