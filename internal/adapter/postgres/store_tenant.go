package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
)

// tenantColumns selects a full tenant row from "tenants t", routing keys
// included. Usable in SELECT lists and RETURNING clauses alike.
const tenantColumns = `t.id, t.slug, t.display_name, t.schema_name, t.status, t.is_active,
	t.provisioning_error, t.provisioning_report, t.max_agents, t.max_listings, t.features,
	t.created_at, t.updated_at, t.provisioned_at, t.failed_at,
	(SELECT hostname FROM tenant_domains d WHERE d.tenant_id = t.id AND d.kind = 'primary'),
	(SELECT hostname FROM tenant_domains d WHERE d.tenant_id = t.id AND d.kind = 'backoffice'),
	(SELECT hostname FROM tenant_domains d WHERE d.tenant_id = t.id AND d.kind = 'api')`

func scanTenant(row scannable) (*tenant.Tenant, error) {
	var (
		t                   tenant.Tenant
		schema              *string
		reportJSON          []byte
		featuresJSON        []byte
		primary, back, host *string
	)
	err := row.Scan(&t.ID, &t.Slug, &t.DisplayName, &schema, &t.Status, &t.Active,
		&t.ProvisioningError, &reportJSON, &t.Plan.MaxAgents, &t.Plan.MaxListings, &featuresJSON,
		&t.CreatedAt, &t.UpdatedAt, &t.ProvisionedAt, &t.FailedAt,
		&primary, &back, &host)
	if err != nil {
		return nil, err
	}
	t.SchemaName = derefString(schema)
	t.Domains = tenant.Domains{Primary: derefString(primary), Backoffice: derefString(back), APIHost: derefString(host)}
	if len(reportJSON) > 0 {
		var r tenant.ProvisionReport
		if err := json.Unmarshal(reportJSON, &r); err != nil {
			return nil, fmt.Errorf("decode provisioning report: %w", err)
		}
		t.Report = &r
	}
	if len(featuresJSON) > 0 {
		_ = json.Unmarshal(featuresJSON, &t.Plan.Features)
	}
	return &t, nil
}

// --- Tenant CRUD ---

func (s *Store) CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	features, err := json.Marshal(req.Plan.Features)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	if req.Plan.Features == nil {
		features = []byte("{}")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO tenants (id, slug, display_name, max_agents, max_listings, features)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, req.Slug, req.DisplayName, req.Plan.MaxAgents, req.Plan.MaxListings, features)
	if err != nil {
		return nil, conflictWrap(err, "create tenant %s", req.Slug)
	}
	if err := insertDomains(ctx, tx, id, req.Domains); err != nil {
		return nil, err
	}

	t, err := scanTenant(tx.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants t WHERE t.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("reload tenant %s: %w", req.Slug, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants t WHERE t.slug = $1`, slug))
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", slug)
	}
	return t, nil
}

func (s *Store) GetTenantByDomain(ctx context.Context, host string) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+`
		 FROM tenant_domains td JOIN tenants t ON t.id = td.tenant_id
		 WHERE td.hostname = $1`, host))
	if err != nil {
		return nil, notFoundWrap(err, "get tenant by domain %s", host)
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants t ORDER BY t.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

// SetTenantDomains replaces every routing key of the tenant in one
// transaction. A host claimed by another tenant fails with ErrConflict.
func (s *Store) SetTenantDomains(ctx context.Context, slug string, domains tenant.Domains) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	if err := tx.QueryRow(ctx, `SELECT id FROM tenants WHERE slug = $1 FOR UPDATE`, slug).Scan(&id); err != nil {
		return nil, notFoundWrap(err, "set domains %s", slug)
	}

	rows, err := tx.Query(ctx, `DELETE FROM tenant_domains WHERE tenant_id = $1 RETURNING hostname`, id)
	if err != nil {
		return nil, fmt.Errorf("clear domains %s: %w", slug, err)
	}
	previous, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("clear domains %s: %w", slug, err)
	}

	if err := insertDomains(ctx, tx, id, domains); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE tenants SET updated_at = now() WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("touch tenant %s: %w", slug, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return previous, nil
}

func insertDomains(ctx context.Context, tx pgx.Tx, tenantID string, d tenant.Domains) error {
	for kind, host := range map[string]string{"primary": d.Primary, "backoffice": d.Backoffice, "api": d.APIHost} {
		if host == "" {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO tenant_domains (hostname, tenant_id, kind) VALUES ($1, $2, $3)`,
			host, tenantID, kind); err != nil {
			return conflictWrap(err, "claim domain %s", host)
		}
	}
	return nil
}

func (s *Store) SetTenantActive(ctx context.Context, slug string, active bool) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants t SET is_active = $2, updated_at = now()
		 WHERE t.slug = $1
		 RETURNING `+tenantColumns, slug, active))
	if err != nil {
		return nil, notFoundWrap(err, "set tenant %s active=%v", slug, active)
	}
	return t, nil
}

// --- Provisioning lifecycle ---
//
// Every transition is one conditional UPDATE. Zero affected rows means
// the tenant is missing or not in a source state; transitionError tells
// the two apart.

func (s *Store) BeginProvisioning(ctx context.Context, slug string, from ...tenant.Status) (*tenant.Tenant, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants t SET status = 'provisioning', updated_at = now()
		 WHERE t.slug = $1 AND t.status = ANY($2)
		 RETURNING `+tenantColumns, slug, states))
	if err != nil {
		return nil, s.transitionError(ctx, err, slug, tenant.StatusProvisioning)
	}
	return t, nil
}

func (s *Store) AllocateSchema(ctx context.Context, slug, schema string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET schema_name = $2, updated_at = now()
		 WHERE slug = $1 AND status = 'provisioning' AND (schema_name IS NULL OR schema_name = $2)`,
		slug, schema)
	if err != nil {
		return conflictWrap(err, "allocate schema %s for %s", schema, slug)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, pgx.ErrNoRows, slug, tenant.StatusProvisioning)
	}
	return nil
}

func (s *Store) CompleteProvisioning(ctx context.Context, slug string, report *tenant.ProvisionReport) (*tenant.Tenant, error) {
	data, err := marshalReport(report)
	if err != nil {
		return nil, err
	}
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants t SET status = 'ready', provisioned_at = now(), provisioning_error = '',
		        provisioning_report = $2, updated_at = now()
		 WHERE t.slug = $1 AND t.status = 'provisioning' AND t.schema_name IS NOT NULL
		 RETURNING `+tenantColumns, slug, data))
	if err != nil {
		return nil, s.transitionError(ctx, err, slug, tenant.StatusReady)
	}
	return t, nil
}

func (s *Store) FailProvisioning(ctx context.Context, slug, reason string, report *tenant.ProvisionReport) (*tenant.Tenant, error) {
	data, err := marshalReport(report)
	if err != nil {
		return nil, err
	}
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants t SET status = 'failed', failed_at = now(), provisioning_error = $2,
		        provisioning_report = $3, updated_at = now()
		 WHERE t.slug = $1 AND t.status = 'provisioning'
		 RETURNING `+tenantColumns, slug, reason, data))
	if err != nil {
		return nil, s.transitionError(ctx, err, slug, tenant.StatusFailed)
	}
	return t, nil
}

func (s *Store) RecordRepair(ctx context.Context, slug string, report *tenant.ProvisionReport) (*tenant.Tenant, error) {
	data, err := marshalReport(report)
	if err != nil {
		return nil, err
	}
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants t SET provisioning_report = $2, updated_at = now()
		 WHERE t.slug = $1 AND t.status = 'ready'
		 RETURNING `+tenantColumns, slug, data))
	if err != nil {
		return nil, s.transitionError(ctx, err, slug, tenant.StatusReady)
	}
	return t, nil
}

func (s *Store) ClaimStaleProvisioning(ctx context.Context, idle time.Duration) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE tenants t SET updated_at = now()
		 WHERE t.status = 'provisioning' AND t.updated_at < now() - make_interval(secs => $1)
		 RETURNING `+tenantColumns, idle.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim stale provisioning: %w", err)
	}
	defer rows.Close()

	var out []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// transitionError maps a failed conditional update to ErrNotFound or
// ErrInvalidTransition.
func (s *Store) transitionError(ctx context.Context, err error, slug string, to tenant.Status) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("tenant %s -> %s: %w", slug, to, err)
	}
	var current tenant.Status
	if qerr := s.pool.QueryRow(ctx, `SELECT status FROM tenants WHERE slug = $1`, slug).Scan(&current); qerr != nil {
		return notFoundWrap(qerr, "tenant %s", slug)
	}
	return fmt.Errorf("tenant %s: %s -> %s: %w", slug, current, to, domain.ErrInvalidTransition)
}

func marshalReport(r *tenant.ProvisionReport) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode provisioning report: %w", err)
	}
	return data, nil
}
