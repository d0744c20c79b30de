package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/realtyhub/internal/adapter/otel"
	"github.com/Strob0t/realtyhub/internal/adapter/ws"
	"github.com/Strob0t/realtyhub/internal/config"
	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/port/broadcast"
	"github.com/Strob0t/realtyhub/internal/port/partition"
	"github.com/Strob0t/realtyhub/internal/port/registry"
)

// finalizeTimeout bounds the registry write that ends a run, which must
// succeed even when the run's own deadline has passed.
const finalizeTimeout = 10 * time.Second

// Dispatcher hands a job to a worker. Dispatch returns once the job is
// queued, not when it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// ProvisioningService drives tenant partitions through the provisioning
// lifecycle. Request, Retry and Repair only move state and enqueue; Execute
// does the DDL and is called by a Dispatcher's worker.
type ProvisioningService struct {
	reg         registry.Registry
	parts       partition.Manager
	invalidator *Invalidator
	events      broadcast.Broadcaster
	dispatcher  Dispatcher
	metrics     *cfotel.Metrics

	parallelism int
	platform    map[string]bool
	optional    map[string]bool
}

// NewProvisioningService creates a provisioning service. events and
// metrics may be nil. A Dispatcher must be set before Request is used.
func NewProvisioningService(
	reg registry.Registry,
	parts partition.Manager,
	invalidator *Invalidator,
	events broadcast.Broadcaster,
	cfg *config.Provisioning,
	metrics *cfotel.Metrics,
) *ProvisioningService {
	parallelism := cfg.CloneParallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &ProvisioningService{
		reg:         reg,
		parts:       parts,
		invalidator: invalidator,
		events:      events,
		metrics:     metrics,
		parallelism: parallelism,
		platform:    toSet(cfg.PlatformTables),
		optional:    toSet(cfg.OptionalTables),
	}
}

// SetDispatcher sets the dispatcher Request, Retry, Resume and Repair
// enqueue on.
func (s *ProvisioningService) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// Request starts provisioning a pending or failed tenant. A tenant that is
// already ready or provisioning is returned unchanged.
func (s *ProvisioningService) Request(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return s.begin(ctx, slug, tenant.StatusPending, tenant.StatusFailed)
}

// Retry restarts provisioning of a failed tenant. It refuses a tenant that
// was never requested; a ready or in-flight tenant is returned unchanged.
func (s *ProvisioningService) Retry(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return s.begin(ctx, slug, tenant.StatusFailed)
}

func (s *ProvisioningService) begin(ctx context.Context, slug string, from ...tenant.Status) (*tenant.Tenant, error) {
	t, err := s.reg.BeginProvisioning(ctx, slug, from...)
	if errors.Is(err, domain.ErrInvalidTransition) {
		cur, gerr := s.reg.GetTenantBySlug(ctx, slug)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status == tenant.StatusReady || cur.Status == tenant.StatusProvisioning {
			slog.InfoContext(ctx, "provisioning request ignored", "slug", slug, "status", cur.Status)
			return cur, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, t)
	return s.dispatch(ctx, t)
}

// Resume re-dispatches a tenant stuck in provisioning, for example after
// the worker running it crashed.
func (s *ProvisioningService) Resume(ctx context.Context, slug string) (*tenant.Tenant, error) {
	t, err := s.reg.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if t.Status != tenant.StatusProvisioning {
		return nil, fmt.Errorf("resume %s in status %s: %w", slug, t.Status, domain.ErrInvalidTransition)
	}
	return s.dispatch(ctx, t)
}

// ResumeStale claims and re-dispatches every tenant that has sat in
// provisioning for longer than a run can last. runTimeout is the deadline
// dispatchers give a run. Only tenants nobody is working on qualify, so
// replicas starting together never run the same tenant twice.
func (s *ProvisioningService) ResumeStale(ctx context.Context, runTimeout time.Duration) ([]string, error) {
	stale, err := s.reg.ClaimStaleProvisioning(ctx, runTimeout+finalizeTimeout)
	if err != nil {
		return nil, err
	}
	var resumed []string
	for i := range stale {
		if _, err := s.dispatch(ctx, &stale[i]); err != nil {
			slog.WarnContext(ctx, "resume provisioning", "slug", stale[i].Slug, "error", err)
			continue
		}
		resumed = append(resumed, stale[i].Slug)
	}
	return resumed, nil
}

func (s *ProvisioningService) dispatch(ctx context.Context, t *tenant.Tenant) (*tenant.Tenant, error) {
	if s.dispatcher == nil {
		return nil, errors.New("provisioning dispatcher not configured")
	}
	if err := s.dispatcher.Dispatch(ctx, Job{Slug: t.Slug}); err != nil {
		// Leave the tenant retryable rather than stuck in provisioning.
		reason := fmt.Sprintf("dispatch: %v", err)
		if failed, ferr := s.reg.FailProvisioning(ctx, t.Slug, reason, nil); ferr == nil {
			s.publish(ctx, failed)
		}
		return nil, fmt.Errorf("dispatch provisioning for %s: %w", t.Slug, err)
	}
	slog.InfoContext(ctx, "provisioning dispatched", "slug", t.Slug)
	return t, nil
}

// Execute runs job. It is the RunFunc handed to dispatchers.
func (s *ProvisioningService) Execute(ctx context.Context, job Job) error {
	if job.Repair {
		_, err := s.RunRepair(ctx, job.Slug)
		return err
	}
	return s.Run(ctx, job.Slug)
}

// Run performs one provisioning run for slug: allocate the schema, create
// it, clone every shared business table into it and record the outcome.
// A tenant that is not in provisioning is skipped, so redelivered work is
// harmless. Run returns an error only when the outcome could not be
// recorded; a failed run is recorded as such and returns nil.
func (s *ProvisioningService) Run(ctx context.Context, slug string) error {
	ctx, span := cfotel.StartProvisionSpan(ctx, slug)
	defer span.End()

	t, err := s.reg.GetTenantBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", slug, err)
	}
	if t.Status != tenant.StatusProvisioning {
		slog.InfoContext(ctx, "provisioning run skipped", "slug", slug, "status", t.Status)
		return nil
	}

	start := time.Now()
	schema := tenant.SchemaNameFor(slug)
	if err := s.reg.AllocateSchema(ctx, slug, schema); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			slog.InfoContext(ctx, "provisioning run lost to another worker", "slug", slug)
			return nil
		}
		return s.fail(ctx, slug, fmt.Sprintf("allocate schema: %v", err), nil, start)
	}

	report, err := s.build(ctx, slug, schema)
	if err != nil {
		return s.fail(ctx, slug, err.Error(), report, start)
	}
	if failures := report.RequiredFailures(); len(failures) > 0 {
		return s.fail(ctx, slug, report.Summary(), report, start)
	}
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, slug, fmt.Sprintf("provisioning aborted: %v", err), report, start)
	}

	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	ready, err := s.reg.CompleteProvisioning(fctx, slug, report)
	if err != nil {
		return fmt.Errorf("complete provisioning for %s: %w", slug, err)
	}

	outcome := "ready"
	if !report.Complete() {
		outcome = "ready_with_gaps"
		slog.WarnContext(ctx, "tenant ready with gaps", "slug", slug, "gaps", report.Summary())
	}
	s.metrics.RecordProvisioning(ctx, outcome, time.Since(start).Seconds(), len(report.Gaps()))
	slog.InfoContext(ctx, "tenant provisioned", "slug", slug, "schema", schema, "tables", len(report.Tables))
	s.publish(fctx, ready)
	return nil
}

// Repair enqueues a repair of a ready tenant: the clone steps run again
// to add tables that are missing from its partition, for example after a
// migration added a business table. Status is left unchanged; the new
// report is recorded when the job finishes.
func (s *ProvisioningService) Repair(ctx context.Context, slug string) (*tenant.Tenant, error) {
	t, err := s.reg.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if t.Status != tenant.StatusReady {
		return nil, fmt.Errorf("repair %s in status %s: %w", slug, t.Status, domain.ErrInvalidTransition)
	}
	if s.dispatcher == nil {
		return nil, errors.New("provisioning dispatcher not configured")
	}
	if err := s.dispatcher.Dispatch(ctx, Job{Slug: slug, Repair: true}); err != nil {
		return nil, fmt.Errorf("dispatch repair for %s: %w", slug, err)
	}
	slog.InfoContext(ctx, "repair dispatched", "slug", slug)
	return t, nil
}

// RunRepair performs a repair job. A tenant that is no longer ready is
// skipped. The report is recorded even when ctx expired mid-run, so the
// tables that did get cloned are not lost from the record.
func (s *ProvisioningService) RunRepair(ctx context.Context, slug string) (*tenant.ProvisionReport, error) {
	ctx, span := cfotel.StartProvisionSpan(ctx, slug)
	defer span.End()

	t, err := s.reg.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", slug, err)
	}
	if t.Status != tenant.StatusReady {
		slog.InfoContext(ctx, "repair skipped", "slug", slug, "status", t.Status)
		return nil, nil
	}

	report, err := s.build(ctx, slug, t.SchemaName)
	if err != nil {
		return report, fmt.Errorf("repair %s: %w", slug, err)
	}

	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if _, err := s.reg.RecordRepair(fctx, slug, report); err != nil {
		return report, fmt.Errorf("record repair for %s: %w", slug, err)
	}
	if !report.Complete() {
		slog.WarnContext(ctx, "repair left gaps", "slug", slug, "gaps", report.Summary())
	}
	slog.InfoContext(ctx, "tenant repaired", "slug", slug, "complete", report.Complete())
	return report, nil
}

// build creates the partition and clones every business table into it.
// Table clones run independently: one failure does not stop the others.
// The error is non-nil only when a step before cloning failed.
func (s *ProvisioningService) build(ctx context.Context, slug, schema string) (*tenant.ProvisionReport, error) {
	report := &tenant.ProvisionReport{Schema: schema, StartedAt: time.Now().UTC()}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	if err := s.parts.CreateSchema(ctx, schema); err != nil {
		return report, fmt.Errorf("create schema: %w", err)
	}

	shared, err := s.parts.SharedTables(ctx)
	if err != nil {
		return report, fmt.Errorf("list shared tables: %w", err)
	}
	var tables []string
	for _, name := range shared {
		if !s.platform[name] {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return report, errors.New("shared schema has no business tables to clone")
	}

	report.Tables = make([]tenant.TableResult, len(tables))
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, table := range tables {
		g.Go(func() error {
			report.Tables[i] = s.cloneTable(ctx, slug, schema, table)
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func (s *ProvisioningService) cloneTable(ctx context.Context, slug, schema, table string) tenant.TableResult {
	ctx, span := cfotel.StartCloneSpan(ctx, schema, table)
	defer span.End()

	res := tenant.TableResult{Table: table, Required: !s.optional[table]}
	if err := s.parts.CloneTable(ctx, schema, table); err != nil {
		res.Error = err.Error()
		span.RecordError(err)
		slog.WarnContext(ctx, "table clone failed", "slug", slug, "table", table, "required", res.Required, "error", err)
	}
	s.emit(ctx, ws.EventProvisionTable, ws.ProvisionTableEvent{Slug: slug, Table: table, Error: res.Error})
	return res
}

func (s *ProvisioningService) fail(ctx context.Context, slug, reason string, report *tenant.ProvisionReport, start time.Time) error {
	fctx, cancel := finalizeContext(ctx)
	defer cancel()

	failures := 0
	if report != nil {
		failures = len(report.RequiredFailures()) + len(report.Gaps())
	}
	s.metrics.RecordProvisioning(ctx, "failed", time.Since(start).Seconds(), failures)
	slog.ErrorContext(ctx, "provisioning failed", "slug", slug, "reason", reason)

	failed, err := s.reg.FailProvisioning(fctx, slug, reason, report)
	if err != nil {
		return fmt.Errorf("record provisioning failure for %s: %w", slug, err)
	}
	s.publish(fctx, failed)
	return nil
}

// publish drops cached routing state for t and tells operators about its
// new status.
func (s *ProvisioningService) publish(ctx context.Context, t *tenant.Tenant) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, t.Slug, t.UpdatedAt, t.Domains.Hosts()...)
	}
	ev := ws.TenantStatusEvent{Slug: t.Slug, Status: string(t.Status), Error: t.ProvisioningError}
	if t.Report != nil {
		for _, g := range t.Report.Gaps() {
			ev.Gaps = append(ev.Gaps, g.Table)
		}
	}
	s.emit(ctx, ws.EventTenantStatus, ev)
}

func (s *ProvisioningService) emit(ctx context.Context, eventType string, payload any) {
	if s.events != nil {
		s.events.BroadcastEvent(ctx, eventType, payload)
	}
}

func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
