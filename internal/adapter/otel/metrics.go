package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "realtyhub"

// Metrics holds all tenancy metric instruments. Record methods are safe on
// a nil *Metrics so tests can omit instrumentation.
type Metrics struct {
	Resolutions           metric.Int64Counter
	DomainCacheLookups    metric.Int64Counter
	ProvisioningRuns      metric.Int64Counter
	TableCloneFailures    metric.Int64Counter
	ProvisioningDuration  metric.Float64Histogram
	CrossTenantRejections metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Resolutions, err = meter.Int64Counter("realtyhub.tenancy.resolutions",
		metric.WithDescription("Tenant resolutions by source and outcome"))
	if err != nil {
		return nil, err
	}

	m.DomainCacheLookups, err = meter.Int64Counter("realtyhub.tenancy.domain_cache.lookups",
		metric.WithDescription("Domain cache lookups by result"))
	if err != nil {
		return nil, err
	}

	m.ProvisioningRuns, err = meter.Int64Counter("realtyhub.provisioning.runs",
		metric.WithDescription("Provisioning runs by outcome"))
	if err != nil {
		return nil, err
	}

	m.TableCloneFailures, err = meter.Int64Counter("realtyhub.provisioning.table_clone_failures",
		metric.WithDescription("Failed table clones during provisioning"))
	if err != nil {
		return nil, err
	}

	m.ProvisioningDuration, err = meter.Float64Histogram("realtyhub.provisioning.duration_seconds",
		metric.WithDescription("Provisioning run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.CrossTenantRejections, err = meter.Int64Counter("realtyhub.auth.cross_tenant_rejections",
		metric.WithDescription("Credentials rejected because they were issued for another tenant"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordResolution counts one resolution attempt.
func (m *Metrics) RecordResolution(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// RecordCacheLookup counts a domain cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.DomainCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordProvisioning records the outcome and duration of a provisioning run.
func (m *Metrics) RecordProvisioning(ctx context.Context, outcome string, seconds float64, cloneFailures int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ProvisioningRuns.Add(ctx, 1, attrs)
	m.ProvisioningDuration.Record(ctx, seconds, attrs)
	if cloneFailures > 0 {
		m.TableCloneFailures.Add(ctx, int64(cloneFailures))
	}
}

// RecordCrossTenantRejection counts one cross-tenant credential rejection.
func (m *Metrics) RecordCrossTenantRejection(ctx context.Context) {
	if m == nil {
		return
	}
	m.CrossTenantRejections.Add(ctx, 1)
}
