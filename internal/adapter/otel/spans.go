package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "realtyhub"

// StartResolveSpan starts a span for tenant resolution of one request.
func StartResolveSpan(ctx context.Context, host string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tenancy.resolve",
		trace.WithAttributes(attribute.String("http.host", host)),
	)
}

// StartProvisionSpan starts a span for one provisioning run.
func StartProvisionSpan(ctx context.Context, slug string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tenancy.provision",
		trace.WithAttributes(attribute.String("tenant.slug", slug)),
	)
}

// StartCloneSpan starts a span for cloning one table into a partition.
func StartCloneSpan(ctx context.Context, schema, table string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tenancy.clone_table",
		trace.WithAttributes(
			attribute.String("db.schema", schema),
			attribute.String("db.table", table),
		),
	)
}
