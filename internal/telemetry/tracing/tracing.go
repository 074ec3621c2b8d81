// Package tracing builds the pipeline's otel tracer provider and a small
// helper for wrapping a job-processing stage in a span, so Scout, the
// analysis workers, Validation, Reconciliation, and the Graph builder all
// emit a consistent span shape per job.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewProvider builds a tracer provider sampling every span (the pipeline
// has no high-QPS hot path that needs sampling) and installs it as the
// global otel provider. The service argument is not recorded on the
// provider: spans carry no service-name resource.
func NewProvider(service string) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// StartJobSpan starts a span for one job-processing stage, tagging it
// with the run/job identifiers so traces can be correlated with the
// structured logs produced by internal/logging.
func StartJobSpan(ctx context.Context, tracerName, stageName, runID, jobID, jobType string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, stageName, trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("job_id", jobID),
		attribute.String("job_type", jobType),
	))
}

// StartRelationshipSpan starts a span scoped to one relationship hash.
// No stage in this module calls it; the worker loops use StartJobSpan.
func StartRelationshipSpan(ctx context.Context, tracerName, stageName, runID, hash string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, stageName, trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("relationship_hash", hash),
	))
}

// StartHTTPSpan starts a span for one operator API request, tagging it
// with the route pattern (not the raw path, to keep cardinality bounded)
// and method.
func StartHTTPSpan(ctx context.Context, tracerName, route, method string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, route, trace.WithAttributes(
		attribute.String("http.route", route),
		attribute.String("http.method", method),
	))
}
