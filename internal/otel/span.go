// Package otel provides OpenTelemetry span helpers shared by the proxy's packages.
package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for instance and tenant context on spans.
const (
	AttrInstanceName = attribute.Key("instance.name")
	AttrContainerID  = attribute.Key("container.id")
	AttrTenantName   = attribute.Key("tenant.name")
	AttrProxiedPort  = attribute.Key("instance.port")
	AttrLogTail      = attribute.Key("logs.tail")
	AttrResultCount  = attribute.Key("result.count")
	AttrDBDriver     = attribute.Key("db.driver")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the
// span already in ctx (a no-op span when there is none).
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span as failed.
// The status description stays generic so SQL or connection details only
// show up in the exception event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// RecordUnexpectedError is RecordError for operations where some errors are
// ordinary outcomes (a missing row, a foreign instance). Errors matching any
// of expected are attached as an event without failing the span.
func RecordUnexpectedError(span trace.Span, err error, expected ...error) {
	if err == nil || span == nil {
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			span.AddEvent("expected error", trace.WithAttributes(attribute.String("error", err.Error())))
			return
		}
	}
	RecordError(span, err)
}
