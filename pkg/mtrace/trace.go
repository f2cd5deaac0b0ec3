// Package mtrace carries an OpenTelemetry tracer through the context the
// same way pkg/mlog carries the logger, so the executor can span each
// operation and every nested SmartFunction.call without the core
// depending on a concrete exporter. With no provider installed the
// global default is a no-op, which is exactly what tests and the
// standalone kernel binary want.
package mtrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope every core span is created
// under.
const TracerName = "jstz-core"

type tracerContextKey string

const tracerKey tracerContextKey = "tracer"

// ContextWithTracer returns a context carrying the given tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// FromContext extracts the tracer carried by ctx, falling back to the
// global provider's tracer (a no-op unless a provider was installed).
//
//nolint:ireturn
func FromContext(ctx context.Context) trace.Tracer {
	if tracer := ctx.Value(tracerKey); tracer != nil {
		if t, ok := tracer.(trace.Tracer); ok {
			return t
		}
	}

	return otel.Tracer(TracerName)
}

// HandleSpanError marks span failed and records err on it.
func HandleSpanError(span trace.Span, message string, err error) {
	span.SetStatus(codes.Error, message+": "+err.Error())
	span.RecordError(err)
}
