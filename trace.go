package grpccore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/chalvern/grpccore/codes"
)

// Diagnostics/tracing (component J's companion concern in spec §4.J:
// "lightweight call-scoped diagnostic events"). Each attempt opens a span
// named after the full method and annotates it with the outcome status,
// mirroring the teacher's use of grpclog for coarse diagnostics but using
// OpenTelemetry spans instead since the spec calls for structured,
// queryable per-call diagnostics rather than just log lines.

// tracerName is the instrumentation scope name reported to the configured
// TracerProvider.
const tracerName = "github.com/chalvern/grpccore"

// NewDevelopmentTracerProvider builds a minimal, always-sampling
// TracerProvider with no exporter wired, suitable for local development and
// tests that only want to assert span shape via a custom
// sdktrace.SpanProcessor. Production callers are expected to supply their
// own TracerProvider (wired to OTLP, Jaeger, etc.) through ChannelConfig.
func NewDevelopmentTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(opts...)
}

// startAttemptSpan opens a span for one call attempt. Returns a no-op span
// if tp is nil, so tracing is strictly opt-in.
func startAttemptSpan(ctx context.Context, tp trace.TracerProvider, fullMethod string, attempt int) (context.Context, trace.Span) {
	if tp == nil {
		tp = trace.NewNoopTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return tracer.Start(ctx, fullMethod, trace.WithAttributes(
		attribute.Int("rpc.attempt", attempt),
	))
}

// endAttemptSpan records the final status of the attempt and closes span.
func endAttemptSpan(span trace.Span, code codes.Code, message string) {
	span.SetAttributes(attribute.Int64("rpc.grpc.status_code", int64(code)))
	if code == codes.OK {
		span.SetStatus(otelcodes.Ok, "")
	} else {
		span.SetStatus(otelcodes.Error, message)
	}
	span.End()
}
