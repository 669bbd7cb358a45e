// Package observability provides distributed tracing for agentcore's turn
// engine, built on OpenTelemetry.
//
// # Overview
//
// A Tracer wraps an OpenTelemetry trace.Tracer and an OTLP exporter. If no
// collector endpoint is configured, NewTracer returns a no-op tracer so the
// turn engine can call it unconditionally without a feature flag.
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "agentcore",
//	    ServiceVersion: version,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"),
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "turn.run")
//	defer span.End()
//
// # Context Propagation
//
// Spans inherit context the same way as any OpenTelemetry instrumentation:
// a child Start call under a parent's context produces a nested span, so a
// turn's phase spans (model call, tool dispatch, sandbox attempt) nest under
// the turn's own span without any extra bookkeeping.
//
// # Scope
//
// This package intentionally carries no metrics or structured-logging
// surface: agentcore's turn-level logging goes through internal/codexlog,
// which already covers request correlation and redaction for this module.
package observability
