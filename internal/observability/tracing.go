package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for agentcore's turn loop:
// internal/turn spans each model stream call and each tool dispatch;
// internal/mcp spans outbound HTTP calls to remote MCP servers;
// internal/convo spans a task end to end. A Tracer with no configured
// OTLP endpoint is a cheap no-op — every Start call still returns a
// usable (non-recording) span, so callers never need a nil check beyond
// the Tracer pointer itself.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig configures the distributed tracing behavior.
type TraceConfig struct {
	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion identifies the service version.
	ServiceVersion string

	// Environment specifies the deployment environment (production, staging, dev).
	Environment string

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	// If empty, tracing is disabled.
	Endpoint string

	// SamplingRate controls what fraction of traces are recorded (0.0 to
	// 1.0). 1.0 = all traces, 0.1 = 10% of traces. Defaults to 1.0 if
	// unspecified.
	SamplingRate float64

	// Attributes are additional resource attributes to include on every
	// span emitted by this tracer.
	Attributes map[string]string

	// EnableInsecure disables TLS for the OTLP connection (dev/testing only).
	EnableInsecure bool
}

// SpanOptions configures span creation behavior.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// NewTracer builds a Tracer from config and returns a shutdown func that
// must be called (typically via defer) before process exit to flush
// buffered spans. An empty config.Endpoint, or any failure constructing
// the OTLP exporter, falls back to a no-op tracer rather than an error —
// a misconfigured collector shouldn't block agentcore from running.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	noop := func(context.Context) error { return nil }

	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(serviceNameOrDefault(config.ServiceName)), config: config}, noop
	}

	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}
	config.ServiceName = serviceNameOrDefault(config.ServiceName)

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, noop
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(resourceAttributes(config)...))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(config.SamplingRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}
	return tracer, provider.Shutdown
}

func serviceNameOrDefault(name string) string {
	if name == "" {
		return "agentcore"
	}
	return name
}

func resourceAttributes(config TraceConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Start creates a span named name and returns a context carrying it. The
// caller must call span.End() when the operation completes.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	var options []trace.SpanStartOption
	if len(opts) > 0 {
		opt := opts[0]
		if opt.Kind != 0 {
			options = append(options, trace.WithSpanKind(opt.Kind))
		}
		if len(opt.Attributes) > 0 {
			options = append(options, trace.WithAttributes(opt.Attributes...))
		}
	}
	return t.tracer.Start(ctx, name, options...)
}

// StartSpan is Start without the context return, for callers that already
// have the context they want to propagate through.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOptions) trace.Span {
	_, span := t.Start(ctx, name, opts...)
	return span
}

// RecordError marks span as failed and attaches err. A nil err (the
// common case at a defer site guarding a named-return err) is a no-op.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value pairs on span, skipping any
// pair whose key isn't a string.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	span.SetAttributes(pairsToAttributes(keyvals)...)
}

// AddEvent records a named point-in-time event on span with alternating
// key/value attributes, the way internal/sandbox might mark "approval
// requested" within a longer-running shell-dispatch span.
func (t *Tracer) AddEvent(span trace.Span, name string, keyvals ...any) {
	span.AddEvent(name, trace.WithAttributes(pairsToAttributes(keyvals)...))
}

func pairsToAttributes(keyvals []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
	}
	return attrs
}

// TraceMessageProcessing spans one conversation task, from the first
// model turn through however many tool-dispatch rounds it takes to reach
// task_complete. Used by internal/convo's startTask.
func (t *Tracer) TraceMessageProcessing(ctx context.Context, source, kind, workingDirectory string) (context.Context, trace.Span) {
	return t.Start(ctx, "conversation.task", SpanOptions{
		Kind: trace.SpanKindServer,
		Attributes: []attribute.KeyValue{
			attribute.String("task.source", source),
			attribute.String("task.kind", kind),
			attribute.String("task.cwd", workingDirectory),
		},
	})
}

// TraceLLMRequest spans one provider.Stream call. Used by internal/turn's
// runAttempt.
func (t *Tracer) TraceLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", provider), SpanOptions{
		Kind: trace.SpanKindClient,
		Attributes: []attribute.KeyValue{
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		},
	})
}

// TraceToolExecution spans one tool dispatch. Used by internal/turn's
// tool-call loop, for both the synchronous and parallel dispatch paths.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", toolName), SpanOptions{
		Kind: trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{
			attribute.String("tool.name", toolName),
		},
	})
}

// TraceHTTPRequest spans one outbound HTTP call. Used by
// internal/mcp/transport_http.go's Call, the one agentcore transport that
// talks HTTP rather than a local subprocess's stdio.
func (t *Tracer) TraceHTTPRequest(ctx context.Context, method, url string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("http.%s", method), SpanOptions{
		Kind: trace.SpanKindClient,
		Attributes: []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.url", url),
		},
	})
}

// InjectContext writes the active span's trace context into carrier (e.g.
// an outbound http.Header), so a remote MCP server's own tracing (if any)
// can link back to this span.
func (t *Tracer) InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext reads a trace context out of carrier and returns a
// context carrying it, for a transport that one day accepts
// server-initiated calls bearing their own trace context.
func (t *Tracer) ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SpanFromContext returns the active span in ctx, or a non-recording span
// if none is present.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// ContextWithSpan returns a copy of ctx carrying span as its active span.
func ContextWithSpan(ctx context.Context, span trace.Span) context.Context {
	return trace.ContextWithSpan(ctx, span)
}

func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case []int:
		return attribute.IntSlice(key, v)
	case []int64:
		return attribute.Int64Slice(key, v)
	case []float64:
		return attribute.Float64Slice(key, v)
	case []bool:
		return attribute.BoolSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// WithSpan starts a span named name, runs fn under it, records any error
// fn returns, and ends the span.
func WithSpan(ctx context.Context, tracer *Tracer, name string, fn func(context.Context, trace.Span) error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	err := fn(ctx, span)
	tracer.RecordError(span, err)
	return err
}

// GetTraceID returns the hex trace ID of the active span in ctx, or "" if
// none is active.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// GetSpanID returns the hex span ID of the active span in ctx, or "" if
// none is active.
func GetSpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

// MapCarrier adapts a plain map to propagation.TextMapCarrier, for tests
// that need to inspect or fabricate trace headers without a real
// http.Header.
type MapCarrier map[string]string

func (m MapCarrier) Get(key string) string { return m[key] }

func (m MapCarrier) Set(key, value string) { m[key] = value }

func (m MapCarrier) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
