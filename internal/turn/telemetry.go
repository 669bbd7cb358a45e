package turn

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codexcore/agentcore/internal/observability"
)

// Telemetry wraps the turn-scoped span/metric emission the engine performs
// at each phase transition. Spans come from observability.Tracer
// (internal/observability/tracing.go); metrics are registered directly
// against prometheus/client_golang, narrowed to the handful of series a
// turn actually produces rather than the teacher's full channel-bot metrics
// surface.
type Telemetry struct {
	tracer *observability.Tracer

	turnDuration    *prometheus.HistogramVec
	toolDuration    *prometheus.HistogramVec
	retryCounter    *prometheus.CounterVec
	quotaExceeded   prometheus.Counter
	outcomeCounter  *prometheus.CounterVec
}

// NewTelemetry registers the turn engine's metrics. tracer may be nil, in
// which case span creation is a no-op; a nil *Telemetry disables metrics
// as well.
func NewTelemetry(tracer *observability.Tracer) *Telemetry {
	return &Telemetry{
		tracer: tracer,
		turnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_turn_duration_seconds",
				Help:    "Duration of a single model turn, end to end.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model", "outcome"},
		),
		toolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_dispatch_duration_seconds",
				Help:    "Duration of one tool dispatch within a turn.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		retryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_turn_retries_total",
				Help: "Transient model-stream retries by model.",
			},
			[]string{"model"},
		),
		quotaExceeded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcore_turn_quota_exceeded_total",
				Help: "Turns that ended on an insufficient_quota failure.",
			},
		),
		outcomeCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_turn_outcomes_total",
				Help: "Terminal turn outcomes by kind.",
			},
			[]string{"outcome"},
		),
	}
}

func (t *Telemetry) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, observability.SpanOptions{Attributes: attrs})
}

// traceLLM spans a single provider.Stream call.
func (t *Telemetry) traceLLM(ctx context.Context, providerName, model string) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.TraceLLMRequest(ctx, providerName, model)
}

// traceTool spans a single tool dispatch.
func (t *Telemetry) traceTool(ctx context.Context, toolName string) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.TraceToolExecution(ctx, toolName)
}

func (t *Telemetry) recordRetry(model string) {
	if t == nil {
		return
	}
	t.retryCounter.WithLabelValues(model).Inc()
}

func (t *Telemetry) recordToolDuration(toolName string, d time.Duration) {
	if t == nil {
		return
	}
	t.toolDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

func (t *Telemetry) recordOutcome(model string, outcome Outcome, d time.Duration) {
	if t == nil {
		return
	}
	t.turnDuration.WithLabelValues(model, string(outcome)).Observe(d.Seconds())
	t.outcomeCounter.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeComplete {
		return
	}
}

func (t *Telemetry) recordQuotaExceeded() {
	if t == nil {
		return
	}
	t.quotaExceeded.Inc()
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
