// Package telemetry builds the in-process Prometheus registry and OTel
// tracer the rest of the core emits against. The HTTP exporter endpoint and
// the trace exporter wiring are left to the (out-of-scope) boundary, which
// is free to mount promhttp.Handler() against the registry returned here
// and configure an OTLP exporter on the returned TracerProvider.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is the fixed set of counters/histograms the core updates. Held as
// a struct (rather than package globals) so tests can construct an isolated
// registry per case.
type Metrics struct {
	Registry *prometheus.Registry

	JobsTotal               *prometheus.CounterVec
	TranslationTasksTotal   *prometheus.CounterVec
	BreakerState            *prometheus.GaugeVec
	ProviderLatencySeconds  *prometheus.HistogramVec
}

// NewMetrics registers the core's counters/histograms against a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Decompilation jobs by terminal status.",
		}, []string{"status"}),
		TranslationTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "translation_tasks_total",
			Help: "Translation pipeline tasks by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Per-provider circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"provider_id"}),
		ProviderLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_latency_seconds",
			Help:    "LLM provider call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider_id", "operation"}),
	}
	reg.MustRegister(m.JobsTotal, m.TranslationTasksTotal, m.BreakerState, m.ProviderLatencySeconds)
	return m
}

// RecordJobTerminal increments JobsTotal for a job's final status.
func (m *Metrics) RecordJobTerminal(status string) {
	m.JobsTotal.WithLabelValues(status).Inc()
}

// RecordTranslationTask increments TranslationTasksTotal for one C8 task.
func (m *Metrics) RecordTranslationTask(kind, outcome string) {
	m.TranslationTasksTotal.WithLabelValues(kind, outcome).Inc()
}

// SetBreakerState records providerID's current breaker state as a gauge.
func (m *Metrics) SetBreakerState(providerID string, state float64) {
	m.BreakerState.WithLabelValues(providerID).Set(state)
}

// ObserveProviderLatency records one provider call's duration.
func (m *Metrics) ObserveProviderLatency(providerID, operation string, d time.Duration) {
	m.ProviderLatencySeconds.WithLabelValues(providerID, operation).Observe(d.Seconds())
}

// tracerName identifies this module's spans in whatever backend the
// boundary eventually exports to.
const tracerName = "github.com/binsight/core"

// NewTracerProvider builds an SDK tracer provider with no exporter attached;
// the caller (boundary) registers a span processor/exporter per its own
// OTLP endpoint configuration.
func NewTracerProvider() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer returns the package-wide tracer for core spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartJobSpan opens a span for one job's end-to-end execution, carrying
// the structured {event, job_id, owner} attributes callers attach to
// manually.
func StartJobSpan(ctx context.Context, jobID, owner string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "job.execute", trace.WithAttributes(
		attribute.String("job_id", jobID),
		attribute.String("owner", owner),
	))
}

// StartProviderSpan opens a span for one outbound LLM provider call.
func StartProviderSpan(ctx context.Context, providerID, operation string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("operation", operation),
	))
}

// EndSpan records outcome on span and closes it; duration is attached as an
// attribute so a log-based exporter can emit the full
// {event, job_id, owner, provider, duration_ms, outcome} tuple without a
// metrics backend.
func EndSpan(span trace.Span, outcome string, duration time.Duration) {
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int64("duration_ms", duration.Milliseconds()),
	)
	span.End()
}
