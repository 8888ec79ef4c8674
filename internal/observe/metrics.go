// Package observe provides application-wide observability primitives for
// vocadrill: OpenTelemetry metrics and the HTTP middleware that records them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vocadrill metrics.
const meterName = "github.com/vocadrill/vocadrill"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SegmentationDuration tracks end-to-end segmentation chain latency.
	// One record per attempt, regardless of how many stages ran.
	SegmentationDuration metric.Float64Histogram

	// JudgmentDuration tracks batch judgment latency, bulk call and
	// per-item fallback included.
	JudgmentDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentationAttempts counts segmentation attempts. Use with attributes:
	//   attribute.String("source", ...), attribute.String("status", ...),
	//   attribute.Int("batch_size", ...)
	SegmentationAttempts metric.Int64Counter

	// JudgmentAttempts counts judgment attempts. Use with attributes:
	//   attribute.String("mode", "bulk"|"per-item"), attribute.String("status", ...)
	JudgmentAttempts metric.Int64Counter

	// StageErrors counts recoverable stage failures inside the chain. Use
	// with attributes:
	//   attribute.String("stage", ...), attribute.String("kind", ...)
	StageErrors metric.Int64Counter

	// StaleDrops counts results discarded because their generation was
	// superseded. Expected behaviour, tracked to size the waste.
	StaleDrops metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// a chain whose fastest path is a map lookup and whose slowest is two queued
// LLM round trips.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentationDuration, err = m.Float64Histogram("vocadrill.segmentation.duration",
		metric.WithDescription("End-to-end latency of the segmentation chain."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JudgmentDuration, err = m.Float64Histogram("vocadrill.judgment.duration",
		metric.WithDescription("Latency of batch answer judgment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SegmentationAttempts, err = m.Int64Counter("vocadrill.segmentation.attempts",
		metric.WithDescription("Total segmentation attempts by source, status, and batch size."),
	); err != nil {
		return nil, err
	}
	if met.JudgmentAttempts, err = m.Int64Counter("vocadrill.judgment.attempts",
		metric.WithDescription("Total judgment attempts by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("vocadrill.stage.errors",
		metric.WithDescription("Recoverable stage failures by stage and error kind."),
	); err != nil {
		return nil, err
	}
	if met.StaleDrops, err = m.Int64Counter("vocadrill.stale.drops",
		metric.WithDescription("Results discarded because a newer request superseded them."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vocadrill.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vocadrill.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSegmentation records the single consolidated event for one
// segmentation attempt: a duration sample and an attempt count, both carrying
// the source (provenance), status, and batch size. errKind is empty on
// success.
func (m *Metrics) RecordSegmentation(ctx context.Context, source string, d time.Duration, success bool, errKind string, batchSize int) {
	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.String("status", statusString(success)),
		attribute.Int("batch_size", batchSize),
	}
	if errKind != "" {
		attrs = append(attrs, attribute.String("error_kind", errKind))
	}
	m.SegmentationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	m.SegmentationAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJudgment records the single consolidated event for one judgment
// attempt.
func (m *Metrics) RecordJudgment(ctx context.Context, mode string, d time.Duration, success bool, batchSize int) {
	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.String("status", statusString(success)),
		attribute.Int("batch_size", batchSize),
	}
	m.JudgmentDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	m.JudgmentAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStageError counts one recoverable stage failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage, kind string) {
	m.StageErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("kind", kind),
	))
}

// RecordStaleDrop counts one superseded result being discarded.
func (m *Metrics) RecordStaleDrop(ctx context.Context, stage string) {
	m.StaleDrops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

// RecordSessionOpened counts one new live practice session.
func (m *Metrics) RecordSessionOpened(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionClosed counts one practice session ending.
func (m *Metrics) RecordSessionClosed(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}

func statusString(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}
