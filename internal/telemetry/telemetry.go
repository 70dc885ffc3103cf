package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const meterName = "github.com/voxqueue/tts"

// Setup installs a global meter provider backed by a Prometheus exporter and
// returns its scrape handler.
func Setup(serviceName, environment string) (func(context.Context) error, http.Handler, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, promhttp.Handler(), nil
}

// Metrics holds the job instruments. Without Setup they record to a no-op provider.
type Metrics struct {
	jobsSubmitted metric.Int64Counter
	jobsRejected  metric.Int64Counter
	syncWait      metric.Float64Histogram
	jobsProcessed metric.Int64Counter
	generation    metric.Float64Histogram
	chunksPerJob  metric.Int64Histogram
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.jobsSubmitted, err = meter.Int64Counter("tts.jobs.submitted",
		metric.WithDescription("Jobs accepted onto a tier queue")); err != nil {
		return nil, err
	}
	if m.jobsRejected, err = meter.Int64Counter("tts.jobs.rejected",
		metric.WithDescription("Submissions refused before enqueue")); err != nil {
		return nil, err
	}
	if m.syncWait, err = meter.Float64Histogram("tts.sync.wait.seconds",
		metric.WithDescription("Time synchronous callers spent waiting"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.jobsProcessed, err = meter.Int64Counter("tts.jobs.processed",
		metric.WithDescription("Jobs finished by workers")); err != nil {
		return nil, err
	}
	if m.generation, err = meter.Float64Histogram("tts.generation.seconds",
		metric.WithDescription("Wall time spent synthesizing a job"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.chunksPerJob, err = meter.Int64Histogram("tts.chunks.per_job",
		metric.WithDescription("Text chunks synthesized per job")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) JobSubmitted(ctx context.Context, tier string) {
	m.jobsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func (m *Metrics) JobRejected(ctx context.Context, code string) {
	m.jobsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// SyncWaited records a synchronous wait ending in outcome (completed, error, timeout)
func (m *Metrics) SyncWaited(ctx context.Context, outcome string, seconds float64) {
	m.syncWait.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) JobProcessed(ctx context.Context, tier, status string, seconds float64, chunks int) {
	tierAttr := attribute.String("tier", tier)
	m.jobsProcessed.Add(ctx, 1, metric.WithAttributes(tierAttr, attribute.String("status", status)))
	if status == "completed" {
		m.generation.Record(ctx, seconds, metric.WithAttributes(tierAttr))
		m.chunksPerJob.Record(ctx, int64(chunks), metric.WithAttributes(tierAttr))
	}
}
