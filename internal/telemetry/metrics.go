// Package telemetry exposes OpenTelemetry metrics for the job pipeline.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const meterName = "github.com/marketpulse/pulse"

// Config controls OTLP export
type Config struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	Interval       time.Duration
	ServiceVersion string
}

// Metrics holds the queue instruments. A nil *Metrics records nothing.
type Metrics struct {
	enqueued        metric.Int64Counter
	completed       metric.Int64Counter
	retried         metric.Int64Counter
	failed          metric.Int64Counter
	reset           metric.Int64Counter
	claimLatency    metric.Float64Histogram
	handlerDuration metric.Float64Histogram
}

// Setup installs the global meter provider and returns the instruments plus a
// shutdown func. With export disabled the global no-op provider is used.
func Setup(ctx context.Context, cfg Config, log zerolog.Logger) (*Metrics, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled {
		m, err := NewMetrics(otel.Meter(meterName))
		return m, noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("pulse"),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to build otel resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	m, err := NewMetrics(provider.Meter(meterName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, noop, err
	}

	log.Info().Str("endpoint", cfg.Endpoint).Dur("interval", interval).Msg("OTLP metrics export enabled")
	return m, provider.Shutdown, nil
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.enqueued, err = meter.Int64Counter("pulse_jobs_enqueued_total",
		metric.WithDescription("Jobs inserted into the queue")); err != nil {
		return nil, err
	}
	if m.completed, err = meter.Int64Counter("pulse_jobs_completed_total",
		metric.WithDescription("Jobs that finished successfully")); err != nil {
		return nil, err
	}
	if m.retried, err = meter.Int64Counter("pulse_jobs_retried_total",
		metric.WithDescription("Job failures scheduled for another attempt")); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("pulse_jobs_failed_total",
		metric.WithDescription("Jobs that reached the failed state")); err != nil {
		return nil, err
	}
	if m.reset, err = meter.Int64Counter("pulse_jobs_reset_total",
		metric.WithDescription("Stuck processing jobs reset by the reaper")); err != nil {
		return nil, err
	}
	if m.claimLatency, err = meter.Float64Histogram("pulse_job_claim_latency_seconds",
		metric.WithDescription("Delay between a job becoming eligible and being claimed"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.handlerDuration, err = meter.Float64Histogram("pulse_job_handler_duration_seconds",
		metric.WithDescription("Handler execution time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return &m, nil
}

func typeAttr(jobType string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_type", jobType))
}

// JobEnqueued counts an insert
func (m *Metrics) JobEnqueued(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.enqueued.Add(ctx, 1, typeAttr(jobType))
}

// JobClaimed records how long the job waited past its scheduled time
func (m *Metrics) JobClaimed(ctx context.Context, jobType string, wait time.Duration) {
	if m == nil {
		return
	}
	if wait < 0 {
		wait = 0
	}
	m.claimLatency.Record(ctx, wait.Seconds(), typeAttr(jobType))
}

// JobCompleted counts a success
func (m *Metrics) JobCompleted(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.completed.Add(ctx, 1, typeAttr(jobType))
}

// JobRetried counts a transient failure that will be retried
func (m *Metrics) JobRetried(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.retried.Add(ctx, 1, typeAttr(jobType))
}

// JobFailed counts a terminal failure
func (m *Metrics) JobFailed(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, typeAttr(jobType))
}

// JobsReset counts reaper resets
func (m *Metrics) JobsReset(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.reset.Add(ctx, n)
}

// HandlerFinished records handler wall time
func (m *Metrics) HandlerFinished(ctx context.Context, jobType string, took time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.handlerDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(attribute.String("job_type", jobType), attribute.Bool("success", ok)))
}
