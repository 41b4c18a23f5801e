// Package metrics emits backfill observability counters through the
// OpenTelemetry metric API. With no provider configured the instruments are
// no-ops, so the engine never pays for disabled telemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/clintrovert/praxis"

// Init installs a metric provider writing to stdout when enabled. When
// disabled the global no-op provider stays in place. Returns a shutdown
// function for main to defer.
func Init(ctx context.Context, serviceName string, enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric resource: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Recorder holds the backfill instruments.
type Recorder struct {
	syncComplete metric.Int64Counter
	syncFailed   metric.Int64Counter
	taskComplete metric.Int64Counter
	taskFailed   metric.Int64Counter
	syncDuration metric.Float64Histogram
}

// NewRecorder creates the backfill instruments on the given meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.syncComplete, err = meter.Int64Counter("backfill.sync.complete"); err != nil {
		return nil, err
	}
	if r.syncFailed, err = meter.Int64Counter("backfill.sync.failed"); err != nil {
		return nil, err
	}
	if r.taskComplete, err = meter.Int64Counter("backfill.task.complete"); err != nil {
		return nil, err
	}
	if r.taskFailed, err = meter.Int64Counter("backfill.task.failed"); err != nil {
		return nil, err
	}
	if r.syncDuration, err = meter.Float64Histogram("backfill.sync.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return r, nil
}

// Default creates a recorder on the globally registered meter provider.
func Default() (*Recorder, error) {
	return NewRecorder(otel.Meter(instrumentationScope))
}

// SyncComplete counts one fully completed subscription sync.
func (r *Recorder) SyncComplete(ctx context.Context, product string) {
	r.syncComplete.Add(ctx, 1, metric.WithAttributes(attribute.String("product", product)))
}

// SyncFailed counts one subscription marked FAILED.
func (r *Recorder) SyncFailed(ctx context.Context, product string) {
	r.syncFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("product", product)))
}

// TaskComplete counts one completed task page.
func (r *Recorder) TaskComplete(ctx context.Context, taskType, product string) {
	r.taskComplete.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("product", product),
	))
}

// TaskFailed counts one task marked failed.
func (r *Recorder) TaskFailed(ctx context.Context, taskType, product string) {
	r.taskFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("product", product),
	))
}

// SyncDuration records end-to-end wall-clock time for one full backfill.
func (r *Recorder) SyncDuration(ctx context.Context, product string, d time.Duration) {
	r.syncDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.String("product", product),
	))
}
