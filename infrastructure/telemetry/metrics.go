package telemetry

import (
	"context"
	"os"
	"time"

	"social-publisher/infrastructure/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "social-publisher/orchestrator"

// Metrics holds the orchestrator counters. A zero Metrics is not usable; build it with NewMetrics.
type Metrics struct {
	attempts      metric.Int64Counter
	outcomes      metric.Int64Counter
	lockRefused   metric.Int64Counter
	callbacks     metric.Int64Counter
	refreshes     metric.Int64Counter
	eventFailures metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}
	var err error
	if m.attempts, err = meter.Int64Counter("publish.attempts", metric.WithDescription("Publish attempts started")); err != nil {
		return nil, err
	}
	if m.outcomes, err = meter.Int64Counter("publish.outcomes", metric.WithDescription("Publish tasks reaching Released or Failed")); err != nil {
		return nil, err
	}
	if m.lockRefused, err = meter.Int64Counter("publish.lock_refused", metric.WithDescription("Jobs handed back because the task lock was held")); err != nil {
		return nil, err
	}
	if m.callbacks, err = meter.Int64Counter("publish.callbacks", metric.WithDescription("Provider callbacks received")); err != nil {
		return nil, err
	}
	if m.refreshes, err = meter.Int64Counter("credential.refreshes", metric.WithDescription("OAuth refresh calls made")); err != nil {
		return nil, err
	}
	if m.eventFailures, err = meter.Int64Counter("publish.event_failures", metric.WithDescription("Completion events a transport did not accept")); err != nil {
		return nil, err
	}
	return m, nil
}

var global *Metrics

// Default returns metrics bound to the global meter provider.
func Default() *Metrics {
	if global == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while creating metrics")
			return nil
		}
		global = m
	}
	return global
}

func (m *Metrics) Attempt(ctx context.Context, platform string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", platform)))
}

func (m *Metrics) Outcome(ctx context.Context, platform, status string) {
	if m == nil {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", platform), attribute.String("status", status)))
}

func (m *Metrics) LockRefused(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	m.lockRefused.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", resource)))
}

func (m *Metrics) Callback(ctx context.Context, platform, outcome string) {
	if m == nil {
		return
	}
	m.callbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", platform), attribute.String("outcome", outcome)))
}

func (m *Metrics) Refresh(ctx context.Context, platform string, ok bool) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", platform), attribute.Bool("ok", ok)))
}

func (m *Metrics) EventFailure(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.eventFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// Setup installs a meter provider that periodically writes to stdout when METRICS_STDOUT is set.
// The returned func flushes and stops it.
func Setup(ctx context.Context, interval time.Duration) (func(context.Context) error, error) {
	if os.Getenv("METRICS_STDOUT") == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Minute
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	otel.SetMeterProvider(mp)
	global = nil
	logger.GetLogger().WithField("interval", interval.String()).Info("stdout metrics exporter enabled")
	return mp.Shutdown, nil
}
