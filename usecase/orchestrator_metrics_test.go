package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/platform"
	"social-publisher/infrastructure/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok && md.Name == name {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestOrchestrator_LockRefusalCountedOnce(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	metrics, err := telemetry.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	adapter := &scriptedAdapter{name: "tiktok", strategy: model.Chunked(4), hold: 150 * time.Millisecond}
	h := newHarness(t, adapter)
	h.guard.OnRefused = func(string) { metrics.LockRefused(context.Background(), publishLockResource) }
	orch := NewOrchestrator(h.tasks, h.machine, h.store, platform.NewRegistry(adapter), nopMedia{}, h.guard, h.parked, metrics)
	h.queuedTask("t1")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = orch.HandleJob(context.Background(), EncodeJob("t1"))
		}(i)
	}
	wg.Wait()

	var refused int64
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, model.ErrLockNotAcquired)
			refused++
		}
	}
	require.Positive(t, refused)
	assert.Equal(t, refused, counterTotal(t, reader, "publish.lock_refused"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "publish.attempts"))
}
