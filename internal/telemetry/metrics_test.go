package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectScope(t *testing.T, reader *sdkmetric.ManualReader, scopeName string) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != scopeName {
			continue
		}
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestNewLifecycleMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewLifecycleMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("nil metrics are a no-op", func(t *testing.T) {
		t.Parallel()

		var metrics *LifecycleMetrics
		metrics.RecordOperation(context.Background(), "start", time.Second, nil)
		metrics.RecordRollback(context.Background(), "remove_container", nil)
		metrics.RecordPortAttempts(context.Background(), 3, false)
	})
}

func TestLifecycleMetrics_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewLifecycleMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	ctx := context.Background()
	metrics.RecordOperation(ctx, "start", 2*time.Second, nil)
	metrics.RecordOperation(ctx, "start", time.Second, errors.New("boom"))
	metrics.RecordRollback(ctx, "remove_container", nil)
	metrics.RecordPortAttempts(ctx, 2, false)

	data := collectScope(t, reader, LifecycleMetricsMeterName)

	total, ok := data["seqci_instance_operations_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	var sum int64
	for _, dp := range total.DataPoints {
		sum += dp.Value
	}
	assert.Equal(t, int64(2), sum)
	assert.Len(t, total.DataPoints, 2, "success and failure are separate series")

	rollbacks, ok := data["seqci_instance_rollbacks_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, rollbacks.DataPoints, 1)
	assert.Equal(t, int64(1), rollbacks.DataPoints[0].Value)

	assert.Contains(t, data, "seqci_instance_operation_duration_seconds")
	assert.Contains(t, data, "seqci_port_allocation_attempts")
}

func TestReconcileMetrics_Record(t *testing.T) {
	t.Parallel()

	var nilMetrics *ReconcileMetrics
	nilMetrics.RecordSweep(context.Background(), time.Second, true)
	nilMetrics.RecordActions(context.Background(), "stale_row", 1)
	nilMetrics.RecordInstances(context.Background(), 1)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewReconcileMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordSweep(ctx, 500*time.Millisecond, true)
	metrics.RecordActions(ctx, "stale_row", 2)
	metrics.RecordActions(ctx, "orphan_container", 0)
	metrics.RecordInstances(ctx, 7)

	data := collectScope(t, reader, ReconcileMetricsMeterName)

	actions, ok := data["seqci_reconcile_actions_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, actions.DataPoints, 1, "zero counts are not recorded")
	assert.Equal(t, int64(2), actions.DataPoints[0].Value)

	gauge, ok := data["seqci_instances"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)
}
