package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// LifecycleMetricsMeterName is the name used for the instance lifecycle meter
	LifecycleMetricsMeterName = "github.com/stacklok/seqci-proxy/lifecycle"

	// ReconcileMetricsMeterName is the name used for the reconciliation meter
	ReconcileMetricsMeterName = "github.com/stacklok/seqci-proxy/reconcile"
)

// Outcome labels shared by lifecycle instruments
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// LifecycleMetrics holds the OpenTelemetry instruments for instance lifecycle operations
type LifecycleMetrics struct {
	operationDuration metric.Float64Histogram
	operationsTotal   metric.Int64Counter
	rollbacksTotal    metric.Int64Counter
	portAttempts      metric.Int64Histogram
}

// NewLifecycleMetrics creates a new LifecycleMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewLifecycleMetrics(provider metric.MeterProvider) (*LifecycleMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(LifecycleMetricsMeterName)

	operationDuration, err := meter.Float64Histogram(
		"seqci_instance_operation_duration_seconds",
		metric.WithDescription("Duration of instance start and stop operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	operationsTotal, err := meter.Int64Counter(
		"seqci_instance_operations_total",
		metric.WithDescription("Number of instance lifecycle operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	rollbacksTotal, err := meter.Int64Counter(
		"seqci_instance_rollbacks_total",
		metric.WithDescription("Number of compensating actions run after a failed start"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		return nil, err
	}

	portAttempts, err := meter.Int64Histogram(
		"seqci_port_allocation_attempts",
		metric.WithDescription("Number of candidate ports sampled per allocation"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64),
	)
	if err != nil {
		return nil, err
	}

	return &LifecycleMetrics{
		operationDuration: operationDuration,
		operationsTotal:   operationsTotal,
		rollbacksTotal:    rollbacksTotal,
		portAttempts:      portAttempts,
	}, nil
}

// RecordOperation records the duration and outcome of a lifecycle operation
// such as "start" or "stop"
func (m *LifecycleMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)

	m.operationDuration.Record(ctx, duration.Seconds(), attrs)
	m.operationsTotal.Add(ctx, 1, attrs)
}

// RecordRollback counts a compensating action for the given step
// ("remove_container", "release_port")
func (m *LifecycleMetrics) RecordRollback(ctx context.Context, step string, err error) {
	if m == nil {
		return
	}

	m.rollbacksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.Bool("success", err == nil),
	))
}

// RecordPortAttempts records how many candidates a port allocation sampled
func (m *LifecycleMetrics) RecordPortAttempts(ctx context.Context, attempts int, exhausted bool) {
	if m == nil {
		return
	}

	m.portAttempts.Record(ctx, int64(attempts), metric.WithAttributes(
		attribute.Bool("exhausted", exhausted),
	))
}

// ReconcileMetrics holds the OpenTelemetry instruments for reconciliation sweeps
type ReconcileMetrics struct {
	sweepDuration metric.Float64Histogram
	actionsTotal  metric.Int64Counter
	instances     metric.Int64Gauge
}

// NewReconcileMetrics creates a new ReconcileMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewReconcileMetrics(provider metric.MeterProvider) (*ReconcileMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReconcileMetricsMeterName)

	sweepDuration, err := meter.Float64Histogram(
		"seqci_reconcile_duration_seconds",
		metric.WithDescription("Duration of reconciliation sweeps in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	actionsTotal, err := meter.Int64Counter(
		"seqci_reconcile_actions_total",
		metric.WithDescription("Number of registry rows or containers cleaned up by reconciliation"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	instances, err := meter.Int64Gauge(
		"seqci_instances",
		metric.WithDescription("Number of registered instances after the last sweep"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		sweepDuration: sweepDuration,
		actionsTotal:  actionsTotal,
		instances:     instances,
	}, nil
}

// RecordSweep records one reconciliation sweep
func (m *ReconcileMetrics) RecordSweep(ctx context.Context, duration time.Duration, success bool) {
	if m == nil {
		return
	}

	m.sweepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordActions adds count actions of the given kind
// ("stale_row", "exited_container", "orphan_container")
func (m *ReconcileMetrics) RecordActions(ctx context.Context, kind string, count int) {
	if m == nil || count == 0 {
		return
	}

	m.actionsTotal.Add(ctx, int64(count), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordInstances records the number of registered instances
func (m *ReconcileMetrics) RecordInstances(ctx context.Context, count int) {
	if m == nil {
		return
	}

	m.instances.Record(ctx, int64(count))
}
