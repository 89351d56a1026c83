package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacklok/seqci-proxy/internal/engine"
	"github.com/stacklok/seqci-proxy/internal/otel"
)

// Reconciliation action kinds, also used as metric labels
const (
	ActionStaleRow        = "stale_row"
	ActionExitedContainer = "exited_container"
	ActionOrphanContainer = "orphan_container"
)

// ReconcileReport summarizes one reconciliation sweep
type ReconcileReport struct {
	// Instances is the number of rows left after the sweep
	Instances int
	// StaleRows are instances whose container no longer existed
	StaleRows []string
	// ExitedContainers are instances whose container had terminated
	ExitedContainers []string
	// Orphans are managed container ids no row referred to
	Orphans []string
	// Skipped counts rows left alone because the engine could not answer for them
	Skipped int
}

// Reconcile brings the registry and the engine back in line:
// rows whose container is gone are deleted, terminated containers are
// removed along with their rows, and managed containers older than the
// orphan grace period with no row are removed. Engine errors for a single
// row are not treated as proof of death.
func (m *Manager) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lifecycle.Reconcile")
	defer span.End()

	began := time.Now()
	report, err := m.reconcile(ctx)
	m.reconcileMetrics.RecordSweep(ctx, time.Since(began), err == nil)
	if report != nil {
		m.reconcileMetrics.RecordActions(ctx, ActionStaleRow, len(report.StaleRows))
		m.reconcileMetrics.RecordActions(ctx, ActionExitedContainer, len(report.ExitedContainers))
		m.reconcileMetrics.RecordActions(ctx, ActionOrphanContainer, len(report.Orphans))
		span.SetAttributes(otel.AttrResultCount.Int(report.Instances))
	}
	if err != nil {
		otel.RecordError(span, err)
		return report, err
	}

	m.reconcileMetrics.RecordInstances(ctx, report.Instances)
	return report, nil
}

func (m *Manager) reconcile(ctx context.Context) (*ReconcileReport, error) {
	rows, err := m.store.ListInstances(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	report := &ReconcileReport{}
	// Listed before the engine so a container started after this point is
	// young enough to be covered by the grace period.
	tracked := make(map[string]struct{}, len(rows))
	for _, inst := range rows {
		tracked[inst.ContainerID] = struct{}{}

		kind, err := m.reconcileRow(ctx, inst.Name, inst.ContainerID)
		switch {
		case err != nil:
			report.Skipped++
			report.Instances++
			slog.WarnContext(ctx, "Skipping instance during reconciliation",
				"instance", inst.Name,
				"container_id", inst.ContainerID,
				"error", err)
		case kind == ActionStaleRow:
			report.StaleRows = append(report.StaleRows, inst.Name)
		case kind == ActionExitedContainer:
			report.ExitedContainers = append(report.ExitedContainers, inst.Name)
		default:
			report.Instances++
		}
	}

	containers, err := m.engine.ListManaged(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list managed containers: %w", err)
	}

	var errs []error
	cutoff := m.now().Add(-m.orphanGrace)
	for _, c := range containers {
		if _, ok := tracked[c.ID]; ok {
			continue
		}
		if c.Created.After(cutoff) {
			continue
		}
		if err := m.engine.Remove(ctx, c.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove orphan container %s: %w", c.ID, err))
			continue
		}
		slog.InfoContext(ctx, "Removed orphan container", "container_id", c.ID, "status", c.Status)
		report.Orphans = append(report.Orphans, c.ID)
	}

	return report, errors.Join(errs...)
}

// reconcileRow returns the action taken for one row, or "" when the row is healthy
func (m *Manager) reconcileRow(ctx context.Context, name, containerID string) (string, error) {
	unlock := m.locks.Lock(name)
	defer unlock()

	state, err := m.engine.Inspect(ctx, containerID)
	switch {
	case errors.Is(err, engine.ErrContainerNotFound):
		if _, err := m.store.DeleteInstance(ctx, name, containerID); err != nil {
			return "", err
		}
		slog.InfoContext(ctx, "Removed stale instance", "instance", name, "container_id", containerID)
		return ActionStaleRow, nil
	case err != nil:
		return "", err
	case state.Gone():
		if err := m.engine.Remove(ctx, containerID); err != nil {
			return "", err
		}
		if _, err := m.store.DeleteInstance(ctx, name, containerID); err != nil {
			return "", err
		}
		slog.InfoContext(ctx, "Removed terminated instance",
			"instance", name,
			"container_id", containerID,
			"status", state.Status)
		return ActionExitedContainer, nil
	}
	return "", nil
}
