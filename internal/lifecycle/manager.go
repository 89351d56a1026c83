// Package lifecycle orchestrates sequencer instances across the registry and
// the container engine.
//
// Neither system of record can be updated atomically with the other, so
// creation runs as create, start, register with compensating removal on
// failure, and teardown removes the container before the row. A row whose
// container has vanished is tolerated and removed the next time it is touched.
// A running container without a row is never left behind on purpose.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/seqci-proxy/internal/engine"
	"github.com/stacklok/seqci-proxy/internal/otel"
	"github.com/stacklok/seqci-proxy/internal/ports"
	"github.com/stacklok/seqci-proxy/internal/registry"
	"github.com/stacklok/seqci-proxy/internal/telemetry"
)

// TracerName is the instrumentation scope of lifecycle spans
const TracerName = "github.com/stacklok/seqci-proxy/lifecycle"

const (
	defaultRollbackTimeout   = 30 * time.Second
	defaultOrphanGracePeriod = 2 * time.Minute
	maxNameAttempts          = 4
)

// StartOptions tunes the sequencer started for an instance
type StartOptions struct {
	// BlockTime is the block interval in milliseconds, nil to mine on demand
	BlockTime *uint64
	NoMining  bool
}

// Manager starts, stops and resolves instances
type Manager struct {
	store     registry.Store
	engine    engine.Engine
	allocator *ports.Allocator
	locks     keyedMutex

	revealForeign   bool
	rollbackTimeout time.Duration
	orphanGrace     time.Duration
	newName         func() string
	now             func() time.Time

	tracer           trace.Tracer
	metrics          *telemetry.LifecycleMetrics
	reconcileMetrics *telemetry.ReconcileMetrics
}

// Option configures a Manager
type Option func(*Manager)

// WithRevealForeign makes access to another tenant's instance fail with
// ErrForbidden instead of ErrInstanceNotFound
func WithRevealForeign(reveal bool) Option {
	return func(m *Manager) {
		m.revealForeign = reveal
	}
}

// WithRollbackTimeout bounds each compensating action after a failed start
func WithRollbackTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.rollbackTimeout = d
		}
	}
}

// WithOrphanGracePeriod sets how old an unregistered managed container must
// be before reconciliation removes it
func WithOrphanGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.orphanGrace = d
		}
	}
}

// WithNameGenerator overrides instance name generation
func WithNameGenerator(f func() string) Option {
	return func(m *Manager) {
		if f != nil {
			m.newName = f
		}
	}
}

// WithClock overrides the clock used for orphan ages
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTracer enables lifecycle spans
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithMetrics records lifecycle metrics
func WithMetrics(metrics *telemetry.LifecycleMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithReconcileMetrics records reconciliation metrics
func WithReconcileMetrics(metrics *telemetry.ReconcileMetrics) Option {
	return func(m *Manager) {
		m.reconcileMetrics = metrics
	}
}

// NewManager creates a Manager
func NewManager(store registry.Store, eng engine.Engine, allocator *ports.Allocator, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("instance registry is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("container engine is required")
	}
	if allocator == nil {
		return nil, fmt.Errorf("port allocator is required")
	}

	m := &Manager{
		store:           store,
		engine:          eng,
		allocator:       allocator,
		rollbackTimeout: defaultRollbackTimeout,
		orphanGrace:     defaultOrphanGracePeriod,
		newName:         registry.NewInstanceName,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start creates, starts and registers a new instance owned by tenant
func (m *Manager) Start(ctx context.Context, tenant *registry.Tenant, opts StartOptions) (*registry.Instance, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lifecycle.Start",
		trace.WithAttributes(otel.AttrTenantName.String(tenantName(tenant))))
	defer span.End()

	began := time.Now()
	inst, err := m.start(ctx, tenant, opts)
	m.metrics.RecordOperation(ctx, "start", time.Since(began), err)
	if err != nil {
		otel.RecordUnexpectedError(span, err, ports.ErrExhausted)
		return nil, err
	}

	span.SetAttributes(
		otel.AttrInstanceName.String(inst.Name),
		otel.AttrContainerID.String(inst.ContainerID),
		otel.AttrProxiedPort.Int(inst.ProxiedPort),
	)
	slog.InfoContext(ctx, "Instance started",
		"instance", inst.Name,
		"tenant", tenantName(tenant),
		"port", inst.ProxiedPort,
		"container_id", inst.ContainerID)
	return inst, nil
}

func (m *Manager) start(ctx context.Context, tenant *registry.Tenant, opts StartOptions) (*registry.Instance, error) {
	if tenant == nil {
		return nil, fmt.Errorf("tenant is required")
	}

	lease, err := m.allocator.Allocate(ctx)
	if err != nil {
		if errors.Is(err, ports.ErrExhausted) {
			m.metrics.RecordPortAttempts(ctx, m.allocator.MaxAttempts(), true)
		}
		return nil, fmt.Errorf("failed to allocate port: %w", err)
	}
	// The unique index on proxied_port takes over once the row is written.
	defer lease.Release()
	m.metrics.RecordPortAttempts(ctx, lease.Attempts, false)

	containerID, err := m.engine.Create(ctx, engine.ContainerSpec{
		Port:      lease.Port,
		BlockTime: opts.BlockTime,
		NoMining:  opts.NoMining,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create container: %w", ErrUpstreamUnavailable, err)
	}

	if err := m.engine.Start(ctx, containerID); err != nil {
		m.rollback(ctx, containerID, err)
		return nil, fmt.Errorf("%w: failed to start container: %w", ErrUpstreamUnavailable, err)
	}

	inst := &registry.Instance{
		ContainerID: containerID,
		OwnerAPIKey: tenant.APIKey,
		ProxiedPort: lease.Port,
		BlockTime:   opts.BlockTime,
		NoMining:    opts.NoMining,
	}
	for attempt := 1; ; attempt++ {
		inst.Name = m.newName()
		err = m.store.CreateInstance(ctx, inst)
		if !errors.Is(err, registry.ErrNameTaken) || attempt == maxNameAttempts {
			break
		}
		slog.WarnContext(ctx, "Instance name collision, drawing another", "name", inst.Name)
	}
	if err != nil {
		m.rollback(ctx, containerID, err)
		return nil, fmt.Errorf("failed to register instance: %w", err)
	}
	return inst, nil
}

// rollback removes a container that could not be started or registered.
// It runs detached from ctx so a client disconnect cannot strand the container.
func (m *Manager) rollback(ctx context.Context, containerID string, cause error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.rollbackTimeout)
	defer cancel()

	err := m.engine.Remove(rctx, containerID)
	m.metrics.RecordRollback(rctx, "remove_container", err)
	if err != nil {
		slog.ErrorContext(ctx, "Rollback failed, container left for reconciliation",
			"container_id", containerID,
			"cause", cause,
			"error", err)
		return
	}
	slog.WarnContext(ctx, "Rolled back container after failed start",
		"container_id", containerID,
		"cause", cause)
}

// Stop tears down an instance owned by tenant. Concurrent stops of the same
// name perform a single teardown; the others observe ErrInstanceNotFound.
func (m *Manager) Stop(ctx context.Context, tenant *registry.Tenant, name string) error {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lifecycle.Stop",
		trace.WithAttributes(
			otel.AttrTenantName.String(tenantName(tenant)),
			otel.AttrInstanceName.String(name),
		))
	defer span.End()

	began := time.Now()
	err := m.stop(ctx, tenant, name)
	m.metrics.RecordOperation(ctx, "stop", time.Since(began), err)
	if err != nil {
		otel.RecordUnexpectedError(span, err, ErrInstanceNotFound, ErrForbidden)
		return err
	}

	slog.InfoContext(ctx, "Instance stopped", "instance", name, "tenant", tenantName(tenant))
	return nil
}

func (m *Manager) stop(ctx context.Context, tenant *registry.Tenant, name string) error {
	unlock := m.locks.Lock(name)
	defer unlock()

	inst, err := m.resolve(ctx, tenant, name)
	if err != nil {
		return err
	}

	// Remove treats an already missing container as success.
	if err := m.engine.Remove(ctx, inst.ContainerID); err != nil {
		return fmt.Errorf("%w: failed to remove container: %w", ErrUpstreamUnavailable, err)
	}

	removed, err := m.store.DeleteInstance(ctx, name, inst.ContainerID)
	if err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", name, err)
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, name)
	}
	return nil
}

// Resolve returns the instance called name if tenant owns it
func (m *Manager) Resolve(ctx context.Context, tenant *registry.Tenant, name string) (*registry.Instance, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lifecycle.Resolve",
		trace.WithAttributes(otel.AttrInstanceName.String(name)))
	defer span.End()

	inst, err := m.resolve(ctx, tenant, name)
	otel.RecordUnexpectedError(span, err, ErrInstanceNotFound, ErrForbidden)
	return inst, err
}

func (m *Manager) resolve(ctx context.Context, tenant *registry.Tenant, name string) (*registry.Instance, error) {
	if tenant == nil {
		return nil, fmt.Errorf("tenant is required")
	}

	inst, err := m.store.GetInstance(ctx, name)
	if err != nil {
		if errors.Is(err, registry.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, name)
		}
		return nil, fmt.Errorf("failed to look up instance %s: %w", name, err)
	}

	if !inst.OwnedBy(tenant.APIKey) {
		slog.WarnContext(ctx, "Tenant tried to access a foreign instance",
			"instance", name,
			"tenant", tenant.Name)
		if m.revealForeign {
			return nil, fmt.Errorf("%w: %s", ErrForbidden, name)
		}
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, name)
	}
	return inst, nil
}

// Logs streams the tail of an instance's combined output
func (m *Manager) Logs(ctx context.Context, tenant *registry.Tenant, name string, tail engine.Tail) (io.ReadCloser, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lifecycle.Logs",
		trace.WithAttributes(
			otel.AttrInstanceName.String(name),
			otel.AttrLogTail.String(tail.String()),
		))
	defer span.End()

	inst, err := m.resolve(ctx, tenant, name)
	if err != nil {
		otel.RecordUnexpectedError(span, err, ErrInstanceNotFound, ErrForbidden)
		return nil, err
	}

	rc, err := m.engine.Logs(ctx, inst.ContainerID, tail)
	if errors.Is(err, engine.ErrContainerNotFound) {
		m.dropStale(ctx, inst)
		err = fmt.Errorf("%w: %s", ErrInstanceNotFound, name)
	} else if err != nil {
		err = fmt.Errorf("%w: failed to read logs: %w", ErrUpstreamUnavailable, err)
	}
	if err != nil {
		otel.RecordUnexpectedError(span, err, ErrInstanceNotFound)
		return nil, err
	}
	return rc, nil
}

// Invalidate is called after the instance could not be reached. It returns
// ErrInstanceNotFound and drops the row when the container is gone, and
// ErrUpstreamUnavailable otherwise. The row is kept unless the engine
// confirms the container no longer exists.
func (m *Manager) Invalidate(ctx context.Context, inst *registry.Instance) error {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lifecycle.Invalidate",
		trace.WithAttributes(
			otel.AttrInstanceName.String(inst.Name),
			otel.AttrContainerID.String(inst.ContainerID),
		))
	defer span.End()

	state, err := m.engine.Inspect(ctx, inst.ContainerID)
	switch {
	case errors.Is(err, engine.ErrContainerNotFound):
		m.dropStale(ctx, inst)
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, inst.Name)
	case err != nil:
		otel.RecordError(span, err)
		return fmt.Errorf("%w: failed to inspect container: %w", ErrUpstreamUnavailable, err)
	case !state.Running:
		span.SetAttributes(attribute.String("container.status", state.Status))
		return fmt.Errorf("%w: instance %s is %s", ErrUpstreamUnavailable, inst.Name, state.Status)
	default:
		return fmt.Errorf("%w: instance %s is not answering", ErrUpstreamUnavailable, inst.Name)
	}
}

// dropStale removes a row whose container is gone. The delete is
// conditional on the container id so a concurrent restart under the same
// name is never affected.
func (m *Manager) dropStale(ctx context.Context, inst *registry.Instance) {
	unlock := m.locks.Lock(inst.Name)
	defer unlock()

	removed, err := m.store.DeleteInstance(context.WithoutCancel(ctx), inst.Name, inst.ContainerID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to remove stale instance", "instance", inst.Name, "error", err)
		return
	}
	if removed {
		slog.InfoContext(ctx, "Removed stale instance whose container is gone",
			"instance", inst.Name,
			"container_id", inst.ContainerID)
	}
}

// CheckReadiness verifies that both systems of record are reachable
func (m *Manager) CheckReadiness(ctx context.Context) error {
	return errors.Join(m.store.CheckReadiness(ctx), m.engine.Ping(ctx))
}

func tenantName(t *registry.Tenant) string {
	if t == nil {
		return ""
	}
	return t.Name
}
