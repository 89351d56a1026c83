package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stacklok/seqci-proxy/internal/lifecycle"
)

//go:generate mockgen -destination=mocks/mock_reconciler.go -package=mocks -source=coordinator.go Reconciler

// ErrAlreadyStarted is returned by Start when the loop has already been started
var ErrAlreadyStarted = errors.New("reconciliation coordinator already started")

// Reconciler performs one reconciliation sweep
type Reconciler interface {
	Reconcile(ctx context.Context) (*lifecycle.ReconcileReport, error)
}

// Coordinator schedules background reconciliation
type Coordinator interface {
	// Start runs the sweep loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits for the running sweep to finish
	Stop() error
}

type defaultCoordinator struct {
	reconciler Reconciler
	interval   time.Duration
	jitter     func(time.Duration) time.Duration

	mu         sync.Mutex
	started    bool
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures the coordinator
type Option func(*defaultCoordinator)

// WithJitter overrides the interval jitter function
func WithJitter(f func(time.Duration) time.Duration) Option {
	return func(c *defaultCoordinator) {
		if f != nil {
			c.jitter = f
		}
	}
}

// New creates a coordinator sweeping every interval
func New(reconciler Reconciler, interval time.Duration, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		reconciler: reconciler,
		interval:   interval,
		jitter:     tenPercentJitter,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tenPercentJitter spreads sweeps of several replicas sharing one postgres registry
func tenPercentJitter(d time.Duration) time.Duration {
	spread := int64(d / 10)
	if spread <= 0 {
		return d
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for jitter
	return d + time.Duration(rand.Int64N(2*spread)-spread)
}

// Start implements Coordinator
func (c *defaultCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.started = true
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		close(c.done)
		slog.Info("Reconciliation coordinator shutting down")
	}()

	c.sweep(loopCtx)

	if c.interval <= 0 {
		slog.Info("Periodic reconciliation disabled")
		<-loopCtx.Done()
		return nil
	}

	next := c.jitter(c.interval)
	slog.Info("Starting reconciliation coordinator", "interval", c.interval, "first_interval", next)
	ticker := time.NewTicker(next)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep(loopCtx)
			ticker.Reset(c.jitter(c.interval))
		case <-loopCtx.Done():
			return nil
		}
	}
}

// Stop implements Coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping reconciliation coordinator")
		cancel()
		<-c.done
	}
	return nil
}

func (c *defaultCoordinator) sweep(ctx context.Context) {
	report, err := c.reconciler.Reconcile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Reconciliation sweep failed", "error", err)
	}
	if report == nil {
		return
	}

	changed := len(report.StaleRows) + len(report.ExitedContainers) + len(report.Orphans)
	attrs := []any{
		"instances", report.Instances,
		"stale_rows", len(report.StaleRows),
		"exited_containers", len(report.ExitedContainers),
		"orphans", len(report.Orphans),
		"skipped", report.Skipped,
	}
	if changed > 0 {
		slog.Info("Reconciliation sweep completed", attrs...)
	} else {
		slog.Debug("Reconciliation sweep completed", attrs...)
	}
}
