package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/seqci-proxy/internal/lifecycle"
	"github.com/stacklok/seqci-proxy/internal/reconcile/mocks"
)

func noJitter(d time.Duration) time.Duration { return d }

func TestTenPercentJitter(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		got := tenPercentJitter(time.Minute)
		assert.GreaterOrEqual(t, got, 54*time.Second)
		assert.Less(t, got, 66*time.Second)
	}
	assert.Equal(t, time.Nanosecond, tenPercentJitter(time.Nanosecond))
}

func TestCoordinator_SweepsPeriodically(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	reconciler := mocks.NewMockReconciler(ctrl)

	var sweeps atomic.Int32
	reconciler.EXPECT().Reconcile(gomock.Any()).DoAndReturn(
		func(context.Context) (*lifecycle.ReconcileReport, error) {
			n := sweeps.Add(1)
			if n == 2 {
				return nil, errors.New("engine hiccup")
			}
			return &lifecycle.ReconcileReport{Instances: 1, StaleRows: []string{"abc"}}, nil
		}).MinTimes(3)

	c := New(reconciler, 10*time.Millisecond, WithJitter(noJitter))
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()

	require.Eventually(t, func() bool { return sweeps.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())
	require.NoError(t, <-errCh)
}

func TestCoordinator_ZeroIntervalRunsOnce(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	reconciler := mocks.NewMockReconciler(ctrl)
	reconciler.EXPECT().Reconcile(gomock.Any()).Return(&lifecycle.ReconcileReport{}, nil).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	c := New(reconciler, 0)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestCoordinator_StopBeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	c := New(mocks.NewMockReconciler(ctrl), time.Minute)
	assert.NoError(t, c.Stop())
}

func TestCoordinator_StartTwice(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	reconciler := mocks.NewMockReconciler(ctrl)
	swept := make(chan struct{}, 1)
	reconciler.EXPECT().Reconcile(gomock.Any()).DoAndReturn(
		func(context.Context) (*lifecycle.ReconcileReport, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return &lifecycle.ReconcileReport{}, nil
		}).AnyTimes()

	c := New(reconciler, time.Minute)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()
	<-swept

	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, c.Stop())
	require.NoError(t, <-errCh)

	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted, "a stopped coordinator is not restarted")
}
