package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(context.Context) error    { return errBoom }
func succeeding(context.Context) error { return nil }

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New("test", WithFailureThreshold(3), WithCoolDown(time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Do(ctx, failing), errBoom)
		require.Equal(t, StateClosed, b.State())
	}

	require.ErrorIs(t, b.Do(ctx, failing), errBoom)
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerFailsFastWithoutInvokingFn(t *testing.T) {
	now := time.Now()
	b := New("test", WithFailureThreshold(1), WithCoolDown(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.ErrorIs(t, b.Do(ctx, failing), errBoom)
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Do(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, invoked)
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	b := New("test", WithFailureThreshold(1), WithCoolDown(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.ErrorIs(t, b.Do(ctx, failing), errBoom)
	require.Equal(t, StateOpen, b.State())

	// Cool-down elapses, the next call is the probe.
	now = now.Add(time.Minute)
	require.NoError(t, b.Do(ctx, succeeding))
	require.Equal(t, StateClosed, b.State())

	// Counter was reset, one more failure does not re-open a threshold-2 breaker.
	b2 := New("test2", WithFailureThreshold(2))
	require.ErrorIs(t, b2.Do(ctx, failing), errBoom)
	require.NoError(t, b2.Do(ctx, succeeding))
	require.ErrorIs(t, b2.Do(ctx, failing), errBoom)
	require.Equal(t, StateClosed, b2.State())
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := New("test", WithFailureThreshold(1), WithCoolDown(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.ErrorIs(t, b.Do(ctx, failing), errBoom)

	now = now.Add(time.Minute)
	require.ErrorIs(t, b.Do(ctx, failing), errBoom)
	require.Equal(t, StateOpen, b.State())

	// The cool-down clock restarted at the probe failure, so just before the
	// second cool-down elapses the breaker still fails fast.
	now = now.Add(time.Minute - time.Second)
	require.ErrorIs(t, b.Do(ctx, succeeding), ErrCircuitOpen)
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Now()
	b := New("test", WithFailureThreshold(1), WithCoolDown(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.ErrorIs(t, b.Do(ctx, failing), errBoom)
	now = now.Add(time.Minute)

	probeEntered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Do(ctx, func(context.Context) error {
			close(probeEntered)
			<-release
			return nil
		})
	}()

	<-probeEntered
	// While the probe is in flight every other caller fails fast.
	require.ErrorIs(t, b.Do(ctx, succeeding), ErrCircuitOpen)

	close(release)
	wg.Wait()
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := New("test", WithFailureThreshold(1))
	require.ErrorIs(t, b.Do(context.Background(), failing), errBoom)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	require.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Do(context.Background(), succeeding))
}

func TestBreakerConcurrentFailures(t *testing.T) {
	b := New("test", WithFailureThreshold(50), WithCoolDown(time.Minute))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Do(ctx, failing)
		}()
	}
	wg.Wait()

	require.Equal(t, StateOpen, b.State())
}
