package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lingorelay/lingorelay/pkg/breaker"
)

type flakyBus struct {
	publishErr    error
	subscribeErrs atomic.Int32
	subscribed    atomic.Int32
}

func (f *flakyBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return f.publishErr
}

func (f *flakyBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	f.subscribed.Add(1)
	if f.subscribeErrs.Load() > 0 {
		f.subscribeErrs.Add(-1)
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyBus) Close() error { return nil }

func TestPublishWrapsTransportErrors(t *testing.T) {
	inner := &flakyBus{publishErr: errors.New("broker down")}
	r := NewResilientBus(inner)

	err := r.Publish(context.Background(), ChannelRequests, []byte("x"))
	require.ErrorIs(t, err, ErrBusUnavailable)
}

func TestPublishFastFailsWhenBreakerOpens(t *testing.T) {
	inner := &flakyBus{publishErr: errors.New("broker down")}
	b := breaker.New("bus", breaker.WithFailureThreshold(2), breaker.WithCoolDown(time.Minute))
	r := NewResilientBus(inner, WithBreaker(b))

	ctx := context.Background()
	require.Error(t, r.Publish(ctx, ChannelRequests, []byte("x")))
	require.Error(t, r.Publish(ctx, ChannelRequests, []byte("x")))

	err := r.Publish(ctx, ChannelRequests, []byte("x"))
	require.ErrorIs(t, err, ErrBusUnavailable)
	require.ErrorIs(t, err, breaker.ErrCircuitOpen)
}

func TestSubscribeReconnectsAfterFailures(t *testing.T) {
	inner := &flakyBus{}
	inner.subscribeErrs.Store(3)

	r := NewResilientBus(inner, WithReconnectBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Subscribe(ctx, ChannelRequests, func(context.Context, []byte) error { return nil })
	}()

	require.Eventually(t, func() bool {
		return inner.subscribed.Load() >= 4
	}, time.Second, 5*time.Millisecond, "subscription was not re-established")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not exit on cancel")
	}
}
