package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lingorelay/lingorelay/internal/bus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func subscribe(t *testing.T, b *Bus, channel string) (<-chan []byte, context.CancelFunc, *sync.WaitGroup) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan []byte, 128)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Subscribe(ctx, channel, func(_ context.Context, payload []byte) error {
			received <- payload
			return nil
		})
	}()

	// Give the subscriber a beat to register.
	time.Sleep(10 * time.Millisecond)
	return received, cancel, &wg
}

func TestPublishWithoutSubscribersDrops(t *testing.T) {
	b := New()
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), bus.ChannelRequests, []byte("lost")))
}

func TestPublishReachesSubscriberInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	received, cancel, wg := subscribe(t, b, bus.ChannelRequests)
	defer func() {
		cancel()
		wg.Wait()
	}()

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, b.Publish(context.Background(), bus.ChannelRequests, []byte(msg)))
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-received:
			require.Equal(t, want, string(got))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	b := New()
	defer b.Close()

	requests, cancelReq, wgReq := subscribe(t, b, bus.ChannelRequests)
	results, cancelRes, wgRes := subscribe(t, b, bus.ChannelResults)
	defer func() {
		cancelReq()
		cancelRes()
		wgReq.Wait()
		wgRes.Wait()
	}()

	require.NoError(t, b.Publish(context.Background(), bus.ChannelResults, []byte("done")))

	select {
	case got := <-results:
		require.Equal(t, "done", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}

	select {
	case got := <-requests:
		t.Fatalf("unexpected message on request channel: %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerErrorDoesNotKillSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan []byte, 8)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Subscribe(ctx, bus.ChannelRequests, func(_ context.Context, payload []byte) error {
			received <- payload
			return errors.New("handler failed")
		})
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, bus.ChannelRequests, []byte("first")))
	require.NoError(t, b.Publish(ctx, bus.ChannelRequests, []byte("second")))

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("subscription died after handler error")
		}
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), bus.ChannelRequests, []byte("x"))
	require.ErrorIs(t, err, bus.ErrBusUnavailable)
}
