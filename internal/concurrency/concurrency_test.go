package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPoolReturnsFirstError(t *testing.T) {
	pool := NewPool(context.Background(), 2)

	errBoom := errors.New("boom")
	pool.Go(func(ctx context.Context) error {
		return errBoom
	})
	pool.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.ErrorIs(t, pool.Wait(), errBoom)
}

func TestNewPoolRunsAllTasks(t *testing.T) {
	pool := NewPool(context.Background(), 4)

	var completed atomic.Int32
	for i := 0; i < 10; i++ {
		pool.Go(func(ctx context.Context) error {
			completed.Add(1)
			return nil
		})
	}

	require.NoError(t, pool.Wait())
	require.Equal(t, int32(10), completed.Load())
}
