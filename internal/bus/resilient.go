package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lingorelay/lingorelay/pkg/breaker"
	"github.com/lingorelay/lingorelay/pkg/logger"
)

// ResilientBus decorates a Bus with a connectivity circuit breaker and a
// reconnect-with-backoff subscription loop, shielding callers from
// transport outages: publish failures surface as ErrBusUnavailable instead
// of crashing the process, and a dropped subscription is re-established
// rather than left dead.
type ResilientBus struct {
	inner   Bus
	breaker *breaker.Breaker
	logger  logger.Logger

	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

var _ Bus = (*ResilientBus)(nil)

type ResilientOpt func(*ResilientBus)

func WithBreaker(b *breaker.Breaker) ResilientOpt {
	return func(r *ResilientBus) {
		r.breaker = b
	}
}

func WithLogger(l logger.Logger) ResilientOpt {
	return func(r *ResilientBus) {
		r.logger = l
	}
}

// WithReconnectBackoff tunes the subscription reconnect policy.
func WithReconnectBackoff(initial, max time.Duration) ResilientOpt {
	return func(r *ResilientBus) {
		r.reconnectInitial = initial
		r.reconnectMax = max
	}
}

func NewResilientBus(inner Bus, opts ...ResilientOpt) *ResilientBus {
	r := &ResilientBus{
		inner:            inner,
		logger:           logger.NewNoopLogger(),
		reconnectInitial: time.Second,
		reconnectMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = breaker.New("message_bus")
	}
	return r
}

// Publish passes through the connectivity breaker. Transport errors and
// fast-fails both surface wrapped in ErrBusUnavailable.
func (r *ResilientBus) Publish(ctx context.Context, channel string, payload []byte) error {
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		return r.inner.Publish(ctx, channel, payload)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}
	return nil
}

// Subscribe keeps the subscription alive across transport failures. Each
// failed attempt is retried with exponential backoff; the loop ends only
// when ctx is canceled.
func (r *ResilientBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.reconnectInitial
	policy.MaxInterval = r.reconnectMax
	policy.MaxElapsedTime = 0

	for {
		start := time.Now()
		err := r.inner.Subscribe(ctx, channel, handler)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}
		if time.Since(start) > time.Minute {
			// The subscription was healthy for a while, start the backoff over.
			policy.Reset()
		}

		wait := policy.NextBackOff()
		r.logger.Warn("subscription dropped, reconnecting",
			zap.String("channel", channel),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *ResilientBus) Close() error {
	return r.inner.Close()
}
