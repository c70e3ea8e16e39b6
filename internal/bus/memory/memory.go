// Package memory provides an in-process implementation of [bus.Bus] used
// for tests and single-process deployments. Semantics deliberately match a
// broker's pub/sub mode: no subscribers means the message is dropped, not
// queued.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lingorelay/lingorelay/internal/bus"
	"github.com/lingorelay/lingorelay/pkg/logger"
)

const subscriberBuffer = 64

type subscriber struct {
	ch chan []byte
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	closed bool
	logger logger.Logger
}

var _ bus.Bus = (*Bus)(nil)

type Opt func(*Bus)

func WithLogger(l logger.Logger) Opt {
	return func(b *Bus) {
		b.logger = l
	}
}

func New(opts ...Opt) *Bus {
	b := &Bus{
		subs:   map[string][]*subscriber{},
		logger: logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return bus.ErrBusUnavailable
	}

	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
			// Slow consumer: best-effort delivery allows dropping.
			b.logger.Warn("dropping message for slow subscriber", zap.String("channel", channel))
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string, handler bus.Handler) error {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bus.ErrBusUnavailable
	}
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	defer b.unsubscribe(channel, sub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-sub.ch:
			if !ok {
				return bus.ErrBusUnavailable
			}
			b.dispatch(ctx, channel, handler, payload)
		}
	}
}

// dispatch shields the subscription loop from handler errors and panics.
func (b *Bus) dispatch(ctx context.Context, channel string, handler bus.Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				zap.String("channel", channel),
				zap.Any("panic", r),
			)
		}
	}()

	if err := handler(ctx, payload); err != nil {
		b.logger.Error("message handler failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}

func (b *Bus) unsubscribe(channel string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[channel]
	for i, s := range subs {
		if s == sub {
			b.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = map[string][]*subscriber{}
	return nil
}
