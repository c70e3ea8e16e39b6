// Package kafka provides a Kafka backed implementation of [bus.Bus] for
// multi-process deployments. Channels map to topics; each subscriber joins
// a consumer group per channel so that horizontally scaled workers share
// the request stream.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/lingorelay/lingorelay/internal/bus"
	"github.com/lingorelay/lingorelay/pkg/logger"
)

// Config holds the broker connection settings.
type Config struct {
	Brokers []string

	// GroupID is the consumer group shared by subscribers of one channel.
	GroupID string

	Logger logger.Logger
}

type Bus struct {
	producer sarama.SyncProducer
	brokers  []string
	groupID  string
	config   *sarama.Config
	logger   logger.Logger
}

var _ bus.Bus = (*Bus)(nil)

func New(cfg *Config) (*Bus, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}

	return &Bus{
		producer: producer,
		brokers:  cfg.Brokers,
		groupID:  cfg.GroupID,
		config:   saramaCfg,
		logger:   log,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: channel,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	b.logger.Debug("published message",
		zap.String("channel", channel),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string, handler bus.Handler) error {
	group, err := sarama.NewConsumerGroup(b.brokers, b.groupID, b.config)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer group.Close()

	h := &groupHandler{ctx: ctx, channel: channel, handler: handler, logger: b.logger}

	for {
		// Consume returns when a rebalance happens; loop to re-join until
		// the context is canceled.
		if err := group.Consume(ctx, []string{channel}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", channel, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *Bus) Close() error {
	return b.producer.Close()
}

type groupHandler struct {
	ctx     context.Context
	channel string
	handler bus.Handler
	logger  logger.Logger
}

var _ sarama.ConsumerGroupHandler = (*groupHandler)(nil)

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.dispatch(msg.Value)
			session.MarkMessage(msg, "")
		}
	}
}

// dispatch shields the claim loop from handler errors and panics.
func (h *groupHandler) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("message handler panicked",
				zap.String("channel", h.channel),
				zap.Any("panic", r),
			)
		}
	}()

	if err := h.handler(h.ctx, payload); err != nil {
		h.logger.Error("message handler failed",
			zap.String("channel", h.channel),
			zap.Error(err),
		)
	}
}
