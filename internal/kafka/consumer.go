// Package kafka connects the pipeline to Kafka: a consumer group reading
// scraped stations and a producer publishing station events.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Shopify/sarama"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/config"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
)

// Submitter accepts decoded station payloads. Submit may block to apply
// backpressure.
type Submitter interface {
	Submit(ctx context.Context, payload models.RawStationPayload) error
}

// Consumer represents a Kafka consumer
type Consumer struct {
	id        string
	config    config.KafkaConfig
	consumer  sarama.ConsumerGroup
	submitter Submitter
	logger    *slog.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(id string, cfg config.KafkaConfig, submitter Submitter, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		id:        id,
		config:    cfg,
		consumer:  client,
		submitter: submitter,
		logger:    logger.With("consumer", id),
	}, nil
}

// Consume starts consuming messages from Kafka until ctx is canceled
func (c *Consumer) Consume(ctx context.Context) error {
	go func() {
		for err := range c.consumer.Errors() {
			c.logger.Error("kafka_consumer_error", "error", err)
		}
	}()

	handler := &consumerGroupHandler{consumer: c}

	// Consume returns on every rebalance, so it runs in a loop
	for {
		if err := c.consumer.Consume(ctx, []string{c.config.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// handleMessage decodes one message and hands it over. It reports whether
// the message is done with and may be marked.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) bool {
	var payload models.RawStationPayload
	if err := json.Unmarshal(message.Value, &payload); err != nil {
		// a payload that does not decode never will, skip it
		c.logger.Error("station_payload_undecodable",
			"topic", message.Topic,
			"partition", message.Partition,
			"offset", message.Offset,
			"error", err,
		)
		return true
	}

	if err := c.submitter.Submit(ctx, payload); err != nil {
		c.logger.Warn("station_payload_not_submitted",
			"station_key", payload.Key,
			"offset", message.Offset,
			"error", err,
		)
		return false
	}
	return true
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim hands messages over under the session context, which ends on
// shutdown and on rebalance, so a blocked Submit never holds the claim.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.consumer.handleMessage(ctx, message) {
				// unmarked messages are redelivered after the next rebalance
				return nil
			}
			session.MarkMessage(message, "")
		case <-ctx.Done():
			return nil
		}
	}
}
