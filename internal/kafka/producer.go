package kafka

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/config"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/events"
)

// Producer publishes station events to Kafka topics.
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer connects a synchronous producer to the configured brokers.
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Timeout = cfg.ProducerTimeout
	saramaConfig.Producer.Retry.Max = cfg.ProducerRetries
	// Same key, same partition: events of one station stay ordered
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(p), nil
}

func newProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

var _ events.Transport = (*Producer)(nil)

// Publish sends payload to the topic named by channel and waits for the
// broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, channel, key string, payload []byte) (events.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return events.Receipt{}, err
	}

	msg := &sarama.ProducerMessage{
		Topic: channel,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return events.Receipt{}, err
	}
	return events.Receipt{Channel: channel, Partition: partition, Offset: offset}, nil
}

// Close flushes and closes the underlying producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}
