package repository

import (
	"context"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
)

// KafkaProducer is what KafkaPublisher needs from pkg/kafka.Producer.
type KafkaProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher exports price updates to a topic, keyed by symbol so each
// symbol stays ordered within its partition.
type KafkaPublisher struct {
	producer KafkaProducer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer KafkaProducer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, u models.PriceUpdate) error {
	return p.producer.Publish(ctx, p.topic, []byte(u.Symbol), u)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
