package producer

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/store"
	"github.com/gosight/gosight/analyzer/internal/transformer"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer forwards accepted batches to the events topic.
type KafkaProducer struct {
	writers map[string]messageWriter
	topics  map[string]string
}

func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	writers := make(map[string]messageWriter)

	for name, topic := range cfg.Topics {
		writers[name] = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              100,
			BatchTimeout:           time.Millisecond * 100,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}

	return &KafkaProducer{
		writers: writers,
		topics:  cfg.Topics,
	}, nil
}

// ProduceBatch writes the whole batch as one message keyed by the first
// event's session, so a session's batches stay on one partition. The write
// is synchronous: the batch is durable in Kafka when it returns.
func (p *KafkaProducer) ProduceBatch(ctx context.Context, events []store.Event) error {
	w, ok := p.writers["events"]
	if !ok {
		return errors.New("kafka: no events topic configured")
	}
	data, err := transformer.EncodeBatch(events)
	if err != nil {
		return err
	}

	var key []byte
	if len(events) > 0 {
		key = []byte(events[0].SessionID)
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: data,
	})
}

func (p *KafkaProducer) Close() error {
	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
