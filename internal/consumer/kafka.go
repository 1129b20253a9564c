package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/store"
)

const (
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 10 * time.Second
)

// MessageProcessor handles one batch message.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, data []byte) error
	Flush()
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds event batches from the events topic into the store.
type KafkaConsumer struct {
	reader    messageReader
	topic     string
	group     string
	processor MessageProcessor
	// retryBackoff is the first wait before retrying a failed store write.
	retryBackoff time.Duration
}

func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) (*KafkaConsumer, error) {
	topic := cfg.Topics["events"]
	if topic == "" {
		topic = "analyzer.events.batches"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.FirstOffset,
	})

	return &KafkaConsumer{
		reader:       reader,
		topic:        topic,
		group:        cfg.ConsumerGroup,
		processor:    processor,
		retryBackoff: defaultRetryBackoff,
	}, nil
}

// Start consumes until ctx is cancelled. A batch that cannot be decoded or
// validated is logged and committed. A batch the store failed to write is
// retried with backoff and only committed once stored, so it is fetched again
// after a restart.
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Kafka consumer stopped")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Failed to fetch message")
				continue
			}

			if !c.process(ctx, msg) {
				return
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("Failed to commit message")
			}
		}
	}
}

// process reports whether msg is finished with and may be committed. It is
// false only when ctx ends while a store write is still being retried.
func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message) bool {
	backoff := c.retryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	for {
		err := c.processor.ProcessMessage(ctx, msg.Value)
		if err == nil {
			return true
		}

		var writeErr *store.WriteError
		if !errors.As(err, &writeErr) {
			log.Error().
				Err(err).
				Int64("offset", msg.Offset).
				Int("partition", msg.Partition).
				Msg("Dropping event batch that cannot be processed")
			return true
		}

		log.Warn().
			Err(err).
			Int64("offset", msg.Offset).
			Int("partition", msg.Partition).
			Dur("retry_in", backoff).
			Msg("Failed to store event batch, retrying")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	c.processor.Flush()
	return c.reader.Close()
}
