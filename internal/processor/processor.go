package processor

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/notify"
	"github.com/gosight/gosight/analyzer/internal/store"
	"github.com/gosight/gosight/analyzer/internal/telemetry"
	"github.com/gosight/gosight/analyzer/internal/transformer"
	"github.com/gosight/gosight/analyzer/internal/validation"
)

// BatchWriter is the write side of the event store.
type BatchWriter interface {
	InsertBatch(ctx context.Context, events []store.Event) error
}

// Publisher announces that new data is available.
type Publisher interface {
	Publish(msg notify.Message)
}

// Exporter receives committed batches for the warehouse mirror.
type Exporter interface {
	Enqueue(events []store.Event)
	Flush()
}

// EventProcessor is the single ingestion path: store the batch, then
// announce it.
type EventProcessor struct {
	writer    BatchWriter
	publisher Publisher
	exporter  Exporter
	metrics   *telemetry.Metrics
	maxEvents int
}

type Options struct {
	// Exporter is optional.
	Exporter  Exporter
	Metrics   *telemetry.Metrics
	MaxEvents int
}

func NewEventProcessor(w BatchWriter, p Publisher, opts Options) *EventProcessor {
	return &EventProcessor{
		writer:    w,
		publisher: p,
		exporter:  opts.Exporter,
		metrics:   opts.Metrics,
		maxEvents: opts.MaxEvents,
	}
}

// Process stores a validated batch atomically. Only after a successful
// commit does it publish exactly one metrics_update notification.
func (p *EventProcessor) Process(ctx context.Context, events []store.Event) error {
	if err := p.writer.InsertBatch(ctx, events); err != nil {
		p.metrics.BatchFailed()
		log.Error().Err(err).Int("count", len(events)).Msg("Failed to store event batch")
		return err
	}

	p.publisher.Publish(notify.Message{Type: notify.TypeMetricsUpdate})

	if p.exporter != nil {
		p.exporter.Enqueue(events)
	}

	byType := map[string]int{}
	for _, e := range events {
		byType[string(e.Type)]++
	}
	p.metrics.BatchStored(byType)

	log.Debug().Int("count", len(events)).Msg("Stored event batch")
	return nil
}

// ProcessMessage decodes, validates and stores one wire batch from Kafka.
func (p *EventProcessor) ProcessMessage(ctx context.Context, data []byte) error {
	events, err := transformer.DecodeBatch(data)
	if err != nil {
		return err
	}
	if err := validation.ValidateBatch(events, p.maxEvents); err != nil {
		return err
	}
	return p.Process(ctx, events)
}

// Flush pushes any buffered warehouse rows.
func (p *EventProcessor) Flush() {
	if p.exporter != nil {
		p.exporter.Flush()
	}
}
