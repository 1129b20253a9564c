package warehouse

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/store"
)

// Writer is implemented by *ClickHouse.
type Writer interface {
	InsertEvents(ctx context.Context, rows []EventRow) error
}

// Exporter buffers stored events and writes them to the warehouse when the
// buffer fills or on every flush interval. Failed flushes are logged and the
// rows are dropped.
type Exporter struct {
	writer   Writer
	batchCfg config.BatchConfig
	onError  func()
	now      func() time.Time

	buffer   []EventRow
	mu       sync.Mutex
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func NewExporter(w Writer, batchCfg config.BatchConfig) *Exporter {
	if batchCfg.Size <= 0 {
		batchCfg.Size = 1000
	}
	if batchCfg.FlushInterval <= 0 {
		batchCfg.FlushInterval = 5 * time.Second
	}
	e := &Exporter{
		writer:   w,
		batchCfg: batchCfg,
		now:      time.Now,
		buffer:   make([]EventRow, 0, batchCfg.Size),
		done:     make(chan struct{}),
	}

	e.ticker = time.NewTicker(batchCfg.FlushInterval)
	go e.flushLoop()

	return e
}

// OnError registers a callback run after each failed flush.
func (e *Exporter) OnError(fn func()) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
}

// Enqueue adds a committed batch to the buffer. Rows keep the ingest time the
// store stamped; events without one get the exporter's clock.
func (e *Exporter) Enqueue(events []store.Event) {
	fallback := e.now()

	e.mu.Lock()
	for _, ev := range events {
		ingestedAt := ev.IngestedAt
		if ingestedAt.IsZero() {
			ingestedAt = fallback
		}
		e.buffer = append(e.buffer, NewEventRow(ev, ingestedAt))
	}
	shouldFlush := len(e.buffer) >= e.batchCfg.Size
	e.mu.Unlock()

	if shouldFlush {
		e.Flush()
	}
}

func (e *Exporter) flushLoop() {
	for {
		select {
		case <-e.done:
			return
		case <-e.ticker.C:
			e.Flush()
		}
	}
}

// Flush writes everything buffered so far.
func (e *Exporter) Flush() {
	e.mu.Lock()
	if len(e.buffer) == 0 {
		e.mu.Unlock()
		return
	}
	rows := e.buffer
	e.buffer = make([]EventRow, 0, e.batchCfg.Size)
	onError := e.onError
	e.mu.Unlock()

	start := time.Now()
	if err := e.writer.InsertEvents(context.Background(), rows); err != nil {
		log.Error().Err(err).Int("count", len(rows)).Msg("Failed to export events to warehouse")
		if onError != nil {
			onError()
		}
		return
	}
	log.Info().
		Int("count", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Exported events to warehouse")
}

// Stop ends the flush loop after a final flush.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		e.ticker.Stop()
		close(e.done)
		e.Flush()
	})
}
