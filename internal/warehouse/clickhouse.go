// Package warehouse mirrors the raw event log into ClickHouse for ad-hoc
// analytics. It is best effort: the SQL event store stays authoritative.
package warehouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/store"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS ux_events (
	event_id UUID,
	session_id String,
	page_url String,
	event_type LowCardinality(String),
	element_selector Nullable(String),
	click_x Nullable(Int32),
	click_y Nullable(Int32),
	scroll_depth Nullable(Float64),
	occurred_at DateTime64(3),
	ingested_at DateTime64(3)
) ENGINE = MergeTree
ORDER BY (page_url, session_id, occurred_at)`

// EventRow is a row in the ux_events table.
type EventRow struct {
	EventID         uuid.UUID
	SessionID       string
	PageURL         string
	EventType       string
	ElementSelector *string
	ClickX          *int32
	ClickY          *int32
	ScrollDepth     *float64
	OccurredAt      time.Time
	IngestedAt      time.Time
}

// NewEventRow converts a stored event. Events carry no ID until read back,
// so the row gets a fresh UUID.
func NewEventRow(e store.Event, ingestedAt time.Time) EventRow {
	return EventRow{
		EventID:         uuid.New(),
		SessionID:       e.SessionID,
		PageURL:         e.PageURL,
		EventType:       string(e.Type),
		ElementSelector: e.ElementSelector,
		ClickX:          toInt32(e.ClickX),
		ClickY:          toInt32(e.ClickY),
		ScrollDepth:     e.ScrollDepth,
		OccurredAt:      time.UnixMilli(e.Timestamp).UTC(),
		IngestedAt:      ingestedAt.UTC(),
	}
}

func toInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}

type ClickHouse struct {
	conn driver.Conn
}

func NewClickHouse(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	if err := conn.Exec(ctx, createEventsTable); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) InsertEvents(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO ux_events (
			event_id, session_id, page_url, event_type, element_selector,
			click_x, click_y, scroll_depth, occurred_at, ingested_at
		)
	`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		err := batch.Append(
			r.EventID, r.SessionID, r.PageURL, r.EventType, r.ElementSelector,
			r.ClickX, r.ClickY, r.ScrollDepth, r.OccurredAt, r.IngestedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
