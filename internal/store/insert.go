package store

import (
	"context"
	"fmt"
	"time"
)

const insertEventSQL = `
INSERT INTO events (
	session_id, page_url, event_type, element_selector,
	click_x, click_y, scroll_depth, occurred_at, ingested_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertBatch persists events as one transaction. Either every event becomes
// visible to later reads or none does. Batches from concurrent callers are
// committed one after another, never interleaved. After a commit each event's
// IngestedAt holds the stored ingest time.
func (s *Store) InsertBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stamp := s.now().UTC().Truncate(time.Millisecond)
	ingestedAt := stamp.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Op: "begin", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(insertEventSQL))
	if err != nil {
		_ = tx.Rollback()
		return &WriteError{Op: "prepare", Err: err}
	}
	defer stmt.Close()

	for i, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.SessionID, e.PageURL, string(e.Type), e.ElementSelector,
			e.ClickX, e.ClickY, e.ScrollDepth, e.Timestamp, ingestedAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return &WriteError{Op: fmt.Sprintf("insert event %d", i), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return &WriteError{Op: "commit", Err: err}
	}
	for i := range events {
		events[i].IngestedAt = stamp
	}
	return nil
}
