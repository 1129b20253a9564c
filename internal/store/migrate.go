package store

import (
	"context"
	"fmt"
	"sort"
)

type migration struct {
	Version  int
	Name     string
	SQLite   string
	Postgres string
}

const eventsSchemaSQLite = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    page_url TEXT NOT NULL,
    event_type TEXT NOT NULL CHECK (event_type IN ('click', 'scroll')),
    element_selector TEXT NULL,
    click_x INTEGER NULL,
    click_y INTEGER NULL,
    scroll_depth DOUBLE PRECISION NULL CHECK (scroll_depth IS NULL OR (scroll_depth >= 0 AND scroll_depth <= 100)),
    occurred_at BIGINT NOT NULL,
    ingested_at BIGINT NOT NULL
);
`

const eventsSchemaPostgres = `
CREATE TABLE IF NOT EXISTS events (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    page_url TEXT NOT NULL,
    event_type TEXT NOT NULL CHECK (event_type IN ('click', 'scroll')),
    element_selector TEXT NULL,
    click_x INTEGER NULL,
    click_y INTEGER NULL,
    scroll_depth DOUBLE PRECISION NULL CHECK (scroll_depth IS NULL OR (scroll_depth >= 0 AND scroll_depth <= 100)),
    occurred_at BIGINT NOT NULL,
    ingested_at BIGINT NOT NULL
);
`

const eventsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_events_page_session ON events(page_url, session_id);
CREATE INDEX IF NOT EXISTS idx_events_type_selector ON events(event_type, element_selector);
CREATE INDEX IF NOT EXISTS idx_events_session_selector_ts ON events(session_id, element_selector, occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_ingested ON events(ingested_at);
`

func migrations() []migration {
	return []migration{
		{Version: 1, Name: "events", SQLite: eventsSchemaSQLite, Postgres: eventsSchemaPostgres},
		{Version: 2, Name: "events_indexes", SQLite: eventsIndexesSQL, Postgres: eventsIndexesSQL},
	}
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at BIGINT NOT NULL
);
`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	all := migrations()
	sort.Slice(all, func(i, j int) bool { return all[i].Version < all[j].Version })

	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		up := m.SQLite
		if s.driver == DriverPostgres {
			up = m.Postgres
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations(version, name, applied_at) VALUES(?, ?, ?)`), m.Version, m.Name, s.now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d (%s): %w", m.Version, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	out := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		out[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return out, nil
}

// Migrate applies pending migrations. Open already does this; the CLI exposes
// it separately for deploy pipelines.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrate(ctx)
}
