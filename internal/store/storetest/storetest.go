// Package storetest provides a throwaway SQLite event store and event builders
// for tests.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/analyzer/internal/store"
)

// Clock is a settable time source for store.Options.Now.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Open creates a WAL-mode SQLite store in t.TempDir and closes it on cleanup.
func Open(t testing.TB) *store.Store {
	t.Helper()
	s, _ := OpenWithClock(t)
	return s
}

func OpenWithClock(t testing.TB) (*store.Store, *Clock) {
	t.Helper()
	clock := NewClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	opts := store.DefaultOptions(filepath.Join(t.TempDir(), "events.sqlite"))
	opts.Now = clock.Now

	s, err := store.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

// Insert stores events in one batch and fails the test on error.
func Insert(t testing.TB, s *store.Store, events ...store.Event) {
	t.Helper()
	require.NoError(t, s.InsertBatch(context.Background(), events))
}

func Click(session, page, selector string, ts int64) store.Event {
	x, y := 10, 20
	return store.Event{
		SessionID:       session,
		PageURL:         page,
		Type:            store.EventClick,
		ElementSelector: &selector,
		ClickX:          &x,
		ClickY:          &y,
		Timestamp:       ts,
	}
}

func Scroll(session, page string, depth float64, ts int64) store.Event {
	return store.Event{
		SessionID:   session,
		PageURL:     page,
		Type:        store.EventScroll,
		ScrollDepth: &depth,
		Timestamp:   ts,
	}
}
