package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosight/gosight/analyzer/internal/store"
)

// Reader is the part of the event store a snapshot reads from.
type Reader interface {
	TotalEvents(ctx context.Context) (int64, error)
	TotalSessions(ctx context.Context) (int64, error)
	TopClickedElements(ctx context.Context, limit int) ([]store.ElementCount, error)
	AverageScrollDepth(ctx context.Context) (*float64, error)
	RecentActivity(ctx context.Context, since time.Time, limit int) ([]store.PageActivity, error)
}

type Options struct {
	TopElements  int
	RecentWindow time.Duration
	RecentLimit  int
	Now          func() time.Time
}

func DefaultOptions() Options {
	return Options{
		TopElements:  10,
		RecentWindow: time.Hour,
		RecentLimit:  5,
		Now:          time.Now,
	}
}

// Snapshot is a point-in-time summary of the event log. AverageScrollDepth
// is nil until a scroll depth has been recorded.
type Snapshot struct {
	TotalEvents        int64
	TotalSessions      int64
	TopClickedElements []store.ElementCount
	AverageScrollDepth *float64
	RecentActivity     []store.PageActivity
	GeneratedAt        time.Time
}

// SnapshotError wraps the first read that failed during a snapshot.
type SnapshotError struct {
	Err error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("metrics snapshot: %v", e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

type Aggregator struct {
	reader Reader
	opts   Options
}

func NewAggregator(reader Reader, opts Options) *Aggregator {
	def := DefaultOptions()
	if opts.TopElements <= 0 {
		opts.TopElements = def.TopElements
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = def.RecentWindow
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = def.RecentLimit
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Aggregator{reader: reader, opts: opts}
}

// Snapshot issues the four summary reads concurrently. If any of them fails
// the whole snapshot is discarded.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := a.opts.Now()
	snap := &Snapshot{GeneratedAt: now.UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.reader.TotalEvents(gctx)
		if err != nil {
			return err
		}
		snap.TotalEvents = n
		return nil
	})
	g.Go(func() error {
		n, err := a.reader.TotalSessions(gctx)
		if err != nil {
			return err
		}
		snap.TotalSessions = n
		return nil
	})
	g.Go(func() error {
		top, err := a.reader.TopClickedElements(gctx, a.opts.TopElements)
		if err != nil {
			return err
		}
		snap.TopClickedElements = top
		return nil
	})
	g.Go(func() error {
		avg, err := a.reader.AverageScrollDepth(gctx)
		if err != nil {
			return err
		}
		snap.AverageScrollDepth = avg
		return nil
	})
	g.Go(func() error {
		recent, err := a.reader.RecentActivity(gctx, now.Add(-a.opts.RecentWindow), a.opts.RecentLimit)
		if err != nil {
			return err
		}
		snap.RecentActivity = recent
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Metrics snapshot failed")
		return nil, &SnapshotError{Err: err}
	}
	return snap, nil
}
