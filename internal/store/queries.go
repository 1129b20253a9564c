package store

import (
	"context"
	"database/sql"
	"time"
)

// ElementCount is a selector with its click count across all pages.
type ElementCount struct {
	Selector string
	Clicks   int64
}

// PageActivity counts events received for a page in a time window.
type PageActivity struct {
	PageURL     string
	EventsCount int64
}

// PageSessions is the number of distinct sessions with any event on a page.
type PageSessions struct {
	PageURL  string
	Sessions int64
}

// ElementClickStat describes clicks on one selector of one page together with
// the page's session count.
type ElementClickStat struct {
	PageURL       string
	Selector      string
	Clicks        int64
	ClickSessions int64
	PageSessions  int64
}

type PageScrollStat struct {
	PageURL  string
	Sessions int64
	AvgDepth float64
	MaxDepth float64
}

// PageElementClicks is a click count for one selector on one page.
type PageElementClicks struct {
	PageURL  string
	Selector string
	Clicks   int64
}

type PageExitStat struct {
	PageURL       string
	TotalSessions int64
	QuickExits    int64
}

func (s *Store) TotalEvents(ctx context.Context) (int64, error) {
	return s.count(ctx, QueryTotalEvents, `SELECT COUNT(*) FROM events`)
}

func (s *Store) TotalSessions(ctx context.Context) (int64, error) {
	return s.count(ctx, QueryTotalSessions, `SELECT COUNT(DISTINCT session_id) FROM events`)
}

func (s *Store) count(ctx context.Context, name, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, &ReadError{Query: name, Err: err}
	}
	return n, nil
}

// TopClickedElements returns the most clicked selectors, most clicks first.
func (s *Store) TopClickedElements(ctx context.Context, limit int) ([]ElementCount, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT element_selector, COUNT(*) AS clicks
		FROM events
		WHERE event_type = 'click' AND element_selector IS NOT NULL
		GROUP BY element_selector
		ORDER BY clicks DESC, element_selector ASC
		LIMIT ?`), limit)
	if err != nil {
		return nil, &ReadError{Query: QueryTopClickedElements, Err: err}
	}
	defer rows.Close()

	out := []ElementCount{}
	for rows.Next() {
		var e ElementCount
		if err := rows.Scan(&e.Selector, &e.Clicks); err != nil {
			return nil, &ReadError{Query: QueryTopClickedElements, Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Query: QueryTopClickedElements, Err: err}
	}
	return out, nil
}

// AverageScrollDepth returns nil when no scroll depth has been recorded.
func (s *Store) AverageScrollDepth(ctx context.Context) (*float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT CAST(AVG(scroll_depth) AS DOUBLE PRECISION)
		FROM events
		WHERE event_type = 'scroll' AND scroll_depth IS NOT NULL`).Scan(&avg)
	if err != nil {
		return nil, &ReadError{Query: QueryAverageScrollDepth, Err: err}
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// RecentActivity groups events received at or after since by page, busiest first.
func (s *Store) RecentActivity(ctx context.Context, since time.Time, limit int) ([]PageActivity, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT page_url, COUNT(*) AS events_count
		FROM events
		WHERE ingested_at >= ?
		GROUP BY page_url
		ORDER BY events_count DESC, page_url ASC
		LIMIT ?`), since.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, &ReadError{Query: QueryRecentActivity, Err: err}
	}
	defer rows.Close()

	out := []PageActivity{}
	for rows.Next() {
		var a PageActivity
		if err := rows.Scan(&a.PageURL, &a.EventsCount); err != nil {
			return nil, &ReadError{Query: QueryRecentActivity, Err: err}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Query: QueryRecentActivity, Err: err}
	}
	return out, nil
}

func (s *Store) PageSessions(ctx context.Context) ([]PageSessions, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_url, COUNT(DISTINCT session_id)
		FROM events
		GROUP BY page_url`)
	if err != nil {
		return nil, &ReadError{Query: QueryPageSessions, Err: err}
	}
	defer rows.Close()

	out := []PageSessions{}
	for rows.Next() {
		var p PageSessions
		if err := rows.Scan(&p.PageURL, &p.Sessions); err != nil {
			return nil, &ReadError{Query: QueryPageSessions, Err: err}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Query: QueryPageSessions, Err: err}
	}
	return out, nil
}

// ElementClickStats returns per (page, selector) click totals and clicking
// sessions, joined with the page's distinct session count.
func (s *Store) ElementClickStats(ctx context.Context) ([]ElementClickStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.page_url, c.element_selector, c.clicks, c.click_sessions, p.sessions
		FROM (
			SELECT page_url, element_selector,
				COUNT(*) AS clicks,
				COUNT(DISTINCT session_id) AS click_sessions
			FROM events
			WHERE event_type = 'click' AND element_selector IS NOT NULL
			GROUP BY page_url, element_selector
		) c
		JOIN (
			SELECT page_url, COUNT(DISTINCT session_id) AS sessions
			FROM events
			GROUP BY page_url
		) p ON p.page_url = c.page_url`)
	if err != nil {
		return nil, &ReadError{Query: QueryElementClickStats, Err: err}
	}
	defer rows.Close()

	out := []ElementClickStat{}
	for rows.Next() {
		var e ElementClickStat
		if err := rows.Scan(&e.PageURL, &e.Selector, &e.Clicks, &e.ClickSessions, &e.PageSessions); err != nil {
			return nil, &ReadError{Query: QueryElementClickStats, Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Query: QueryElementClickStats, Err: err}
	}
	return out, nil
}

func (s *Store) PageScrollStats(ctx context.Context) ([]PageScrollStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_url,
			COUNT(DISTINCT session_id),
			CAST(AVG(scroll_depth) AS DOUBLE PRECISION),
			CAST(MAX(scroll_depth) AS DOUBLE PRECISION)
		FROM events
		WHERE event_type = 'scroll' AND scroll_depth IS NOT NULL
		GROUP BY page_url`)
	if err != nil {
		return nil, &ReadError{Query: QueryPageScrollStats, Err: err}
	}
	defer rows.Close()

	out := []PageScrollStat{}
	for rows.Next() {
		var p PageScrollStat
		if err := rows.Scan(&p.PageURL, &p.Sessions, &p.AvgDepth, &p.MaxDepth); err != nil {
			return nil, &ReadError{Query: QueryPageScrollStats, Err: err}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Query: QueryPageScrollStats, Err: err}
	}
	return out, nil
}

// NonInteractiveClicks returns click counts per (page, selector) for selectors
// whose leading tag is one of tags. Matching is case-sensitive.
func (s *Store) NonInteractiveClicks(ctx context.Context, tags []string) ([]PageElementClicks, error) {
	allowed := make(map[string]bool, len(tags))
	for _, t := range tags {
		allowed[t] = true
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT page_url, element_selector, COUNT(*)
		FROM events
		WHERE event_type = 'click' AND element_selector IS NOT NULL
		GROUP BY page_url, element_selector`)
	if err != nil {
		return nil, &ReadError{Query: QueryNonInteractiveClicks, Err: err}
	}
	defer rows.Close()

	out := []PageElementClicks{}
	for rows.Next() {
		var c PageElementClicks
		if err := rows.Scan(&c.PageURL, &c.Selector, &c.Clicks); err != nil {
			return nil, &ReadError{Query: QueryNonInteractiveClicks, Err: err}
		}
		if allowed[LeadingTag(c.Selector)] {
			out = append(out, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Query: QueryNonInteractiveClicks, Err: err}
	}
	return out, nil
}

// PageExitStats measures each (page, session) as max(ts) - min(ts) over all of
// its events and counts, per page, the sessions at or under maxDurationMs.
func (s *Store) PageExitStats(ctx context.Context, maxDurationMs int64) ([]PageExitStat, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT d.page_url,
			COUNT(*) AS total_sessions,
			SUM(CASE WHEN d.duration <= ? THEN 1 ELSE 0 END) AS quick_exits
		FROM (
			SELECT page_url, session_id, MAX(occurred_at) - MIN(occurred_at) AS duration
			FROM events
			GROUP BY page_url, session_id
		) d
		GROUP BY d.page_url`), maxDurationMs)
	if err != nil {
		return nil, &ReadError{Query: QueryPageExitStats, Err: err}
	}
	defer rows.Close()

	out := []PageExitStat{}
	for rows.Next() {
		var p PageExitStat
		if err := rows.Scan(&p.PageURL, &p.TotalSessions, &p.QuickExits); err != nil {
			return nil, &ReadError{Query: QueryPageExitStats, Err: err}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Query: QueryPageExitStats, Err: err}
	}
	return out, nil
}
