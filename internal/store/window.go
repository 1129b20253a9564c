package store

import (
	"context"
	"strings"
)

// RageClickGroup is one (page, session, selector) click series that contains
// at least one rage click.
type RageClickGroup struct {
	PageURL    string
	SessionID  string
	Selector   string
	Clicks     int64
	RageClicks int64
}

// RageClickGroups scans every (page, session, selector) click series in time
// order. A click is a rage click when at least minClicks clicks of the same
// series, itself included, fall in [ts-windowMs, ts]. Only series with one or
// more rage clicks are returned.
func (s *Store) RageClickGroups(ctx context.Context, windowMs int64, minClicks int) ([]RageClickGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_url, session_id, element_selector, occurred_at
		FROM events
		WHERE event_type = 'click' AND element_selector IS NOT NULL
		ORDER BY page_url, session_id, element_selector, occurred_at, id`)
	if err != nil {
		return nil, &ReadError{Query: QueryRageClickGroups, Err: err}
	}
	defer rows.Close()

	out := []RageClickGroup{}
	var (
		cur    RageClickGroup
		series []int64
		open   bool
	)
	flush := func() {
		if !open {
			return
		}
		cur.Clicks = int64(len(series))
		cur.RageClicks = countRageClicks(series, windowMs, minClicks)
		if cur.RageClicks > 0 {
			out = append(out, cur)
		}
	}

	for rows.Next() {
		var page, session, selector string
		var ts int64
		if err := rows.Scan(&page, &session, &selector, &ts); err != nil {
			return nil, &ReadError{Query: QueryRageClickGroups, Err: err}
		}
		if !open || page != cur.PageURL || session != cur.SessionID || selector != cur.Selector {
			flush()
			cur = RageClickGroup{PageURL: page, SessionID: session, Selector: selector}
			series = series[:0]
			open = true
		}
		series = append(series, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Query: QueryRageClickGroups, Err: err}
	}
	flush()
	return out, nil
}

// countRageClicks counts timestamps with at least minClicks timestamps in the
// trailing inclusive window [t-window, t]. ts must be sorted ascending. Equal
// timestamps are inside each other's windows.
func countRageClicks(ts []int64, window int64, minClicks int) int64 {
	var n int64
	left := 0
	for i := 0; i < len(ts); {
		right := i
		for right+1 < len(ts) && ts[right+1] == ts[i] {
			right++
		}
		for left < i && ts[left] < ts[i]-window {
			left++
		}
		if right-left+1 >= minClicks {
			n += int64(right - i + 1)
		}
		i = right + 1
	}
	return n
}

// LeadingTag returns the tag name a CSS selector starts with, e.g. "div" for
// "div.product-image" or "h2#title". Class, id, attribute and combinator
// suffixes are dropped.
func LeadingTag(selector string) string {
	selector = strings.TrimSpace(selector)
	if i := strings.IndexAny(selector, ".#[: >~+"); i >= 0 {
		return selector[:i]
	}
	return selector
}
