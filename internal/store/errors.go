package store

import "fmt"

// WriteError is returned when a batch insert fails. None of the batch's events
// were persisted.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write (%s): %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError is returned when one of the named reads fails.
type ReadError struct {
	Query string
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("store read %s: %v", e.Query, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Names of the aggregate reads, used in ReadError and logs.
const (
	QueryTotalEvents          = "total_events"
	QueryTotalSessions        = "total_sessions"
	QueryTopClickedElements   = "top_clicked_elements"
	QueryAverageScrollDepth   = "average_scroll_depth"
	QueryRecentActivity       = "recent_activity"
	QueryPageSessions         = "page_sessions"
	QueryElementClickStats    = "element_click_stats"
	QueryPageScrollStats      = "page_scroll_stats"
	QueryRageClickGroups      = "rage_click_groups"
	QueryNonInteractiveClicks = "non_interactive_clicks"
	QueryPageExitStats        = "page_exit_stats"
)
