package store

import "time"

// EventType is the kind of interaction captured by the tracking snippet.
type EventType string

const (
	EventClick  EventType = "click"
	EventScroll EventType = "scroll"
)

// Valid reports whether t is one of the stored event types.
func (t EventType) Valid() bool {
	return t == EventClick || t == EventScroll
}

// Event is a single stored interaction. Events are never mutated after insert.
//
// ElementSelector, ClickX and ClickY are only set for clicks; ScrollDepth only
// for scrolls. The store does not enforce that split, validation does.
type Event struct {
	ID              int64
	SessionID       string
	PageURL         string
	Type            EventType
	ElementSelector *string
	ClickX          *int
	ClickY          *int
	ScrollDepth     *float64
	// Timestamp is the client clock in epoch milliseconds.
	Timestamp int64
	// IngestedAt is assigned by the store on insert.
	IngestedAt time.Time
}
