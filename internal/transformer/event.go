package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/gosight/gosight/analyzer/internal/store"
)

// ErrNoEvents is returned for a body without an "events" array.
var ErrNoEvents = errors.New(`batch has no "events" array`)

// DecodeError reports an event the decoder could not read.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("event %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeBatch reads a wire batch of the form {"events": [...]} into store
// events. Unknown event types are kept as-is for the validator to reject.
func DecodeBatch(data []byte) ([]store.Event, error) {
	var body struct {
		Events []map[string]interface{} `json:"events"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if body.Events == nil {
		return nil, ErrNoEvents
	}

	events := make([]store.Event, 0, len(body.Events))
	for i, raw := range body.Events {
		e, err := TransformEvent(raw)
		if err != nil {
			return nil, &DecodeError{Index: i, Err: err}
		}
		events = append(events, e)
	}
	return events, nil
}

// EncodeBatch is the inverse of DecodeBatch. It is used to forward batches
// through Kafka.
func EncodeBatch(events []store.Event) ([]byte, error) {
	wire := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		m := map[string]interface{}{
			"sessionId": e.SessionID,
			"pageUrl":   e.PageURL,
			"eventType": string(e.Type),
			"timestamp": e.Timestamp,
		}
		if e.ElementSelector != nil {
			m["elementSelector"] = *e.ElementSelector
		}
		if e.ClickX != nil {
			m["clickX"] = *e.ClickX
		}
		if e.ClickY != nil {
			m["clickY"] = *e.ClickY
		}
		if e.ScrollDepth != nil {
			m["scrollDepth"] = *e.ScrollDepth
		}
		wire = append(wire, m)
	}
	return json.Marshal(map[string]interface{}{"events": wire})
}

// TransformEvent converts one decoded JSON object. Type names are accepted
// both as simple names and as proto enum names.
func TransformEvent(raw map[string]interface{}) (store.Event, error) {
	e := store.Event{
		SessionID:       getString(raw, "sessionId"),
		PageURL:         getString(raw, "pageUrl"),
		Type:            normalizeType(getString(raw, "eventType")),
		ElementSelector: getStringPtr(raw, "elementSelector"),
		ScrollDepth:     getFloat64Ptr(raw, "scrollDepth"),
	}

	var err error
	if e.ClickX, err = getIntPtr(raw, "clickX"); err != nil {
		return store.Event{}, err
	}
	if e.ClickY, err = getIntPtr(raw, "clickY"); err != nil {
		return store.Event{}, err
	}

	ts, ok := raw["timestamp"].(float64)
	if !ok {
		return store.Event{}, errors.New("timestamp must be a number")
	}
	if ts != math.Trunc(ts) {
		return store.Event{}, errors.New("timestamp must be whole milliseconds")
	}
	e.Timestamp = int64(ts)
	return e, nil
}

func normalizeType(t string) store.EventType {
	switch t {
	case "click", "EVENT_TYPE_CLICK":
		return store.EventClick
	case "scroll", "EVENT_TYPE_SCROLL":
		return store.EventScroll
	}
	return store.EventType(t)
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getStringPtr(m map[string]interface{}, key string) *string {
	if v, ok := m[key].(string); ok {
		return &v
	}
	return nil
}

func getFloat64Ptr(m map[string]interface{}, key string) *float64 {
	if v, ok := m[key].(float64); ok {
		return &v
	}
	return nil
}

func getIntPtr(m map[string]interface{}, key string) (*int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	n := int(f)
	return &n, nil
}
