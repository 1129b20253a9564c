package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gosight/gosight/analyzer/internal/store"
)

// Error lists every problem found in a batch. A batch with any problem is
// rejected as a whole.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid batch: " + strings.Join(e.Problems, "; ")
}

// eventFields is the validated view of a store.Event, named as on the wire.
type eventFields struct {
	SessionID       string   `json:"sessionId" validate:"required,notblank"`
	PageURL         string   `json:"pageUrl" validate:"required,notblank"`
	Timestamp       int64    `json:"timestamp" validate:"gt=0"`
	Type            string   `json:"eventType" validate:"oneof=click scroll"`
	ElementSelector *string  `json:"elementSelector" validate:"omitempty,notblank"`
	ClickX          *int     `json:"clickX"`
	ClickY          *int     `json:"clickY"`
	ScrollDepth     *float64 `json:"scrollDepth" validate:"omitempty,min=0,max=100"`
}

const (
	tagClickOnly  = "click_only"
	tagScrollOnly = "scroll_only"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	v.RegisterStructValidation(eventTypeFields, eventFields{})
	return v
}

// eventTypeFields rejects optional fields that belong to the other event type.
func eventTypeFields(sl validator.StructLevel) {
	e := sl.Current().Interface().(eventFields)
	switch store.EventType(e.Type) {
	case store.EventClick:
		if e.ScrollDepth != nil {
			sl.ReportError(e.ScrollDepth, "scrollDepth", "ScrollDepth", tagScrollOnly, "")
		}
	case store.EventScroll:
		if e.ElementSelector != nil {
			sl.ReportError(e.ElementSelector, "elementSelector", "ElementSelector", tagClickOnly, "")
		}
		if e.ClickX != nil {
			sl.ReportError(e.ClickX, "clickX", "ClickX", tagClickOnly, "")
		}
		if e.ClickY != nil {
			sl.ReportError(e.ClickY, "clickY", "ClickY", tagClickOnly, "")
		}
	}
}

// ValidateBatch checks the shape contract the event store relies on: a
// non-empty batch of at most maxEvents events, each with a session and page,
// a known type and only the optional fields that type allows.
func ValidateBatch(events []store.Event, maxEvents int) error {
	var problems []string
	if len(events) == 0 {
		problems = append(problems, "batch is empty")
	}
	if maxEvents > 0 && len(events) > maxEvents {
		problems = append(problems, fmt.Sprintf("batch has %d events, limit is %d", len(events), maxEvents))
	}

	for i, e := range events {
		for _, p := range ValidateEvent(e) {
			problems = append(problems, fmt.Sprintf("event %d: %s", i, p))
		}
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

func ValidateEvent(e store.Event) []string {
	err := validate.Struct(eventFields{
		SessionID:       e.SessionID,
		PageURL:         e.PageURL,
		Timestamp:       e.Timestamp,
		Type:            string(e.Type),
		ElementSelector: e.ElementSelector,
		ClickX:          e.ClickX,
		ClickY:          e.ClickY,
		ScrollDepth:     e.ScrollDepth,
	})
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return problems
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "notblank":
		return fe.Field() + " must not be blank"
	case "gt":
		return fe.Field() + " must be positive epoch milliseconds"
	case "oneof":
		return fmt.Sprintf("unknown eventType %q", fe.Value())
	case "min", "max":
		return fe.Field() + " must be between 0 and 100"
	case tagClickOnly:
		return fe.Field() + " is not allowed on scroll events"
	case tagScrollOnly:
		return fe.Field() + " is not allowed on click events"
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
