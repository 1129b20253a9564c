package insights

import (
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Issue is a detected UX problem. Issues are rebuilt on every analysis and
// their IDs are not stable across runs; Fingerprint is.
type Issue struct {
	ID              string             `json:"id"`
	Fingerprint     string             `json:"fingerprint"`
	RuleID          string             `json:"ruleId"`
	RuleName        string             `json:"ruleName"`
	Severity        Severity           `json:"severity"`
	ElementSelector *string            `json:"elementSelector"`
	PageURL         string             `json:"pageUrl"`
	Description     string             `json:"description"`
	Metrics         map[string]float64 `json:"metrics"`
	Suggestions     []Suggestion       `json:"suggestions"`
	DetectedAt      time.Time          `json:"detectedAt"`
}

// Suggestion is a remediation hint. Priority follows catalog position.
type Suggestion struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Priority Priority `json:"priority"`
}
