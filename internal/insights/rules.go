package insights

import (
	"math"
	"sync"

	"github.com/gosight/gosight/analyzer/internal/config"
)

// Rule IDs.
const (
	RuleLowClickRate   = "lowClickRate"
	RuleLowScrollDepth = "lowScrollDepth"
	RuleRageClicks     = "rageClicks"
	RuleDeadClicks     = "deadClicks"
	RuleHighExitRate   = "highExitRate"
)

// Threshold keys.
const (
	MinClickRate              = "minClickRate"
	MinPageViews              = "minPageViews"
	MaxScrollDepth            = "maxScrollDepth"
	MinSessions               = "minSessions"
	ClicksInWindow            = "clicksInWindow"
	TimeWindow                = "timeWindow"
	MinOccurrences            = "minOccurrences"
	MinClicksOnNonInteractive = "minClicksOnNonInteractive"
	MaxInteractionTime        = "maxInteractionTime"
)

// ruleOrder fixes detector order and the order issues are returned in.
var ruleOrder = []string{
	RuleLowClickRate,
	RuleLowScrollDepth,
	RuleRageClicks,
	RuleDeadClicks,
	RuleHighExitRate,
}

type Rule struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Severity    Severity           `json:"severity"`
	Thresholds  map[string]float64 `json:"thresholds"`
}

func (r Rule) clone() Rule {
	th := make(map[string]float64, len(r.Thresholds))
	for k, v := range r.Thresholds {
		th[k] = v
	}
	r.Thresholds = th
	return r
}

// RuleSet owns the rule configuration. Thresholds can be changed at runtime;
// the set of rules and threshold keys cannot.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewRuleSet(cfg config.RulesConfig) *RuleSet {
	rules := []Rule{
		{
			ID:          RuleLowClickRate,
			Name:        "Low Click Rate",
			Description: "Elements clicked by only a small share of the sessions that view their page",
			Severity:    SeverityMedium,
			Thresholds: map[string]float64{
				MinClickRate: cfg.LowClickRate.MinClickRate,
				MinPageViews: float64(cfg.LowClickRate.MinPageViews),
			},
		},
		{
			ID:          RuleLowScrollDepth,
			Name:        "Low Scroll Depth",
			Description: "Pages where visitors stop scrolling early on average",
			Severity:    SeverityLow,
			Thresholds: map[string]float64{
				MaxScrollDepth: cfg.LowScrollDepth.MaxScrollDepth,
				MinSessions:    float64(cfg.LowScrollDepth.MinSessions),
			},
		},
		{
			ID:          RuleRageClicks,
			Name:        "Rage Clicks",
			Description: "Elements clicked repeatedly in quick succession by several sessions",
			Severity:    SeverityHigh,
			Thresholds: map[string]float64{
				ClicksInWindow: float64(cfg.RageClicks.ClicksInWindow),
				TimeWindow:     float64(cfg.RageClicks.TimeWindowMs),
				MinOccurrences: float64(cfg.RageClicks.MinOccurrences),
			},
		},
		{
			ID:          RuleDeadClicks,
			Name:        "Dead Clicks",
			Description: "Clicks on elements that are not interactive",
			Severity:    SeverityMedium,
			Thresholds: map[string]float64{
				MinClicksOnNonInteractive: float64(cfg.DeadClicks.MinClicksOnNonInteractive),
			},
		},
		{
			ID:          RuleHighExitRate,
			Name:        "High Exit Rate",
			Description: "Pages where most sessions leave after a very short interaction",
			Severity:    SeverityHigh,
			Thresholds: map[string]float64{
				MaxInteractionTime: float64(cfg.HighExitRate.MaxInteractionTimeMs),
				MinSessions:        float64(cfg.HighExitRate.MinSessions),
			},
		},
	}

	s := &RuleSet{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	return s
}

// DefaultRuleSet returns the rules with their built-in thresholds.
func DefaultRuleSet() *RuleSet {
	return NewRuleSet(config.Default().Rules)
}

// Rules returns a copy of every rule in detector order.
func (s *RuleSet) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(ruleOrder))
	for _, id := range ruleOrder {
		out = append(out, s.rules[id].clone())
	}
	return out
}

func (s *RuleSet) Rule(id string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return Rule{}, false
	}
	return r.clone(), true
}

// UpdateThreshold sets one threshold. It returns false and changes nothing
// when the rule or key is unknown or the value is negative or not finite.
// Every threshold is a count, rate, percentage or duration.
func (s *RuleSet) UpdateThreshold(ruleID, key string, value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return false
	}
	if _, ok := r.Thresholds[key]; !ok {
		return false
	}
	r = r.clone()
	r.Thresholds[key] = value
	s.rules[ruleID] = r
	return true
}

func (s *RuleSet) snapshot() map[string]Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Rule, len(s.rules))
	for id, r := range s.rules {
		out[id] = r.clone()
	}
	return out
}
