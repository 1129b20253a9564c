package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosight/gosight/analyzer/internal/store"
)

// ErrUnknownRule is returned by Analyze for a rule ID outside the rule set.
var ErrUnknownRule = errors.New("unknown rule")

// fingerprintSpace namespaces issue fingerprints.
var fingerprintSpace = uuid.MustParse("6f1c51a4-4c1e-4d8e-9d3b-2a7f0c5e9b10")

// Reader is the read side of the event store the detectors need.
type Reader interface {
	ElementClickStats(ctx context.Context) ([]store.ElementClickStat, error)
	PageScrollStats(ctx context.Context) ([]store.PageScrollStat, error)
	RageClickGroups(ctx context.Context, windowMs int64, minClicks int) ([]store.RageClickGroup, error)
	NonInteractiveClicks(ctx context.Context, tags []string) ([]store.PageElementClicks, error)
	PageExitStats(ctx context.Context, maxDurationMs int64) ([]store.PageExitStat, error)
}

type detector interface {
	RuleID() string
	Detect(ctx context.Context, rule Rule) ([]Issue, error)
}

// AnalysisError reports the detector whose read failed.
type AnalysisError struct {
	RuleID string
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Engine runs the detectors against the event store.
type Engine struct {
	rules     *RuleSet
	detectors map[string]detector
	now       func() time.Time
}

func NewEngine(reader Reader, rules *RuleSet) *Engine {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	e := &Engine{
		rules:     rules,
		detectors: map[string]detector{},
		now:       time.Now,
	}
	for _, d := range []detector{
		NewLowClickRateDetector(reader),
		NewLowScrollDepthDetector(reader),
		NewRageClickDetector(reader),
		NewDeadClickDetector(reader),
		NewHighExitRateDetector(reader),
	} {
		e.detectors[d.RuleID()] = d
	}
	return e
}

// WithClock replaces the clock used to stamp DetectedAt.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) RuleSet() *RuleSet { return e.rules }

func (e *Engine) Rules() []Rule { return e.rules.Rules() }

func (e *Engine) UpdateThreshold(ruleID, key string, value float64) bool {
	ok := e.rules.UpdateThreshold(ruleID, key, value)
	if ok {
		log.Info().Str("rule", ruleID).Str("key", key).Float64("value", value).Msg("Rule threshold updated")
	}
	return ok
}

// AnalyzeAll runs every detector concurrently against one threshold
// snapshot. Issues come back grouped by rule in a fixed order. If any
// detector fails, no issues are returned.
func (e *Engine) AnalyzeAll(ctx context.Context) ([]Issue, error) {
	rules := e.rules.snapshot()
	results := make([][]Issue, len(ruleOrder))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ruleOrder {
		g.Go(func() error {
			issues, err := e.detectors[id].Detect(gctx, rules[id])
			if err != nil {
				return &AnalysisError{RuleID: id, Err: err}
			}
			results[i] = issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Rule analysis failed")
		return nil, err
	}

	detectedAt := e.now().UTC()
	out := []Issue{}
	for i, id := range ruleOrder {
		out = append(out, finish(results[i], rules[id], detectedAt)...)
	}
	log.Debug().Int("issues", len(out)).Msg("Rule analysis complete")
	return out, nil
}

// Analyze runs a single detector.
func (e *Engine) Analyze(ctx context.Context, ruleID string) ([]Issue, error) {
	d, ok := e.detectors[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}
	rule, _ := e.rules.Rule(ruleID)
	issues, err := d.Detect(ctx, rule)
	if err != nil {
		return nil, &AnalysisError{RuleID: ruleID, Err: err}
	}
	out := finish(issues, rule, e.now().UTC())
	if out == nil {
		out = []Issue{}
	}
	return out, nil
}

func finish(issues []Issue, rule Rule, detectedAt time.Time) []Issue {
	for i := range issues {
		iss := &issues[i]
		iss.ID = uuid.NewString()
		iss.Fingerprint = fingerprint(iss.RuleID, iss.PageURL, iss.ElementSelector)
		iss.RuleName = rule.Name
		iss.Severity = rule.Severity
		iss.Suggestions = suggestionsFor(rule.ID, iss.ID)
		iss.DetectedAt = detectedAt
	}
	return issues
}

// fingerprint identifies the (rule, page, selector) an issue is about and is
// stable across runs.
func fingerprint(ruleID, page string, selector *string) string {
	key := ruleID + "\x00" + page
	if selector != nil {
		key += "\x00" + *selector
	}
	return uuid.NewSHA1(fingerprintSpace, []byte(key)).String()
}

// locusLess orders issues by page, then selector. Issues without a selector
// sort first.
func locusLess(a, b Issue) bool {
	if a.PageURL != b.PageURL {
		return a.PageURL < b.PageURL
	}
	as, bs := "", ""
	if a.ElementSelector != nil {
		as = *a.ElementSelector
	}
	if b.ElementSelector != nil {
		bs = *b.ElementSelector
	}
	return as < bs
}
