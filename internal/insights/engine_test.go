package insights_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/analyzer/internal/insights"
	"github.com/gosight/gosight/analyzer/internal/store"
	"github.com/gosight/gosight/analyzer/internal/store/storetest"
)

func issuesFor(issues []insights.Issue, ruleID string) []insights.Issue {
	var out []insights.Issue
	for _, iss := range issues {
		if iss.RuleID == ruleID {
			out = append(out, iss)
		}
	}
	return out
}

func newEngine(t *testing.T) (*insights.Engine, *store.Store) {
	t.Helper()
	s := storetest.Open(t)
	return insights.NewEngine(s, insights.DefaultRuleSet()), s
}

// landingPage records sessions viewing /landing-page, the first clickers of
// which click the primary call to action.
func landingPage(sessions, clickers int) []store.Event {
	var events []store.Event
	for i := 0; i < sessions; i++ {
		session := fmt.Sprintf("landing-%02d", i)
		events = append(events, storetest.Scroll(session, "/landing-page", 60, int64(i*100)))
		if i < clickers {
			events = append(events, storetest.Click(session, "/landing-page", "button.cta-primary", int64(i*100+50)))
		}
	}
	return events
}

func TestLowClickRateFlagsRarelyClickedElement(t *testing.T) {
	engine, s := newEngine(t)
	storetest.Insert(t, s, landingPage(50, 2)...)

	issues, err := engine.AnalyzeAll(context.Background())
	require.NoError(t, err)

	flagged := issuesFor(issues, insights.RuleLowClickRate)
	require.Len(t, flagged, 1)
	iss := flagged[0]
	assert.Equal(t, "/landing-page", iss.PageURL)
	require.NotNil(t, iss.ElementSelector)
	assert.Equal(t, "button.cta-primary", *iss.ElementSelector)
	assert.InDelta(t, 0.04, iss.Metrics["clickRate"], 1e-9)
	assert.Equal(t, float64(50), iss.Metrics["pageSessions"])
	assert.Equal(t, insights.SeverityMedium, iss.Severity)
	assert.Equal(t, "Low Click Rate", iss.RuleName)
}

func TestLowClickRateRequiresMinPageViews(t *testing.T) {
	engine, s := newEngine(t)
	require.True(t, engine.UpdateThreshold(insights.RuleLowClickRate, insights.MinClickRate, 0.5))

	storetest.Insert(t, s, landingPage(9, 1)...)
	issues, err := engine.Analyze(context.Background(), insights.RuleLowClickRate)
	require.NoError(t, err)
	assert.Empty(t, issues)

	storetest.Insert(t, s, storetest.Scroll("landing-extra", "/landing-page", 10, 5000))
	issues, err = engine.Analyze(context.Background(), insights.RuleLowClickRate)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.InDelta(t, 0.1, issues[0].Metrics["clickRate"], 1e-9)
}

func TestLowScrollDepthFlagsShallowPage(t *testing.T) {
	engine, s := newEngine(t)

	var events []store.Event
	for i := 0; i < 20; i++ {
		events = append(events, storetest.Scroll(fmt.Sprintf("blog-%02d", i), "/blog-post", float64(i)*1.25, int64(i)))
	}
	// a deep page that stays unflagged
	for i := 0; i < 20; i++ {
		events = append(events, storetest.Scroll(fmt.Sprintf("docs-%02d", i), "/docs", 80, int64(i)))
	}
	storetest.Insert(t, s, events...)

	issues, err := engine.AnalyzeAll(context.Background())
	require.NoError(t, err)

	flagged := issuesFor(issues, insights.RuleLowScrollDepth)
	require.Len(t, flagged, 1)
	assert.Equal(t, "/blog-post", flagged[0].PageURL)
	assert.Nil(t, flagged[0].ElementSelector)
	assert.Less(t, flagged[0].Metrics["avgScrollDepth"], 30.0)
	assert.Equal(t, insights.SeverityLow, flagged[0].Severity)
}

func TestRageClicksCountsEverySession(t *testing.T) {
	engine, s := newEngine(t)

	var events []store.Event
	for sess := 0; sess < 3; sess++ {
		for i := int64(0); i < 5; i++ {
			events = append(events, storetest.Click(fmt.Sprintf("rage-%d", sess), "/checkout", "button.submit-order", 10_000+i*500))
		}
	}
	storetest.Insert(t, s, events...)

	issues, err := engine.AnalyzeAll(context.Background())
	require.NoError(t, err)

	flagged := issuesFor(issues, insights.RuleRageClicks)
	require.Len(t, flagged, 1)
	assert.Equal(t, "/checkout", flagged[0].PageURL)
	assert.Equal(t, float64(3), flagged[0].Metrics["affectedSessions"])
	assert.Equal(t, float64(9), flagged[0].Metrics["totalRageClicks"])
	assert.Equal(t, insights.SeverityHigh, flagged[0].Severity)
}

func TestRageClicksNeedMinOccurrences(t *testing.T) {
	engine, s := newEngine(t)

	var events []store.Event
	for i := int64(0); i < 5; i++ {
		events = append(events, storetest.Click("only", "/checkout", "button.submit-order", i*500))
	}
	storetest.Insert(t, s, events...)

	issues, err := engine.Analyze(context.Background(), insights.RuleRageClicks)
	require.NoError(t, err)
	assert.Empty(t, issues)

	require.True(t, engine.UpdateThreshold(insights.RuleRageClicks, insights.MinOccurrences, 1))
	issues, err = engine.Analyze(context.Background(), insights.RuleRageClicks)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestDeadClicksFlagsNonInteractiveElement(t *testing.T) {
	engine, s := newEngine(t)

	var events []store.Event
	for i := 0; i < 8; i++ {
		events = append(events, storetest.Click(fmt.Sprintf("shop-%d", i), "/product", "div.product-image", int64(i*1000)))
		events = append(events, storetest.Click(fmt.Sprintf("shop-%d", i), "/product", "button.add-to-cart", int64(i*1000+1)))
	}
	storetest.Insert(t, s, events...)

	issues, err := engine.AnalyzeAll(context.Background())
	require.NoError(t, err)

	flagged := issuesFor(issues, insights.RuleDeadClicks)
	require.Len(t, flagged, 1)
	require.NotNil(t, flagged[0].ElementSelector)
	assert.Equal(t, "div.product-image", *flagged[0].ElementSelector)
	assert.Equal(t, float64(8), flagged[0].Metrics["clicks"])
}

func TestHighExitRateFlagsQuickExits(t *testing.T) {
	engine, s := newEngine(t)

	var events []store.Event
	for i := 0; i < 15; i++ {
		session := fmt.Sprintf("pricing-%02d", i)
		events = append(events, storetest.Scroll(session, "/pricing", 20, 0))
		if i >= 12 {
			events = append(events, storetest.Scroll(session, "/pricing", 70, 20_000))
		}
	}
	storetest.Insert(t, s, events...)

	issues, err := engine.AnalyzeAll(context.Background())
	require.NoError(t, err)

	flagged := issuesFor(issues, insights.RuleHighExitRate)
	require.Len(t, flagged, 1)
	assert.Equal(t, "/pricing", flagged[0].PageURL)
	assert.InDelta(t, 0.8, flagged[0].Metrics["exitRate"], 1e-9)
	assert.Equal(t, float64(12), flagged[0].Metrics["quickExits"])
	assert.Equal(t, float64(15), flagged[0].Metrics["totalSessions"])
}

func TestHighExitRateAtHalfIsNotFlagged(t *testing.T) {
	engine, s := newEngine(t)

	var events []store.Event
	for i := 0; i < 10; i++ {
		session := fmt.Sprintf("half-%d", i)
		events = append(events, storetest.Scroll(session, "/about", 20, 0))
		if i%2 == 0 {
			events = append(events, storetest.Scroll(session, "/about", 70, 60_000))
		}
	}
	storetest.Insert(t, s, events...)

	issues, err := engine.Analyze(context.Background(), insights.RuleHighExitRate)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestUpdateThresholdChangesOutcome(t *testing.T) {
	engine, s := newEngine(t)
	storetest.Insert(t, s, landingPage(50, 4)...)
	ctx := context.Background()

	issues, err := engine.Analyze(ctx, insights.RuleLowClickRate)
	require.NoError(t, err)
	assert.Empty(t, issues)

	require.True(t, engine.UpdateThreshold(insights.RuleLowClickRate, insights.MinClickRate, 0.1))

	issues, err = engine.Analyze(ctx, insights.RuleLowClickRate)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.InDelta(t, 0.08, issues[0].Metrics["clickRate"], 1e-9)
}

func TestUpdateThresholdRejectsUnknownTargets(t *testing.T) {
	rules := insights.DefaultRuleSet()
	before := rules.Rules()

	assert.False(t, rules.UpdateThreshold("slowPage", insights.MinClickRate, 1))
	assert.False(t, rules.UpdateThreshold(insights.RuleLowClickRate, "maxClickRate", 1))
	assert.False(t, rules.UpdateThreshold(insights.RuleLowClickRate, insights.MaxScrollDepth, 1))

	assert.Equal(t, before, rules.Rules())
}

func TestUpdateThresholdRejectsNegativeValues(t *testing.T) {
	engine, s := newEngine(t)
	storetest.Insert(t, s,
		storetest.Click("s1", "/checkout", "button.pay", 1000),
		storetest.Click("s1", "/checkout", "button.pay", 1200),
	)
	before := engine.Rules()

	assert.False(t, engine.UpdateThreshold(insights.RuleRageClicks, insights.TimeWindow, -1))
	assert.False(t, engine.UpdateThreshold(insights.RuleRageClicks, insights.ClicksInWindow, -3))
	assert.False(t, engine.UpdateThreshold(insights.RuleHighExitRate, insights.MaxInteractionTime, -5000))
	assert.Equal(t, before, engine.Rules())

	require.True(t, engine.UpdateThreshold(insights.RuleRageClicks, insights.TimeWindow, 0))
	_, err := engine.Analyze(context.Background(), insights.RuleRageClicks)
	require.NoError(t, err)
}

func TestRulesAreReturnedInDetectorOrder(t *testing.T) {
	rules := insights.DefaultRuleSet().Rules()

	var ids []string
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{
		insights.RuleLowClickRate,
		insights.RuleLowScrollDepth,
		insights.RuleRageClicks,
		insights.RuleDeadClicks,
		insights.RuleHighExitRate,
	}, ids)
	assert.Equal(t, 0.05, rules[0].Thresholds[insights.MinClickRate])
	assert.Equal(t, float64(2000), rules[2].Thresholds[insights.TimeWindow])
}

func TestRulesReturnsCopies(t *testing.T) {
	rules := insights.DefaultRuleSet()
	got := rules.Rules()
	got[0].Thresholds[insights.MinClickRate] = 0.9

	r, ok := rules.Rule(insights.RuleLowClickRate)
	require.True(t, ok)
	assert.Equal(t, 0.05, r.Thresholds[insights.MinClickRate])
}

func TestIssuesCarryRankedSuggestions(t *testing.T) {
	engine, s := newEngine(t)
	at := time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)
	engine.WithClock(func() time.Time { return at })
	storetest.Insert(t, s, landingPage(50, 2)...)

	issues, err := engine.AnalyzeAll(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, issues)

	for _, iss := range issues {
		assert.NotEmpty(t, iss.ID)
		assert.NotEmpty(t, iss.Fingerprint)
		assert.Equal(t, at, iss.DetectedAt)
		require.Len(t, iss.Suggestions, 3)
		assert.Equal(t, insights.PriorityHigh, iss.Suggestions[0].Priority)
		assert.Equal(t, insights.PriorityMedium, iss.Suggestions[1].Priority)
		assert.Equal(t, insights.PriorityLow, iss.Suggestions[2].Priority)
		assert.Equal(t, iss.ID+"-s1", iss.Suggestions[0].ID)
	}
}

func TestFingerprintIsStableAcrossRuns(t *testing.T) {
	engine, s := newEngine(t)
	storetest.Insert(t, s, landingPage(50, 2)...)
	ctx := context.Background()

	first, err := engine.AnalyzeAll(ctx)
	require.NoError(t, err)
	second, err := engine.AnalyzeAll(ctx)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Fingerprint, second[i].Fingerprint)
		assert.NotEqual(t, first[i].ID, second[i].ID)
	}
}

func TestAnalyzeAllOnEmptyStore(t *testing.T) {
	engine, _ := newEngine(t)

	issues, err := engine.AnalyzeAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, issues)
	assert.Empty(t, issues)
}

func TestAnalyzeUnknownRule(t *testing.T) {
	engine, _ := newEngine(t)

	_, err := engine.Analyze(context.Background(), "slowPage")
	assert.True(t, errors.Is(err, insights.ErrUnknownRule))
}
