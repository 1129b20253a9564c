package insights_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/gosight/gosight/analyzer/internal/insights"
	"github.com/gosight/gosight/analyzer/internal/store"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) ElementClickStats(ctx context.Context) ([]store.ElementClickStat, error) {
	args := m.Called(ctx)
	rows, _ := args.Get(0).([]store.ElementClickStat)
	return rows, args.Error(1)
}

func (m *mockReader) PageScrollStats(ctx context.Context) ([]store.PageScrollStat, error) {
	args := m.Called(ctx)
	rows, _ := args.Get(0).([]store.PageScrollStat)
	return rows, args.Error(1)
}

func (m *mockReader) RageClickGroups(ctx context.Context, windowMs int64, minClicks int) ([]store.RageClickGroup, error) {
	args := m.Called(ctx, windowMs, minClicks)
	rows, _ := args.Get(0).([]store.RageClickGroup)
	return rows, args.Error(1)
}

func (m *mockReader) NonInteractiveClicks(ctx context.Context, tags []string) ([]store.PageElementClicks, error) {
	args := m.Called(ctx, tags)
	rows, _ := args.Get(0).([]store.PageElementClicks)
	return rows, args.Error(1)
}

func (m *mockReader) PageExitStats(ctx context.Context, maxDurationMs int64) ([]store.PageExitStat, error) {
	args := m.Called(ctx, maxDurationMs)
	rows, _ := args.Get(0).([]store.PageExitStat)
	return rows, args.Error(1)
}

func TestAnalyzeAllDiscardsResultsWhenADetectorFails(t *testing.T) {
	readErr := &store.ReadError{Query: store.QueryPageExitStats, Err: errors.New("disk I/O error")}

	r := &mockReader{}
	r.On("ElementClickStats", mock.Anything).Return([]store.ElementClickStat{
		{PageURL: "/p", Selector: "a.cta", Clicks: 1, ClickSessions: 1, PageSessions: 100},
	}, nil).Maybe()
	r.On("PageScrollStats", mock.Anything).Return([]store.PageScrollStat{}, nil).Maybe()
	r.On("RageClickGroups", mock.Anything, int64(2000), 3).Return([]store.RageClickGroup{}, nil).Maybe()
	r.On("NonInteractiveClicks", mock.Anything, mock.Anything).Return([]store.PageElementClicks{}, nil).Maybe()
	r.On("PageExitStats", mock.Anything, int64(10000)).Return(nil, readErr)

	engine := insights.NewEngine(r, insights.DefaultRuleSet())
	issues, err := engine.AnalyzeAll(context.Background())

	assert.Nil(t, issues)
	var aerr *insights.AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, insights.RuleHighExitRate, aerr.RuleID)
	var rerr *store.ReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, store.QueryPageExitStats, rerr.Query)
	r.AssertExpectations(t)
}

func TestDetectorsReceiveCurrentThresholds(t *testing.T) {
	r := &mockReader{}
	r.On("RageClickGroups", mock.Anything, int64(1500), 4).Return([]store.RageClickGroup{}, nil).Once()

	engine := insights.NewEngine(r, insights.DefaultRuleSet())
	require.True(t, engine.UpdateThreshold(insights.RuleRageClicks, insights.TimeWindow, 1500))
	require.True(t, engine.UpdateThreshold(insights.RuleRageClicks, insights.ClicksInWindow, 4))

	issues, err := engine.Analyze(context.Background(), insights.RuleRageClicks)
	require.NoError(t, err)
	assert.Empty(t, issues)
	r.AssertExpectations(t)
}

// fixedReader serves the same generated rows on every call.
type fixedReader struct {
	clicks []store.ElementClickStat
	scroll []store.PageScrollStat
	rage   []store.RageClickGroup
	dead   []store.PageElementClicks
	exits  []store.PageExitStat
}

func (f fixedReader) ElementClickStats(context.Context) ([]store.ElementClickStat, error) {
	return f.clicks, nil
}

func (f fixedReader) PageScrollStats(context.Context) ([]store.PageScrollStat, error) {
	return f.scroll, nil
}

func (f fixedReader) RageClickGroups(context.Context, int64, int) ([]store.RageClickGroup, error) {
	return f.rage, nil
}

func (f fixedReader) NonInteractiveClicks(context.Context, []string) ([]store.PageElementClicks, error) {
	return f.dead, nil
}

func (f fixedReader) PageExitStats(context.Context, int64) ([]store.PageExitStat, error) {
	return f.exits, nil
}

func genReader(t *rapid.T) fixedReader {
	pages := []string{"/", "/pricing", "/blog", "/checkout"}
	selectors := []string{"button.buy", "div.card", "a.nav", "span.tag"}
	page := rapid.SampledFrom(pages)
	selector := rapid.SampledFrom(selectors)

	var f fixedReader
	for i, n := 0, rapid.IntRange(0, 6).Draw(t, "clicks"); i < n; i++ {
		pageSessions := rapid.Int64Range(1, 60).Draw(t, "pageSessions")
		clickSessions := rapid.Int64Range(1, pageSessions).Draw(t, "clickSessions")
		f.clicks = append(f.clicks, store.ElementClickStat{
			PageURL:       page.Draw(t, "page"),
			Selector:      fmt.Sprintf("%s-%d", selector.Draw(t, "selector"), i),
			Clicks:        clickSessions + rapid.Int64Range(0, 20).Draw(t, "extraClicks"),
			ClickSessions: clickSessions,
			PageSessions:  pageSessions,
		})
	}
	for i, n := 0, rapid.IntRange(0, 4).Draw(t, "scroll"); i < n; i++ {
		f.scroll = append(f.scroll, store.PageScrollStat{
			PageURL:  fmt.Sprintf("%s-%d", page.Draw(t, "page"), i),
			Sessions: rapid.Int64Range(1, 40).Draw(t, "sessions"),
			AvgDepth: rapid.Float64Range(0, 100).Draw(t, "avgDepth"),
			MaxDepth: 100,
		})
	}
	for i, n := 0, rapid.IntRange(0, 8).Draw(t, "rage"); i < n; i++ {
		f.rage = append(f.rage, store.RageClickGroup{
			PageURL:    page.Draw(t, "page"),
			SessionID:  fmt.Sprintf("s%d", i),
			Selector:   selector.Draw(t, "selector"),
			Clicks:     5,
			RageClicks: rapid.Int64Range(1, 5).Draw(t, "rageClicks"),
		})
	}
	for i, n := 0, rapid.IntRange(0, 4).Draw(t, "dead"); i < n; i++ {
		f.dead = append(f.dead, store.PageElementClicks{
			PageURL:  page.Draw(t, "page"),
			Selector: fmt.Sprintf("div.item-%d", i),
			Clicks:   rapid.Int64Range(1, 20).Draw(t, "deadClicks"),
		})
	}
	for i, n := 0, rapid.IntRange(0, 4).Draw(t, "exits"); i < n; i++ {
		total := rapid.Int64Range(1, 40).Draw(t, "totalSessions")
		f.exits = append(f.exits, store.PageExitStat{
			PageURL:       fmt.Sprintf("%s-%d", page.Draw(t, "page"), i),
			TotalSessions: total,
			QuickExits:    rapid.Int64Range(0, total).Draw(t, "quickExits"),
		})
	}
	return f
}

type flagged struct {
	RuleID   string
	PageURL  string
	Selector string
	Metrics  map[string]float64
}

func flaggedSet(issues []insights.Issue) []flagged {
	out := make([]flagged, 0, len(issues))
	for _, iss := range issues {
		f := flagged{RuleID: iss.RuleID, PageURL: iss.PageURL, Metrics: iss.Metrics}
		if iss.ElementSelector != nil {
			f.Selector = *iss.ElementSelector
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.PageURL != b.PageURL {
			return a.PageURL < b.PageURL
		}
		return a.Selector < b.Selector
	})
	return out
}

func TestAnalyzeAllIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		engine := insights.NewEngine(genReader(rt), insights.DefaultRuleSet())
		ctx := context.Background()

		first, err := engine.AnalyzeAll(ctx)
		if err != nil {
			rt.Fatalf("first analysis: %v", err)
		}
		second, err := engine.AnalyzeAll(ctx)
		if err != nil {
			rt.Fatalf("second analysis: %v", err)
		}

		if !assert.ObjectsAreEqual(flaggedSet(first), flaggedSet(second)) {
			rt.Fatalf("flagged issues differ between runs:\n%v\n%v", flaggedSet(first), flaggedSet(second))
		}
		// fixed order makes the raw sequence repeat too
		for i := range first {
			if first[i].Fingerprint != second[i].Fingerprint {
				rt.Fatalf("issue %d changed position", i)
			}
		}
	})
}
