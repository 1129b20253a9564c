package insights

import (
	"context"
	"fmt"
	"sort"
)

// LowClickRateDetector flags elements that only a small share of a page's
// sessions click.
type LowClickRateDetector struct {
	reader Reader
}

func NewLowClickRateDetector(reader Reader) *LowClickRateDetector {
	return &LowClickRateDetector{reader: reader}
}

func (d *LowClickRateDetector) RuleID() string { return RuleLowClickRate }

func (d *LowClickRateDetector) Detect(ctx context.Context, rule Rule) ([]Issue, error) {
	stats, err := d.reader.ElementClickStats(ctx)
	if err != nil {
		return nil, err
	}

	minRate := rule.Thresholds[MinClickRate]
	minViews := rule.Thresholds[MinPageViews]

	type candidate struct {
		issue  Issue
		rate   float64
		clicks int64
	}
	var found []candidate
	for _, s := range stats {
		if s.PageSessions == 0 || float64(s.PageSessions) < minViews {
			continue
		}
		rate := float64(s.ClickSessions) / float64(s.PageSessions)
		if rate >= minRate {
			continue
		}
		selector := s.Selector
		found = append(found, candidate{
			rate:   rate,
			clicks: s.Clicks,
			issue: Issue{
				RuleID:          RuleLowClickRate,
				PageURL:         s.PageURL,
				ElementSelector: &selector,
				Description: fmt.Sprintf("%q on %s is clicked by %.1f%% of sessions (%d of %d)",
					s.Selector, s.PageURL, rate*100, s.ClickSessions, s.PageSessions),
				Metrics: map[string]float64{
					"clickRate":        rate,
					"clicks":           float64(s.Clicks),
					"clickingSessions": float64(s.ClickSessions),
					"pageSessions":     float64(s.PageSessions),
				},
			},
		})
	}

	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.rate != b.rate {
			return a.rate < b.rate
		}
		if a.clicks != b.clicks {
			return a.clicks > b.clicks
		}
		return locusLess(a.issue, b.issue)
	})

	out := make([]Issue, 0, len(found))
	for _, c := range found {
		out = append(out, c.issue)
	}
	return out, nil
}
