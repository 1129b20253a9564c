package insights

import (
	"context"
	"fmt"
	"sort"
)

// exitRateLimit is the share of quick exits above which a page is flagged.
const exitRateLimit = 0.5

// HighExitRateDetector flags pages most sessions leave after a short
// interaction.
type HighExitRateDetector struct {
	reader Reader
}

func NewHighExitRateDetector(reader Reader) *HighExitRateDetector {
	return &HighExitRateDetector{reader: reader}
}

func (d *HighExitRateDetector) RuleID() string { return RuleHighExitRate }

func (d *HighExitRateDetector) Detect(ctx context.Context, rule Rule) ([]Issue, error) {
	maxMs := int64(rule.Thresholds[MaxInteractionTime])
	minSessions := rule.Thresholds[MinSessions]

	stats, err := d.reader.PageExitStats(ctx, maxMs)
	if err != nil {
		return nil, err
	}

	var out []Issue
	for _, s := range stats {
		if s.TotalSessions == 0 || float64(s.TotalSessions) < minSessions {
			continue
		}
		rate := float64(s.QuickExits) / float64(s.TotalSessions)
		if rate <= exitRateLimit {
			continue
		}
		out = append(out, Issue{
			RuleID:  RuleHighExitRate,
			PageURL: s.PageURL,
			Description: fmt.Sprintf("%.0f%% of sessions on %s interact for %dms or less (%d of %d)",
				rate*100, s.PageURL, maxMs, s.QuickExits, s.TotalSessions),
			Metrics: map[string]float64{
				"exitRate":      rate,
				"quickExits":    float64(s.QuickExits),
				"totalSessions": float64(s.TotalSessions),
			},
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Metrics, out[j].Metrics
		if a["exitRate"] != b["exitRate"] {
			return a["exitRate"] > b["exitRate"]
		}
		if a["totalSessions"] != b["totalSessions"] {
			return a["totalSessions"] > b["totalSessions"]
		}
		return locusLess(out[i], out[j])
	})
	return out, nil
}
