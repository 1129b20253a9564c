package insights

import (
	"context"
	"fmt"
	"sort"
)

// LowScrollDepthDetector flags pages whose average scroll depth is shallow.
type LowScrollDepthDetector struct {
	reader Reader
}

func NewLowScrollDepthDetector(reader Reader) *LowScrollDepthDetector {
	return &LowScrollDepthDetector{reader: reader}
}

func (d *LowScrollDepthDetector) RuleID() string { return RuleLowScrollDepth }

func (d *LowScrollDepthDetector) Detect(ctx context.Context, rule Rule) ([]Issue, error) {
	stats, err := d.reader.PageScrollStats(ctx)
	if err != nil {
		return nil, err
	}

	maxDepth := rule.Thresholds[MaxScrollDepth]
	minSessions := rule.Thresholds[MinSessions]

	var out []Issue
	for _, s := range stats {
		if s.Sessions == 0 || float64(s.Sessions) < minSessions {
			continue
		}
		if s.AvgDepth >= maxDepth {
			continue
		}
		out = append(out, Issue{
			RuleID:  RuleLowScrollDepth,
			PageURL: s.PageURL,
			Description: fmt.Sprintf("Visitors scroll %.1f%% of %s on average across %d sessions",
				s.AvgDepth, s.PageURL, s.Sessions),
			Metrics: map[string]float64{
				"avgScrollDepth":   s.AvgDepth,
				"maxObservedDepth": s.MaxDepth,
				"sessions":         float64(s.Sessions),
			},
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Metrics["avgScrollDepth"], out[j].Metrics["avgScrollDepth"]
		if a != b {
			return a < b
		}
		return locusLess(out[i], out[j])
	})
	return out, nil
}
