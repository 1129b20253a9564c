package insights

import (
	"context"
	"fmt"
	"sort"
)

// nonInteractiveTags are the leading tags treated as not clickable.
var nonInteractiveTags = []string{
	"div", "span", "p", "h1", "h2", "h3", "h4", "h5", "h6",
}

// DeadClickDetector flags repeated clicks on non-interactive elements.
type DeadClickDetector struct {
	reader Reader
}

func NewDeadClickDetector(reader Reader) *DeadClickDetector {
	return &DeadClickDetector{reader: reader}
}

func (d *DeadClickDetector) RuleID() string { return RuleDeadClicks }

func (d *DeadClickDetector) Detect(ctx context.Context, rule Rule) ([]Issue, error) {
	clicks, err := d.reader.NonInteractiveClicks(ctx, nonInteractiveTags)
	if err != nil {
		return nil, err
	}

	minClicks := rule.Thresholds[MinClicksOnNonInteractive]

	var out []Issue
	for _, c := range clicks {
		if float64(c.Clicks) < minClicks {
			continue
		}
		selector := c.Selector
		out = append(out, Issue{
			RuleID:          RuleDeadClicks,
			PageURL:         c.PageURL,
			ElementSelector: &selector,
			Description:     fmt.Sprintf("%q on %s received %d clicks but is not interactive", c.Selector, c.PageURL, c.Clicks),
			Metrics: map[string]float64{
				"clicks": float64(c.Clicks),
			},
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Metrics["clicks"], out[j].Metrics["clicks"]
		if a != b {
			return a > b
		}
		return locusLess(out[i], out[j])
	})
	return out, nil
}
