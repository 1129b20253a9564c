package insights

import (
	"context"
	"fmt"
	"sort"
)

// RageClickDetector flags elements that several sessions click repeatedly
// within a short window, a sign of user frustration.
type RageClickDetector struct {
	reader Reader
}

func NewRageClickDetector(reader Reader) *RageClickDetector {
	return &RageClickDetector{reader: reader}
}

func (d *RageClickDetector) RuleID() string { return RuleRageClicks }

func (d *RageClickDetector) Detect(ctx context.Context, rule Rule) ([]Issue, error) {
	windowMs := int64(rule.Thresholds[TimeWindow])
	minClicks := int(rule.Thresholds[ClicksInWindow])
	minOccurrences := rule.Thresholds[MinOccurrences]

	groups, err := d.reader.RageClickGroups(ctx, windowMs, minClicks)
	if err != nil {
		return nil, err
	}

	type element struct {
		page, selector string
		sessions       int64
		rageClicks     int64
	}
	byElement := map[[2]string]*element{}
	for _, g := range groups {
		key := [2]string{g.PageURL, g.Selector}
		e, ok := byElement[key]
		if !ok {
			e = &element{page: g.PageURL, selector: g.Selector}
			byElement[key] = e
		}
		// each group is one session
		e.sessions++
		e.rageClicks += g.RageClicks
	}

	var out []Issue
	for _, e := range byElement {
		if float64(e.sessions) < minOccurrences {
			continue
		}
		selector := e.selector
		out = append(out, Issue{
			RuleID:          RuleRageClicks,
			PageURL:         e.page,
			ElementSelector: &selector,
			Description: fmt.Sprintf("%d sessions rage-clicked %q on %s (%d clicks with %d+ in %dms)",
				e.sessions, e.selector, e.page, e.rageClicks, minClicks, windowMs),
			Metrics: map[string]float64{
				"affectedSessions": float64(e.sessions),
				"totalRageClicks":  float64(e.rageClicks),
			},
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Metrics, out[j].Metrics
		if a["affectedSessions"] != b["affectedSessions"] {
			return a["affectedSessions"] > b["affectedSessions"]
		}
		if a["totalRageClicks"] != b["totalRageClicks"] {
			return a["totalRageClicks"] > b["totalRageClicks"]
		}
		return locusLess(out[i], out[j])
	})
	return out, nil
}
