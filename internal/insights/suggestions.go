package insights

import "fmt"

// maxSuggestions caps how many catalog entries an issue carries.
const maxSuggestions = 3

var suggestionPriorities = [maxSuggestions]Priority{PriorityHigh, PriorityMedium, PriorityLow}

var suggestionCatalog = map[string][]string{
	RuleLowClickRate: {
		"Make the element more prominent with stronger contrast, a larger size or a position above the fold",
		"Rewrite the label so the action and its benefit are explicit",
		"Move the element next to the content visitors engage with most",
		"Remove the element if it does not support a goal of the page",
	},
	RuleLowScrollDepth: {
		"Move the most important content and calls to action higher up the page",
		"Shorten the introduction and break long sections into scannable blocks",
		"Add headings, imagery or in-page anchors that invite visitors to keep scrolling",
		"Check that content below the fold loads quickly",
	},
	RuleRageClicks: {
		"Make sure the element responds immediately and shows a loading or disabled state while it works",
		"Check browser console and network logs for errors triggered by this element",
		"Enlarge the hit area so near misses do not cause repeated clicks",
		"Debounce the handler to prevent duplicate submissions",
	},
	RuleDeadClicks: {
		"Make the element interactive, linking it to the content visitors expect, or remove its click affordances",
		"Remove pointer cursors and hover styles that make the element look clickable",
		"Place a clearly interactive control next to the element for the action visitors attempt",
	},
	RuleHighExitRate: {
		"Make the primary message and next step visible without scrolling",
		"Check that the page delivers what the links and campaigns pointing to it promise",
		"Cut load time and remove interstitials shown on arrival",
		"Add related links or a clear call to action to keep visitors engaged",
	},
}

// suggestionsFor returns at most three suggestions for an issue, ranked by
// catalog position.
func suggestionsFor(ruleID, issueID string) []Suggestion {
	texts := suggestionCatalog[ruleID]
	if len(texts) > maxSuggestions {
		texts = texts[:maxSuggestions]
	}
	out := make([]Suggestion, 0, len(texts))
	for i, text := range texts {
		out = append(out, Suggestion{
			ID:       fmt.Sprintf("%s-s%d", issueID, i+1),
			Text:     text,
			Priority: suggestionPriorities[i],
		})
	}
	return out
}
