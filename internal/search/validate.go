package search

import (
	"sort"
	"strings"

	"github.com/recaplabs/recap/internal/config"
)

// validateItems gates a provider's result set: enough results, and enough
// of them mentioning the query's keywords. A set that fails the gate is
// treated like a failed provider so the chain can try the next backend.
func validateItems(items []Item, query string, rules config.ValidationRules) bool {
	if len(items) < rules.MinResults {
		return false
	}

	keywords := queryKeywords(query)
	if len(keywords) == 0 {
		return true
	}

	relevant := 0
	for _, item := range items {
		haystack := strings.ToLower(item.Title + " " + item.Snippet)
		for _, kw := range keywords {
			if strings.Contains(haystack, kw) {
				relevant++
				break
			}
		}
	}
	return float64(relevant) >= float64(len(items))*rules.MinRelevantShare
}

// queryKeywords extracts up to five keywords from the query: whitespace
// tokens of three or more characters, lowercased.
func queryKeywords(query string) []string {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) < 3 {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) == 5 {
			break
		}
	}
	return keywords
}

// rankItems deduplicates by URL and re-scores: official vendor domains get
// a 1.5x boost, results mentioning pricing 1.2x, both capped at 1.0.
// Returns a new slice sorted by descending score; input order breaks ties,
// so identical inputs rank identically.
func rankItems(items []Item, cfg *config.SourcesConfig) []Item {
	seen := make(map[string]bool, len(items))
	ranked := make([]Item, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(item.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		score := item.Score
		if score == 0 {
			score = 0.5
		}
		if cfg.IsOfficialDomain(item.URL) {
			item.Official = true
			score = capScore(score * cfg.Validation.OfficialBoost)
		}
		if cfg.HasPricingSignal(item.Title + " " + item.Snippet) {
			score = capScore(score * cfg.Validation.PricingBoost)
		}
		item.Score = score
		ranked = append(ranked, item)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

func capScore(s float64) float64 {
	if s > 1.0 {
		return 1.0
	}
	return s
}
