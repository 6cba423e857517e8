package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaplabs/recap/internal/config"
)

func defaultSources(t *testing.T) *config.SourcesConfig {
	t.Helper()
	return defaultStore(t).Get()
}

func TestValidateRequiresMinimumResults(t *testing.T) {
	rules := config.ValidationRules{MinResults: 2, MinRelevantShare: 0.5}
	one := []Item{{Title: "Cursor Pricing", URL: "https://cursor.com/pricing", Snippet: "cursor"}}

	assert.False(t, validateItems(one, "cursor pricing", rules))
	assert.True(t, validateItems(relevantItems(), "cursor pricing", rules))
}

func TestValidateRequiresRelevantShare(t *testing.T) {
	rules := config.ValidationRules{MinResults: 2, MinRelevantShare: 0.5}
	items := []Item{
		{Title: "Cursor Pricing", URL: "https://cursor.com/pricing", Snippet: "plans"},
		{Title: "Gardening", URL: "https://example.com/a", Snippet: "tomatoes"},
		{Title: "Bread", URL: "https://example.com/b", Snippet: "sourdough"},
		{Title: "Knitting", URL: "https://example.com/c", Snippet: "wool"},
	}

	// 1 of 4 mentions a query keyword, below the 50% bar.
	assert.False(t, validateItems(items, "cursor pricing", rules))

	// 2 of 4 meets the bar exactly; the share check is inclusive.
	items[1].Snippet = "cursor for gardeners"
	assert.True(t, validateItems(items, "cursor pricing", rules))
}

func TestValidateShortTokensIgnored(t *testing.T) {
	rules := config.ValidationRules{MinResults: 2, MinRelevantShare: 0.5}
	items := []Item{
		{Title: "Unrelated", URL: "https://example.com/a", Snippet: "nothing"},
		{Title: "Also unrelated", URL: "https://example.com/b", Snippet: "nope"},
	}

	// Every query token is under three characters, so no keywords are
	// extracted and the set passes on count alone.
	assert.True(t, validateItems(items, "is it ok", rules))
}

func TestValidateKeywordCap(t *testing.T) {
	got := queryKeywords("alpha beta gamma delta epsilon zeta eta")
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta", "epsilon"}, got)
}

func TestRankBoostsOfficialDomains(t *testing.T) {
	cfg := defaultSources(t)
	items := []Item{
		{Title: "Blog take", URL: "https://blog.example.com/post", Snippet: "opinions", Score: 0.6},
		{Title: "Docs", URL: "https://docs.anthropic.com/claude", Snippet: "model docs", Score: 0.6},
	}

	ranked := rankItems(items, cfg)
	require.Len(t, ranked, 2)
	assert.Equal(t, "https://docs.anthropic.com/claude", ranked[0].URL)
	assert.True(t, ranked[0].Official)
	assert.InDelta(t, 0.9, ranked[0].Score, 1e-9)
	assert.False(t, ranked[1].Official)
	assert.InDelta(t, 0.6, ranked[1].Score, 1e-9)
}

func TestRankBoostsPricingMentions(t *testing.T) {
	cfg := defaultSources(t)
	items := []Item{
		{Title: "Feature overview", URL: "https://example.com/features", Snippet: "what it does", Score: 0.5},
		{Title: "Subscription cost", URL: "https://example.com/cost", Snippet: "monthly pricing", Score: 0.5},
	}

	ranked := rankItems(items, cfg)
	require.Len(t, ranked, 2)
	assert.Equal(t, "https://example.com/cost", ranked[0].URL)
	assert.InDelta(t, 0.6, ranked[0].Score, 1e-9)
}

func TestRankCapsBoostedScores(t *testing.T) {
	cfg := defaultSources(t)
	items := []Item{
		{Title: "OpenAI pricing", URL: "https://openai.com/pricing", Snippet: "API cost per token", Score: 0.95},
	}

	ranked := rankItems(items, cfg)
	require.Len(t, ranked, 1)
	assert.Equal(t, 1.0, ranked[0].Score)
}

func TestRankDefaultsZeroScores(t *testing.T) {
	cfg := defaultSources(t)
	items := []Item{
		{Title: "No score", URL: "https://example.com/a", Snippet: "plain result"},
	}

	ranked := rankItems(items, cfg)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 0.5, ranked[0].Score, 1e-9)
}

func TestRankDeduplicatesByURL(t *testing.T) {
	cfg := defaultSources(t)
	items := []Item{
		{Title: "First", URL: "https://example.com/page", Score: 0.7},
		{Title: "Duplicate", URL: "https://EXAMPLE.com/page", Score: 0.9},
		{Title: "Other", URL: "https://example.com/other", Score: 0.4},
	}

	ranked := rankItems(items, cfg)
	require.Len(t, ranked, 2)
	assert.Equal(t, "First", ranked[0].Title)
}

func TestRankIsDeterministic(t *testing.T) {
	cfg := defaultSources(t)
	items := []Item{
		{Title: "A", URL: "https://example.com/a", Score: 0.5},
		{Title: "B", URL: "https://example.com/b", Score: 0.5},
		{Title: "C", URL: "https://example.com/c", Score: 0.5},
	}

	first := rankItems(items, cfg)
	second := rankItems(items, cfg)
	assert.Equal(t, first, second)

	// Equal scores keep input order.
	assert.Equal(t, "A", first[0].Title)
	assert.Equal(t, "B", first[1].Title)
	assert.Equal(t, "C", first[2].Title)
}

func TestSubdomainMatchesOfficialParent(t *testing.T) {
	cfg := defaultSources(t)
	assert.True(t, cfg.IsOfficialDomain("https://docs.openai.com/api"))
	assert.True(t, cfg.IsOfficialDomain("https://www.cursor.com/pricing"))
	assert.False(t, cfg.IsOfficialDomain("https://openai.com.evil.example/phish"))
}
