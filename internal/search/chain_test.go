package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/config"
)

type stubProvider struct {
	name  string
	items []Item
	err   error
	delay time.Duration
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(ctx context.Context, query string) ([]Item, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func defaultStore(t *testing.T) *config.SourcesStore {
	t.Helper()
	t.Setenv("SOURCES_CONFIG_PATH", "")
	store, err := config.NewSourcesStore(zap.NewNop())
	require.NoError(t, err)
	return store
}

func testChain(t *testing.T, providers ...*stubProvider) *Chain {
	t.Helper()
	c := &Chain{sources: defaultStore(t), logger: zap.NewNop()}
	for _, p := range providers {
		c.entries = append(c.entries, chainEntry{provider: p, timeout: time.Second})
	}
	return c
}

func relevantItems() []Item {
	return []Item{
		{Title: "Cursor Pricing", URL: "https://cursor.com/pricing", Snippet: "Pro is $20/mo", Score: 0.9},
		{Title: "Cursor plans compared", URL: "https://example.com/cursor", Snippet: "cursor tiers", Score: 0.6},
	}
}

func TestChainFirstProviderWins(t *testing.T) {
	first := &stubProvider{name: "tavily", items: relevantItems()}
	second := &stubProvider{name: "brave", items: relevantItems()}

	res, err := testChain(t, first, second).Search(context.Background(), "cursor pricing")
	require.NoError(t, err)
	assert.Equal(t, "tavily", res.ProviderUsed)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "later providers must not be tried after a success")
}

func TestChainFallsThroughOnTimeout(t *testing.T) {
	slow := &stubProvider{name: "tavily", items: relevantItems(), delay: 500 * time.Millisecond}
	fast := &stubProvider{name: "brave", items: relevantItems()}

	c := &Chain{sources: defaultStore(t), logger: zap.NewNop()}
	c.entries = append(c.entries, chainEntry{provider: slow, timeout: 30 * time.Millisecond})
	c.entries = append(c.entries, chainEntry{provider: fast, timeout: time.Second})

	res, err := c.Search(context.Background(), "cursor pricing")
	require.NoError(t, err)
	assert.Equal(t, "brave", res.ProviderUsed)
	assert.Equal(t, 1, slow.calls)
	assert.Equal(t, 1, fast.calls)
}

func TestChainSkipsQuotaAndAuthFailures(t *testing.T) {
	quota := &stubProvider{name: "tavily", err: &ProviderError{Provider: "tavily", Reason: ReasonQuota}}
	auth := &stubProvider{name: "brave", err: &ProviderError{Provider: "brave", Reason: ReasonAuth}}
	ok := &stubProvider{name: "duckduckgo", items: relevantItems()}

	res, err := testChain(t, quota, auth, ok).Search(context.Background(), "cursor pricing")
	require.NoError(t, err)
	assert.Equal(t, "duckduckgo", res.ProviderUsed)
	assert.Equal(t, 1, quota.calls)
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestChainEmptyResultSkips(t *testing.T) {
	empty := &stubProvider{name: "tavily", items: []Item{}}
	ok := &stubProvider{name: "brave", items: relevantItems()}

	res, err := testChain(t, empty, ok).Search(context.Background(), "cursor pricing")
	require.NoError(t, err)
	assert.Equal(t, "brave", res.ProviderUsed)
}

func TestChainExhaustedNamesEveryAttempt(t *testing.T) {
	p1 := &stubProvider{name: "tavily", err: &ProviderError{Provider: "tavily", Reason: ReasonQuota}}
	p2 := &stubProvider{name: "brave", err: &ProviderError{Provider: "brave", Reason: ReasonAuth}}
	p3 := &stubProvider{name: "duckduckgo", err: &ProviderError{Provider: "duckduckgo", Reason: ReasonTimeout}}

	res, err := testChain(t, p1, p2, p3).Search(context.Background(), "cursor pricing")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsExhausted(err))

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Len(t, ex.Attempts, 3)
	assert.Contains(t, err.Error(), "tavily (quota)")
	assert.Contains(t, err.Error(), "brave (auth)")
	assert.Contains(t, err.Error(), "duckduckgo (timeout)")

	// One try per provider per invocation; retries belong to the caller.
	assert.Equal(t, 1, p1.calls)
	assert.Equal(t, 1, p2.calls)
	assert.Equal(t, 1, p3.calls)
}

func TestChainUsesLowQualityResultsAsLastResort(t *testing.T) {
	offTopic := []Item{
		{Title: "Gardening weekly", URL: "https://example.com/a", Snippet: "tomato season"},
		{Title: "Bread recipes", URL: "https://example.com/b", Snippet: "sourdough starter"},
	}
	lowQuality := &stubProvider{name: "tavily", items: offTopic}
	down := &stubProvider{name: "brave", err: &ProviderError{Provider: "brave", Reason: ReasonError}}

	res, err := testChain(t, lowQuality, down).Search(context.Background(), "cursor pricing")
	require.NoError(t, err)
	assert.Equal(t, "tavily", res.ProviderUsed)
	assert.Len(t, res.Items, 2)
}

func TestChainProvidersInPriorityOrder(t *testing.T) {
	c := testChain(t,
		&stubProvider{name: "tavily"},
		&stubProvider{name: "brave"},
		&stubProvider{name: "duckduckgo"},
	)
	assert.Equal(t, []string{"tavily", "brave", "duckduckgo"}, c.Providers())
}

func TestNewChainBuildsFromSourcesFile(t *testing.T) {
	c := NewChain(defaultStore(t), zap.NewNop())
	assert.Equal(t, []string{"tavily", "brave", "duckduckgo"}, c.Providers())
}

func TestChainRanksSuccessfulResults(t *testing.T) {
	items := []Item{
		{Title: "Some cursor blog", URL: "https://blog.example.com/cursor", Snippet: "thoughts on cursor", Score: 0.8},
		{Title: "Cursor Pricing", URL: "https://cursor.com/pricing", Snippet: "cursor plans", Score: 0.7},
	}
	p := &stubProvider{name: "tavily", items: items}

	res, err := testChain(t, p).Search(context.Background(), "cursor pricing")
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	// The official-domain boost lifts cursor.com above the blog.
	assert.Equal(t, "https://cursor.com/pricing", res.Items[0].URL)
	assert.True(t, res.Items[0].Official)
	assert.False(t, res.Items[1].Official)
}
