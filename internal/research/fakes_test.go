package research

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/cache"
	"github.com/recaplabs/recap/internal/classify"
	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/normalize"
	"github.com/recaplabs/recap/internal/search"
)

// Test doubles for every pipeline capability, so orchestrator tests drive
// exact scenarios without stores, providers, or models.

type fakeNormalizer struct {
	canonical map[string]normalize.NormalizedQuery
}

func (f *fakeNormalizer) Normalize(ctx context.Context, raw, domain string) normalize.NormalizedQuery {
	if q, ok := f.canonical[raw]; ok {
		return q
	}
	return normalize.Fallback(raw, domain)
}

// fakeAnswers mirrors the answer tier's degenerate-content gate so caching
// behavior in tests matches the real store.
type fakeAnswers struct {
	mu       sync.Mutex
	minLen   int
	entries  map[string]cache.CacheEntry
	puts     []string
	rejected int
}

func newFakeAnswers() *fakeAnswers {
	return &fakeAnswers{minLen: 200, entries: make(map[string]cache.CacheEntry)}
}

func (f *fakeAnswers) storageKey(domain, cacheKey string) string {
	return domain + ":" + cacheKey
}

func (f *fakeAnswers) GetFinalAnswer(ctx context.Context, cacheKey, domain string) (*cache.CacheEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[f.storageKey(domain, cacheKey)]
	if !ok || entry.Expired(time.Now()) {
		return nil, false
	}
	return &entry, true
}

func (f *fakeAnswers) PutFinalAnswer(ctx context.Context, cacheKey, domain, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, cacheKey)
	if len(content) < f.minLen {
		f.rejected++
		return
	}
	now := time.Now()
	f.entries[f.storageKey(domain, cacheKey)] = cache.CacheEntry{
		Key:       cacheKey,
		DomainTag: domain,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

func (f *fakeAnswers) stored(domain, cacheKey string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[f.storageKey(domain, cacheKey)]
	return entry.Content, ok
}

func (f *fakeAnswers) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *fakeAnswers) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

type fakeQueryMap struct {
	mu       sync.Mutex
	mappings map[string]string
	added    []string
}

func newFakeQueryMap() *fakeQueryMap {
	return &fakeQueryMap{mappings: make(map[string]string)}
}

func (f *fakeQueryMap) Lookup(ctx context.Context, rawQuery, domain string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.mappings[rawQuery+"|"+domain]
	return key, ok
}

func (f *fakeQueryMap) Add(ctx context.Context, rawQuery, normalizedText, domain, cacheKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappings[rawQuery+"|"+domain] = cacheKey
	f.added = append(f.added, rawQuery)
	return nil
}

// fakeFacts serves canned fact-tier search results and records appends.
type fakeFacts struct {
	mu       sync.Mutex
	results  map[string][]cache.FactRecord
	added    []cache.FactInput
	searches []string
}

func newFakeFacts() *fakeFacts {
	return &fakeFacts{results: make(map[string][]cache.FactRecord)}
}

func (f *fakeFacts) SearchFacts(ctx context.Context, query string, limit int, threshold float64) ([]cache.FactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	return f.results[query], nil
}

func (f *fakeFacts) AddFacts(ctx context.Context, inputs []cache.FactInput, ttlDays int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, inputs...)
	return len(inputs), nil
}

func (f *fakeFacts) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

// fakeChain counts in-flight Search calls so tests can assert the
// supervise fan-out bound. Without canned items it fabricates one distinct
// result per call.
type fakeChain struct {
	mu      sync.Mutex
	items   []search.Item
	err     error
	delay   time.Duration
	calls   int
	queries []string
	active  int
	peak    int
}

func (f *fakeChain) Search(ctx context.Context, query string) (*search.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.queries = append(f.queries, query)
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}

	items := f.items
	if items == nil {
		items = []search.Item{{
			Title:   fmt.Sprintf("Result %d for %s", call, query),
			URL:     fmt.Sprintf("https://example.com/result-%d", call),
			Snippet: "Details about " + query,
			Score:   0.8,
		}}
	}
	return &search.Result{Items: items, ProviderUsed: "tavily"}, nil
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChain) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeChain) seenQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// fakeExtractor yields one fact per result item.
type fakeExtractor struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, result *search.Result, originQuery string) ([]cache.FactInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []cache.FactInput
	for _, item := range result.Items {
		out = append(out, cache.FactInput{
			Text:             item.Title + ": " + item.Snippet,
			SourceURL:        item.URL,
			SourceProvider:   result.ProviderUsed,
			Confidence:       0.8,
			IsOfficialSource: item.Official,
			OriginQuery:      originQuery,
		})
	}
	return out, nil
}

type fakeClassifier struct {
	label    classify.Label
	emphasis []string
}

func (f *fakeClassifier) Classify(ctx context.Context, brief string, facts []string) classify.Label {
	if f.label == "" {
		return classify.LabelInformation
	}
	return f.label
}

func (f *fakeClassifier) Emphasis(brief string) []string {
	return f.emphasis
}

// fakeCompleter answers by call purpose, so one double serves the brief,
// refinement, and report prompts. Sequenced responses, when set, are
// consumed in order with the last one repeating.
type fakeCompleter struct {
	mu        sync.Mutex
	responses map[string]string
	seqs      map[string][]string
	errs      map[string]error
	calls     map[string]int
	lastUser  map[string]string
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		responses: map[string]string{
			"brief":  `{"research_brief": "", "sub_questions": []}`,
			"refine": `{"next_query": "", "done": true}`,
			"report": testReport,
		},
		seqs:     make(map[string][]string),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		lastUser: make(map[string]string),
	}
}

func (f *fakeCompleter) Complete(ctx context.Context, purpose, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[purpose]++
	f.lastUser[purpose] = user
	if err := f.errs[purpose]; err != nil {
		return "", err
	}
	if seq := f.seqs[purpose]; len(seq) > 0 {
		resp := seq[0]
		if len(seq) > 1 {
			f.seqs[purpose] = seq[1:]
		}
		return resp, nil
	}
	return f.responses[purpose], nil
}

func (f *fakeCompleter) callsFor(purpose string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[purpose]
}

func (f *fakeCompleter) userPrompt(purpose string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUser[purpose]
}

// testReport is long enough to clear both the report gate and the answer
// tier's minimum body length.
const testReport = `## Cursor pricing

Cursor offers a free Hobby tier, a Pro plan at $20 per month, and a
Business plan at $40 per user per month (cursor.com). Pro includes
extended agent limits and unlimited tab completions. The Business plan
adds centralized billing, SSO enforcement, and privacy mode controls for
teams that restrict code retention.`

type testDeps struct {
	normalizer *fakeNormalizer
	answers    *fakeAnswers
	queryMap   *fakeQueryMap
	facts      *fakeFacts
	chain      *fakeChain
	extractor  *fakeExtractor
	classifier *fakeClassifier
	completer  *fakeCompleter
}

func newTestDeps() *testDeps {
	return &testDeps{
		normalizer: &fakeNormalizer{},
		answers:    newFakeAnswers(),
		queryMap:   newFakeQueryMap(),
		facts:      newFakeFacts(),
		chain:      &fakeChain{},
		extractor:  &fakeExtractor{},
		classifier: &fakeClassifier{},
		completer:  newFakeCompleter(),
	}
}

func (d *testDeps) orchestrator(cfg config.ResearchConfig) *Orchestrator {
	return New(cfg, config.Default().Cache, Deps{
		Normalizer: d.normalizer,
		Answers:    d.answers,
		QueryMap:   d.queryMap,
		Facts:      d.facts,
		Chain:      d.chain,
		Extractor:  d.extractor,
		Classifier: d.classifier,
		Completer:  d.completer,
	}, zap.NewNop())
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *testDeps) {
	t.Helper()
	d := newTestDeps()
	return d.orchestrator(config.Default().Research), d
}

// tierRecords builds n distinct stored facts old enough to carry an age.
func tierRecords(n int) []cache.FactRecord {
	records := make([]cache.FactRecord, 0, n)
	created := time.Now().Add(-49 * time.Hour)
	for i := 0; i < n; i++ {
		records = append(records, cache.FactRecord{
			ID:               fmt.Sprintf("fact-%d", i),
			Text:             fmt.Sprintf("Stored fact %d about pricing tiers", i),
			SourceURL:        fmt.Sprintf("https://cursor.com/docs/%d", i),
			SourceProvider:   "tavily",
			Confidence:       0.9,
			IsOfficialSource: true,
			CreatedAt:        created,
			ExpiresAt:        created.Add(30 * 24 * time.Hour),
			Score:            0.8,
		})
	}
	return records
}
