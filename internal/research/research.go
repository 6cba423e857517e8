// Package research implements the bounded orchestration that turns a cache
// miss into a final answer. One Run walks Clarify -> Brief -> Supervise ->
// Decide -> Report: Clarify tries the answer tier, Supervise fans research
// units out under a concurrency cap to search the web and bank extracted
// facts, and Report writes the finished answer back through the cache. The
// only failure a caller ever sees is a brief-generation failure; everything
// downstream degrades into a lower-confidence answer instead of an error.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/cache"
	"github.com/recaplabs/recap/internal/classify"
	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/llm"
	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/normalize"
	"github.com/recaplabs/recap/internal/search"
	"github.com/recaplabs/recap/internal/tracing"
)

// ErrBriefFailed marks an unrecoverable research-plan failure. It is the
// only error Run returns besides the context's own.
var ErrBriefFailed = errors.New("research brief generation failed")

// State names one phase of the research state machine.
type State string

const (
	StateClarify   State = "clarify"
	StateBrief     State = "brief"
	StateSupervise State = "supervise"
	StateDecide    State = "decide"
	StateReport    State = "report"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Finding is one fact available to the report writer, converted either from
// a stored fact-tier record or from a statement extracted this run.
type Finding struct {
	Text       string
	SourceURL  string
	Provider   string
	Confidence float64
	Official   bool
	AgeDays    int
	Fresh      bool
}

// Outcome is what one orchestration produced.
type Outcome struct {
	Answer     string
	Label      classify.Label
	State      State
	CacheKey   string
	FromCache  bool
	FreshFacts int
}

// Normalizer canonicalizes raw queries.
type Normalizer interface {
	Normalize(ctx context.Context, rawText, domainTag string) normalize.NormalizedQuery
}

// AnswerStore is the final-answer tier surface the orchestrator touches.
type AnswerStore interface {
	GetFinalAnswer(ctx context.Context, cacheKey, domain string) (*cache.CacheEntry, bool)
	PutFinalAnswer(ctx context.Context, cacheKey, domain, content string)
}

// QueryMapper recovers answer-tier hits for reworded repeat questions.
type QueryMapper interface {
	Lookup(ctx context.Context, rawQuery, domain string) (string, bool)
	Add(ctx context.Context, rawQuery, normalizedText, domain, cacheKey string) error
}

// FactStore is the fact-tier surface: similarity search before a unit is
// dispatched, appends after extraction.
type FactStore interface {
	SearchFacts(ctx context.Context, query string, limit int, scoreThreshold float64) ([]cache.FactRecord, error)
	AddFacts(ctx context.Context, inputs []cache.FactInput, ttlDays int) (int, error)
}

// Searcher is the provider-chain surface research units call.
type Searcher interface {
	Search(ctx context.Context, query string) (*search.Result, error)
}

// Extractor distills provider results into storable facts.
type Extractor interface {
	Extract(ctx context.Context, result *search.Result, originQuery string) ([]cache.FactInput, error)
}

// Classifier labels the query so the report can be shaped to it.
type Classifier interface {
	Classify(ctx context.Context, brief string, factSummaries []string) classify.Label
	Emphasis(brief string) []string
}

// Deps bundles the pipeline capabilities one orchestrator coordinates.
// QueryMap may be nil; the rescue lookup and mapping writes are then
// skipped.
type Deps struct {
	Normalizer Normalizer
	Answers    AnswerStore
	QueryMap   QueryMapper
	Facts      FactStore
	Chain      Searcher
	Extractor  Extractor
	Classifier Classifier
	Completer  llm.Completer
}

// Orchestrator drives queries through the research state machine. Stateless
// between calls; every Run carries its own working memory, so one instance
// serves concurrent requests.
type Orchestrator struct {
	cfg      config.ResearchConfig
	cacheCfg config.CacheConfig
	deps     Deps
	logger   *zap.Logger
}

func New(cfg config.ResearchConfig, cacheCfg config.CacheConfig, deps Deps, logger *zap.Logger) *Orchestrator {
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = 60 * time.Second
	}
	if cfg.MinFactsSufficient <= 0 {
		cfg.MinFactsSufficient = 3
	}
	if cfg.MinReportLength <= 0 {
		cfg.MinReportLength = 50
	}
	return &Orchestrator{cfg: cfg, cacheCfg: cacheCfg, deps: deps, logger: logger}
}

// runState is the working memory of one Run.
type runState struct {
	rawQuery string
	query    normalize.NormalizedQuery
	cacheKey string

	brief        string
	subQuestions []string

	findings []Finding
	seen     map[string]bool
	fresh    int

	label classify.Label
}

// addFinding appends f unless an identical statement from the same source
// is already banked.
func (st *runState) addFinding(f Finding) bool {
	key := strings.ToLower(strings.TrimSpace(f.Text)) + "|" + strings.ToLower(f.SourceURL)
	if st.seen[key] {
		return false
	}
	st.seen[key] = true
	st.findings = append(st.findings, f)
	if f.Fresh {
		st.fresh++
	}
	return true
}

// Run resolves one query: answer from cache when possible, otherwise
// research, report, and cache the result. The returned error is either
// ErrBriefFailed (wrapped) or the context's own error; every other failure
// mode degrades into the answer text.
func (o *Orchestrator) Run(ctx context.Context, rawQuery, domainTag string) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "research.run")
	defer span.End()
	start := time.Now()

	if reply, ok := conversationalReply(rawQuery); ok {
		o.logger.Debug("Conversational input answered without research",
			zap.String("query", truncate(rawQuery, 60)),
		)
		metrics.RecordResearchRun("conversational", time.Since(start).Seconds())
		return &Outcome{Answer: reply, Label: classify.LabelInformation, State: StateDone}, nil
	}

	st := &runState{rawQuery: rawQuery, seen: make(map[string]bool)}

	if out := o.clarify(ctx, st, domainTag); out != nil {
		span.SetAttributes(attribute.Bool("research.cache_hit", true))
		metrics.RecordResearchRun("cache_hit", time.Since(start).Seconds())
		return out, nil
	}

	if err := o.brief(ctx, st); err != nil {
		metrics.RecordResearchRun("failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrBriefFailed, err)
	}

	o.supervise(ctx, st)
	if ctx.Err() != nil {
		metrics.RecordResearchRun("abandoned", time.Since(start).Seconds())
		return nil, ctx.Err()
	}

	st.label = o.deps.Classifier.Classify(ctx, st.brief, factSummaries(st.findings))

	answer, full := o.report(ctx, st, domainTag)
	metrics.Reports.WithLabelValues(string(st.label)).Inc()

	status := "completed"
	if !full {
		status = "insufficient"
	}
	metrics.RecordResearchRun(status, time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("research.label", string(st.label)),
		attribute.Int("research.findings", len(st.findings)),
		attribute.Int("research.fresh_facts", st.fresh),
	)
	o.logger.Info("Research finished",
		zap.String("domain", domainTag),
		zap.String("label", string(st.label)),
		zap.Int("findings", len(st.findings)),
		zap.Int("fresh_facts", st.fresh),
		zap.Bool("full_report", full),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Outcome{
		Answer:     answer,
		Label:      st.label,
		State:      StateDone,
		CacheKey:   st.cacheKey,
		FreshFacts: st.fresh,
	}, nil
}

// clarify normalizes the query and tries the final-answer tier: first under
// the direct cache key, then under a key recovered from the semantic query
// map. A hit ends the run without touching the research states.
func (o *Orchestrator) clarify(ctx context.Context, st *runState, domainTag string) *Outcome {
	ctx, span := tracing.StartSpan(ctx, "research.clarify")
	defer span.End()

	st.query = o.deps.Normalizer.Normalize(ctx, st.rawQuery, domainTag)
	st.cacheKey = st.query.CacheKey()

	if entry, ok := o.deps.Answers.GetFinalAnswer(ctx, st.cacheKey, domainTag); ok {
		o.logger.Info("Answer served from cache",
			zap.String("domain", domainTag),
			zap.String("cache_key", shortKey(st.cacheKey)),
		)
		return &Outcome{
			Answer:    entry.Content,
			Label:     classify.LabelInformation,
			State:     StateDone,
			CacheKey:  st.cacheKey,
			FromCache: true,
		}
	}

	if o.deps.QueryMap == nil {
		return nil
	}
	mapped, ok := o.deps.QueryMap.Lookup(ctx, st.rawQuery, domainTag)
	if !ok || mapped == st.cacheKey {
		return nil
	}
	entry, ok := o.deps.Answers.GetFinalAnswer(ctx, mapped, domainTag)
	if !ok {
		return nil
	}

	metrics.QueryMapHits.Inc()
	o.logger.Info("Answer served via query map",
		zap.String("domain", domainTag),
		zap.String("cache_key", shortKey(mapped)),
	)
	return &Outcome{
		Answer:    entry.Content,
		Label:     classify.LabelInformation,
		State:     StateDone,
		CacheKey:  mapped,
		FromCache: true,
	}
}

// conversationalWords covers inputs that are greetings or pleasantries, not
// research questions. Matching is all-token: one word outside the set means
// the input goes through the pipeline.
var conversationalWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "there": true,
	"thanks": true, "thank": true, "you": true, "so": true, "much": true,
	"a": true, "lot": true, "ok": true, "okay": true, "cool": true,
	"great": true, "nice": true, "good": true, "morning": true,
	"afternoon": true, "evening": true, "bye": true, "goodbye": true,
	"please": true,
}

// conversationalReply short-circuits greetings and thanks with a canned
// reply, keeping the research pipeline for real questions.
func conversationalReply(raw string) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" || len(text) > 60 || strings.Contains(text, "?") {
		return "", false
	}
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return "", false
	}
	for _, tok := range tokens {
		if !conversationalWords[tok] {
			return "", false
		}
	}
	reply := "Hello! Ask me anything about AI developer tooling - pricing, " +
		"comparisons, integrations, or setup - and I will research it for you."
	return reply, true
}

// factSummaries trims findings down to the bare texts the classifier reads.
func factSummaries(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Text)
	}
	return out
}

// recordFinding converts a stored fact into a report finding.
func recordFinding(r cache.FactRecord) Finding {
	return Finding{
		Text:       r.Text,
		SourceURL:  r.SourceURL,
		Provider:   r.SourceProvider,
		Confidence: r.Confidence,
		Official:   r.IsOfficialSource,
		AgeDays:    int(time.Since(r.CreatedAt).Hours() / 24),
	}
}

// inputFinding converts a just-extracted fact into a report finding.
func inputFinding(in cache.FactInput) Finding {
	return Finding{
		Text:       in.Text,
		SourceURL:  in.SourceURL,
		Provider:   in.SourceProvider,
		Confidence: in.Confidence,
		Official:   in.IsOfficialSource,
		Fresh:      true,
	}
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
