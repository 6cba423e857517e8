// Package normalize canonicalizes raw user queries into a stable semantic
// form so that differently phrased but equivalent questions share a cache key.
package normalize

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/llm"
	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/tracing"
)

// minKeywordOverlap is the share of model-proposed keywords that must be
// grounded in the raw query text before a normalization is trusted. Guards
// against unrelated queries colliding on a hallucinated canonical form.
const minKeywordOverlap = 0.3

const maxKeywords = 8

// NormalizedQuery is the canonical form of a raw query. Immutable once
// produced; CacheKey derives the final-answer cache address from it.
type NormalizedQuery struct {
	CanonicalText string
	Keywords      []string
	DomainTag     string
}

// CacheKey returns the deterministic digest addressing the final-answer
// tier: md5 over the lowercased canonical text joined with the sorted,
// lowercased keyword set.
func (q NormalizedQuery) CacheKey() string {
	keywords := make([]string, 0, len(q.Keywords))
	for _, kw := range q.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	sort.Strings(keywords)

	base := strings.ToLower(strings.TrimSpace(q.CanonicalText)) + ":" + strings.Join(keywords, ":")
	sum := md5.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

const normalizeSystemPrompt = `You canonicalize user questions about AI developer tooling so that semantically equivalent questions map to the same form.

Rules:
1. Strip politeness, filler words, and stylistic variation; keep only the core intent.
2. Extract the key entities as keywords: tool names, task types, constraints (team size, budget, security).
3. Equivalent questions MUST produce identical normalized_text and identical keywords.

Examples:
- "Is Copilot okay to use at our company?" -> normalized_text: "Copilot enterprise use eligibility", keywords: ["copilot", "enterprise", "security"]
- "Can we legally use GitHub Copilot at work?" -> normalized_text: "Copilot enterprise use eligibility", keywords: ["copilot", "enterprise", "security"]
- "Cursor vs Copilot, which should we pick?" -> normalized_text: "Cursor Copilot comparison", keywords: ["cursor", "copilot", "comparison"]
- "How much does Cursor cost?" -> normalized_text: "Cursor pricing", keywords: ["cursor", "pricing"]

Respond with JSON: {"normalized_text": "...", "keywords": ["...", "..."]}`

type llmNormalization struct {
	NormalizedText string   `json:"normalized_text"`
	Keywords       []string `json:"keywords"`
}

// Normalizer produces NormalizedQuery values, preferring a language-model
// canonicalization and degrading to a heuristic when the model call fails
// or returns an implausible result.
type Normalizer struct {
	completer llm.Completer
	logger    *zap.Logger
}

func New(completer llm.Completer, logger *zap.Logger) *Normalizer {
	return &Normalizer{completer: completer, logger: logger}
}

// Normalize canonicalizes rawText. It never fails: any model error or
// rejected normalization falls back to Fallback and the pipeline continues.
func (n *Normalizer) Normalize(ctx context.Context, rawText, domainTag string) NormalizedQuery {
	ctx, span := tracing.StartSpan(ctx, "normalize.query")
	defer span.End()
	span.SetAttributes(attribute.String("query.domain", domainTag))

	raw := strings.TrimSpace(rawText)
	if raw == "" {
		return NormalizedQuery{CanonicalText: "", Keywords: nil, DomainTag: domainTag}
	}

	var out llmNormalization
	err := llm.CompleteJSON(ctx, n.completer, "normalize", normalizeSystemPrompt,
		fmt.Sprintf("Question: %s", raw), &out)
	if err == nil {
		if nq, ok := n.accept(raw, domainTag, out); ok {
			n.logger.Debug("Query normalized",
				zap.String("canonical", nq.CanonicalText),
				zap.Strings("keywords", nq.Keywords),
				zap.String("cache_key", nq.CacheKey()[:8]),
			)
			return nq
		}
		err = fmt.Errorf("normalization not grounded in query text")
	}

	metrics.NormalizationFallbacks.Inc()
	n.logger.Warn("Query normalization degraded, using heuristic fallback",
		zap.Error(err),
		zap.String("query", truncate(raw, 80)),
	)
	span.SetAttributes(attribute.Bool("normalize.fallback", true))
	return Fallback(raw, domainTag)
}

// accept validates a model normalization: non-empty canonical text and at
// least minKeywordOverlap of its keywords grounded in the raw token set.
func (n *Normalizer) accept(raw, domainTag string, out llmNormalization) (NormalizedQuery, bool) {
	canonical := strings.TrimSpace(out.NormalizedText)
	keywords := cleanKeywords(out.Keywords)
	if canonical == "" || len(keywords) == 0 {
		return NormalizedQuery{}, false
	}

	rawTokens := tokenSet(raw)
	grounded := 0
	for _, kw := range keywords {
		for _, tok := range tokenize(kw) {
			if rawTokens[tok] {
				grounded++
				break
			}
		}
	}
	if float64(grounded)/float64(len(keywords)) < minKeywordOverlap {
		return NormalizedQuery{}, false
	}

	return NormalizedQuery{CanonicalText: canonical, Keywords: keywords, DomainTag: domainTag}, true
}

// Fallback derives a NormalizedQuery heuristically: trimmed lowercased raw
// text as the canonical form, keywords from plain tokenization.
func Fallback(rawText, domainTag string) NormalizedQuery {
	raw := strings.TrimSpace(rawText)
	canonical := strings.ToLower(raw)

	seen := make(map[string]bool)
	var keywords []string
	for _, tok := range tokenize(canonical) {
		if stopwords[tok] || len(tok) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}

	return NormalizedQuery{CanonicalText: canonical, Keywords: keywords, DomainTag: domainTag}
}

func cleanKeywords(raw []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(text) {
		set[tok] = true
	}
	return set
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "has": true, "have": true, "how": true,
	"i": true, "if": true, "in": true, "is": true, "it": true, "its": true,
	"my": true, "of": true, "on": true, "or": true, "our": true, "should": true,
	"that": true, "the": true, "this": true, "to": true, "us": true, "we": true,
	"what": true, "which": true, "will": true, "with": true, "would": true,
	"you": true, "your": true,
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
