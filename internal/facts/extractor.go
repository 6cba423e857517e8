// Package facts converts web search results into atomic, provenance-tagged
// factual statements. A statement must stand on its own: it names its
// subject explicitly so it stays useful for future, differently phrased
// queries, and it carries the source URL, provider, a confidence score, and
// whether the source is an official vendor domain.
package facts

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/cache"
	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/llm"
	"github.com/recaplabs/recap/internal/search"
	"github.com/recaplabs/recap/internal/tracing"
)

// minStatementLen filters out fragments too short to be self-contained.
const minStatementLen = 10

// maxSnippetLen bounds how much of each search snippet enters the prompt.
const maxSnippetLen = 600

const extractSystemPrompt = `You extract atomic facts from web search results about AI developer tooling.

Rules:
1. Each fact is ONE self-contained statement that is understandable without the search results or the original question. Name the subject explicitly ("Cursor Pro costs $20 per month"), never "the tool" or "it".
2. Only state what a result actually says. Do not merge results and do not guess.
3. Prefer concrete facts: prices, plan names, usage limits, supported languages, integrations, security and data-retention policies, release dates.
4. confidence is your certainty that the statement is accurate as written, from 0 to 1. Exact figures from an official page warrant high confidence; vague blog claims do not.
5. A result with nothing factual in it yields no entries. That is expected.

Respond with JSON: {"facts": [{"statement": "...", "source_index": 1, "confidence": 0.9}]}
source_index is the number of the search result the statement came from.`

type llmExtraction struct {
	Facts []struct {
		Statement   string  `json:"statement"`
		SourceIndex int     `json:"source_index"`
		Confidence  float64 `json:"confidence"`
	} `json:"facts"`
}

// Extractor produces fact-tier inputs from ranked search results.
type Extractor struct {
	completer llm.Completer
	sources   *config.SourcesStore
	logger    *zap.Logger
}

func NewExtractor(completer llm.Completer, sources *config.SourcesStore, logger *zap.Logger) *Extractor {
	return &Extractor{completer: completer, sources: sources, logger: logger}
}

// Extract turns one chain result into zero or more fact inputs. Items that
// yield no extractable fact are dropped silently. An error means the whole
// extraction failed; the caller proceeds with zero new facts.
func (e *Extractor) Extract(ctx context.Context, result *search.Result, originQuery string) ([]cache.FactInput, error) {
	ctx, span := tracing.StartSpan(ctx, "facts.extract")
	defer span.End()

	if result == nil || len(result.Items) == 0 {
		return nil, nil
	}
	span.SetAttributes(attribute.Int("facts.input_items", len(result.Items)))

	var out llmExtraction
	err := llm.CompleteJSON(ctx, e.completer, "extract", extractSystemPrompt,
		extractUserPrompt(result.Items, originQuery), &out)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	cfg := e.sources.Get()
	inputs := make([]cache.FactInput, 0, len(out.Facts))
	for _, f := range out.Facts {
		statement := strings.TrimSpace(f.Statement)
		if len(statement) < minStatementLen {
			continue
		}

		idx := f.SourceIndex - 1
		if idx < 0 || idx >= len(result.Items) {
			e.logger.Debug("Dropping fact with out-of-range source index",
				zap.Int("source_index", f.SourceIndex),
				zap.String("statement", truncate(statement, 80)),
			)
			continue
		}
		item := result.Items[idx]

		inputs = append(inputs, cache.FactInput{
			Text:             statement,
			SourceURL:        item.URL,
			SourceProvider:   result.ProviderUsed,
			Confidence:       clampConfidence(f.Confidence),
			IsOfficialSource: item.Official || cfg.IsOfficialDomain(item.URL),
			OriginQuery:      originQuery,
		})
	}

	span.SetAttributes(attribute.Int("facts.extracted", len(inputs)))
	e.logger.Debug("Facts extracted",
		zap.Int("items", len(result.Items)),
		zap.Int("facts", len(inputs)),
		zap.String("provider", result.ProviderUsed),
	)
	return inputs, nil
}

func extractUserPrompt(items []search.Item, originQuery string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question being researched: %s\n\nSearch results:\n", originQuery)
	for i, item := range items {
		fmt.Fprintf(&b, "%d. Title: %s\n   URL: %s\n   Snippet: %s\n",
			i+1, item.Title, item.URL, truncate(item.Snippet, maxSnippetLen))
	}
	return b.String()
}

// clampConfidence forces the score into [0,1]. A missing or nonsensical
// value becomes the same neutral 0.5 baseline used for unscored search
// results.
func clampConfidence(c float64) float64 {
	switch {
	case c <= 0:
		return 0.5
	case c > 1:
		return 1.0
	default:
		return c
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
