// Package classify labels a research query's intent so the report step can
// pick an appropriate shape: a recommendation list reads differently from a
// setup guide. Classification is pure apart from the model call and always
// yields one of the five labels.
package classify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/llm"
)

// Label is a query intent category.
type Label string

const (
	LabelDecision    Label = "decision"
	LabelComparison  Label = "comparison"
	LabelExplanation Label = "explanation"
	LabelInformation Label = "information"
	LabelGuide       Label = "guide"
)

// minLabelConfidence is the model certainty below which the label is
// discarded in favor of the information default.
const minLabelConfidence = 0.5

const maxFactSummaries = 5

// Valid reports whether l is one of the five known labels.
func (l Label) Valid() bool {
	switch l {
	case LabelDecision, LabelComparison, LabelExplanation, LabelInformation, LabelGuide:
		return true
	}
	return false
}

// ParseLabel normalizes a raw model answer into a Label. Anything
// unrecognized becomes LabelInformation.
func ParseLabel(raw string) Label {
	l := Label(strings.ToLower(strings.TrimSpace(raw)))
	if !l.Valid() {
		return LabelInformation
	}
	return l
}

const classifySystemPrompt = `You label the intent of a research question about AI developer tooling with exactly one of five labels:

- "decision": the user wants a choice made for them (pick one, recommend, should we adopt X).
- "comparison": the user wants options weighed against each other (X vs Y, which is better, differences).
- "explanation": the user wants to understand why something is the case or how something works.
- "information": the user wants specific facts (price, features, limits, availability).
- "guide": the user wants practical steps (setup, configuration, how to use, migration, caveats).

When phrases like "set up", "configure", "how to", "getting started", or "step by step" appear, prefer "guide".

Respond with JSON: {"label": "...", "confidence": 0.9} where confidence is your certainty from 0 to 1.`

type llmClassification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier labels research briefs.
type Classifier struct {
	completer llm.Completer
	sources   *config.SourcesStore
	logger    *zap.Logger
}

func New(completer llm.Completer, sources *config.SourcesStore, logger *zap.Logger) *Classifier {
	return &Classifier{completer: completer, sources: sources, logger: logger}
}

// Classify labels the brief's intent. It cannot fail: a model error, an
// unknown label, or low confidence degrades to the keyword heuristic and
// finally to LabelInformation.
func (c *Classifier) Classify(ctx context.Context, brief string, factSummaries []string) Label {
	var out llmClassification
	err := llm.CompleteJSON(ctx, c.completer, "classify", classifySystemPrompt,
		classifyUserPrompt(brief, factSummaries), &out)
	if err == nil {
		label := Label(strings.ToLower(strings.TrimSpace(out.Label)))
		if label.Valid() {
			if out.Confidence < minLabelConfidence {
				c.logger.Debug("Classification confidence below threshold, defaulting",
					zap.String("label", string(label)),
					zap.Float64("confidence", out.Confidence),
				)
				return LabelInformation
			}
			return label
		}
		err = fmt.Errorf("unknown label %q", out.Label)
	}

	fallback := heuristicLabel(brief)
	c.logger.Warn("Intent classification degraded, using keyword heuristic",
		zap.Error(err),
		zap.String("label", string(fallback)),
	)
	return fallback
}

func classifyUserPrompt(brief string, factSummaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research brief: %s\n", brief)
	if len(factSummaries) > 0 {
		b.WriteString("\nKnown facts:\n")
		for i, s := range factSummaries {
			if i == maxFactSummaries {
				break
			}
			fmt.Fprintf(&b, "- %s\n", truncate(s, 200))
		}
	}
	return b.String()
}

// Cue tables for the heuristic fallback, checked in order: a how-to reading
// beats a comparative one, and an explicit comparison beats a bare "which".
var (
	guideCues = []string{
		"how to", "how do i", "how do we", "set up", "setup", "configure",
		"install", "getting started", "step by step", "tutorial", "guide",
		"migrate", "migration",
	}
	comparisonCues = []string{
		" vs ", " vs. ", "versus", "compare", "comparison", "difference between",
		"better than", "differences",
	}
	decisionCues = []string{
		"which should", "should we use", "should we adopt", "should i use",
		"recommend", "best choice", "pick one", "choose", "which one",
		"which tool",
	}
	explanationCues = []string{
		"why ", "why?", "explain", "how does", "how come", "what causes",
		"reason",
	}
)

// heuristicLabel classifies without a model, from intent cue phrases.
func heuristicLabel(brief string) Label {
	lower := strings.ToLower(brief)
	switch {
	case containsAny(lower, guideCues):
		return LabelGuide
	case containsAny(lower, comparisonCues):
		return LabelComparison
	case containsAny(lower, decisionCues):
		return LabelDecision
	case containsAny(lower, explanationCues):
		return LabelExplanation
	default:
		return LabelInformation
	}
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}

// Emphasis scores the brief against the category keyword tables and returns
// the matching categories ordered by weighted score, strongest first. The
// report step uses the top categories as section emphasis hints.
func (c *Classifier) Emphasis(brief string) []string {
	cfg := c.sources.Get()
	lower := strings.ToLower(brief)

	type scored struct {
		category string
		score    float64
	}
	var matches []scored
	for category, keywords := range cfg.CategoryKeywords {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		weight := cfg.CategoryWeights[category]
		if weight == 0 {
			weight = 0.1
		}
		matches = append(matches, scored{category: category, score: weight * float64(hits)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].category < matches[j].category
	})

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.category)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
