package research

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/llm"
	"github.com/recaplabs/recap/internal/tracing"
)

const maxSubQuestions = 5

const briefSystemPrompt = `You plan research for questions about AI developer tooling.

Given a question, produce a one-paragraph research brief restating what must
be found out, and split the work into focused sub-questions that can each be
answered by a handful of web searches. Every sub-question names its subject
explicitly. Use one sub-question for a simple lookup and at most five for
broad comparisons.

Respond with JSON: {"research_brief": "...", "sub_questions": ["...", "..."]}`

type llmBrief struct {
	ResearchBrief string   `json:"research_brief"`
	SubQuestions  []string `json:"sub_questions"`
}

// brief produces the research plan. The language model proposes the brief
// and sub-questions; a parseable but empty plan falls back to the whole
// query as one sub-question, while a failed call (after the JSON retry)
// fails the run.
func (o *Orchestrator) brief(ctx context.Context, st *runState) error {
	ctx, span := tracing.StartSpan(ctx, "research.brief")
	defer span.End()

	user := fmt.Sprintf("Domain: %s\nQuestion: %s\nKeywords: %s",
		st.query.DomainTag,
		st.query.CanonicalText,
		strings.Join(st.query.Keywords, ", "),
	)

	var out llmBrief
	if err := llm.CompleteJSON(ctx, o.deps.Completer, "brief", briefSystemPrompt, user, &out); err != nil {
		o.logger.Error("Brief generation failed",
			zap.String("query", truncate(st.query.CanonicalText, 80)),
			zap.Error(err),
		)
		return err
	}

	st.brief = strings.TrimSpace(out.ResearchBrief)
	if st.brief == "" {
		st.brief = st.query.CanonicalText
	}

	for _, sq := range out.SubQuestions {
		sq = strings.TrimSpace(sq)
		if sq == "" {
			continue
		}
		st.subQuestions = append(st.subQuestions, sq)
		if len(st.subQuestions) == maxSubQuestions {
			break
		}
	}
	if len(st.subQuestions) == 0 {
		st.subQuestions = []string{st.query.CanonicalText}
	}

	span.SetAttributes(attribute.Int("research.sub_questions", len(st.subQuestions)))
	o.logger.Debug("Research brief ready",
		zap.Int("sub_questions", len(st.subQuestions)),
		zap.String("brief", truncate(st.brief, 120)),
	)
	return nil
}
