package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/classify"
	"github.com/recaplabs/recap/internal/tracing"
)

const reportSystemPrompt = `You write the final answer for a researched question about AI developer tooling.

Ground every statement in the facts provided; never invent specifics. Name
the source domain inline when a fact is load-bearing, like (cursor.com).
Prefer facts from official sources when they conflict, and flag stale facts
as possibly outdated. Plain text with short markdown headings and lists
where they help; no code fences.

%s`

// reportShapes tells the writer how to lay the answer out for each
// decision label.
var reportShapes = map[classify.Label]string{
	classify.LabelDecision: `Shape: a recommendation. Open with the single recommended choice and the
one-sentence reason. Follow with the rationale, the strongest alternative
and when it wins, and any caveats such as pricing, security, or lock-in.`,

	classify.LabelComparison: `Shape: a comparison. Open with the verdict in one sentence. Follow with
the concrete differences (pricing, features, integrations, limits), then
when to pick each option.`,

	classify.LabelExplanation: `Shape: an explanation. Open with the direct answer, then how it works and
the context needed to understand it. Keep it concrete.`,

	classify.LabelInformation: `Shape: a factual summary. Open with the direct answer, then the
supporting details grouped by topic. Flag anything time-sensitive such as
prices or version numbers.`,

	classify.LabelGuide: `Shape: a how-to guide. Open with what the reader will have at the end,
then prerequisites, numbered steps, and how to verify it worked. Mention
common pitfalls last.`,
}

// report produces the answer text and always offers it to the answer tier;
// the store's own length gate keeps degenerate answers out. Full reports
// additionally record the raw-query mapping so reworded repeats hit the
// cache. The returned flag is false on the degraded path.
func (o *Orchestrator) report(ctx context.Context, st *runState, domainTag string) (string, bool) {
	ctx, span := tracing.StartSpan(ctx, "research.report")
	defer span.End()

	if len(st.findings) == 0 {
		o.logger.Warn("No facts gathered, producing insufficient-information answer",
			zap.String("domain", domainTag),
			zap.String("query", truncate(st.query.CanonicalText, 80)),
		)
		answer := o.insufficientAnswer(st)
		o.deps.Answers.PutFinalAnswer(ctx, st.cacheKey, domainTag, answer)
		return answer, false
	}

	text, err := o.generateReport(ctx, st)
	if err != nil {
		o.logger.Warn("Report generation failed, producing insufficient-information answer",
			zap.Error(err),
		)
		answer := o.insufficientAnswer(st)
		o.deps.Answers.PutFinalAnswer(ctx, st.cacheKey, domainTag, answer)
		return answer, false
	}

	text = strings.TrimSpace(stripFences(text))
	if len(text) < o.cfg.MinReportLength {
		o.logger.Warn("Report below minimum length, producing insufficient-information answer",
			zap.Int("length", len(text)),
			zap.Int("min_length", o.cfg.MinReportLength),
		)
		answer := o.insufficientAnswer(st)
		o.deps.Answers.PutFinalAnswer(ctx, st.cacheKey, domainTag, answer)
		return answer, false
	}

	o.deps.Answers.PutFinalAnswer(ctx, st.cacheKey, domainTag, text)
	if o.deps.QueryMap != nil {
		if err := o.deps.QueryMap.Add(ctx, st.rawQuery, st.query.CanonicalText, domainTag, st.cacheKey); err != nil {
			o.logger.Debug("Failed to record query mapping", zap.Error(err))
		}
	}
	return text, true
}

func (o *Orchestrator) generateReport(ctx context.Context, st *runState) (string, error) {
	shape, ok := reportShapes[st.label]
	if !ok {
		shape = reportShapes[classify.LabelInformation]
	}
	system := fmt.Sprintf(reportSystemPrompt, shape)

	var sb strings.Builder
	sb.WriteString("Question: " + st.query.CanonicalText + "\n")
	sb.WriteString("Research brief: " + st.brief + "\n")
	if hints := o.deps.Classifier.Emphasis(st.brief); len(hints) > 0 {
		sb.WriteString("Weight these aspects in order: " + strings.Join(hints, ", ") + "\n")
	}
	sb.WriteString("\nFacts:\n")
	for _, f := range st.findings {
		sb.WriteString(formatFinding(f))
	}

	return o.deps.Completer.Complete(ctx, "report", system, sb.String())
}

// formatFinding renders one fact line for the report prompt with its
// provenance: confidence, source class, provider, and age.
func formatFinding(f Finding) string {
	age := "fresh"
	if !f.Fresh {
		age = fmt.Sprintf("%dd old", f.AgeDays)
	}
	src := "unofficial"
	if f.Official {
		src = "official"
	}
	return fmt.Sprintf("- [%.2f, %s, %s, %s] %s (%s)\n",
		f.Confidence, src, f.Provider, age, f.Text, f.SourceURL)
}

// insufficientAnswer is the best-effort reply when research produced
// nothing usable. Kept short on purpose: it stays under the answer tier's
// minimum body length, so a bad day for the providers is never cached for
// a week.
func (o *Orchestrator) insufficientAnswer(st *runState) string {
	subject := strings.TrimSpace(st.query.CanonicalText)
	if subject == "" {
		subject = strings.TrimSpace(st.rawQuery)
	}
	return fmt.Sprintf(
		"Not enough verified information was found about %q to answer reliably. "+
			"Try rephrasing the question or naming the exact tool.",
		truncate(subject, 48),
	)
}

// stripFences removes a wrapping markdown code fence. Models occasionally
// fence whole reports despite instructions.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.Index(t, "\n"); i >= 0 {
		t = t[i+1:]
	} else {
		t = ""
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
