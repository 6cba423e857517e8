package research

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/llm"
	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/search"
	"github.com/recaplabs/recap/internal/tracing"
)

// Fact-tier search ahead of a web dispatch runs with a relaxed threshold:
// reusing a slightly-off stored fact beats paying for a provider call.
const (
	unitSearchLimit     = 5
	unitSearchThreshold = 0.65
)

// unit tracks one sub-question across supervise rounds. Findings
// accumulate for the life of the run; the tool-call budget resets on every
// dispatch.
type unit struct {
	subQuestion string
	satisfied   bool
	toolCalls   int
	findings    []Finding
	status      string
}

// supervise runs up to MaxIterations rounds. Each round checks the fact
// tier for every open sub-question, dispatches the still-unsatisfied ones
// as parallel units under the concurrency cap, and banks whatever the
// units bring back. Satisfied sub-questions are never dispatched.
func (o *Orchestrator) supervise(ctx context.Context, st *runState) {
	ctx, span := tracing.StartSpan(ctx, "research.supervise")
	defer span.End()

	units := make([]*unit, 0, len(st.subQuestions))
	for _, sq := range st.subQuestions {
		units = append(units, &unit{subQuestion: sq})
	}

	for round := 1; round <= o.cfg.MaxIterations; round++ {
		if ctx.Err() != nil {
			return
		}
		pending := o.checkFactTier(ctx, st, units)
		if len(pending) == 0 {
			break
		}

		o.logger.Debug("Dispatching research units",
			zap.Int("round", round),
			zap.Int("pending", len(pending)),
		)
		o.runRound(ctx, st, pending)
	}

	span.SetAttributes(
		attribute.Int("research.sub_questions", len(units)),
		attribute.Int("research.findings", len(st.findings)),
	)
}

// checkFactTier marks sub-questions the fact tier already answers and
// returns the rest. Enough fresh stored facts make a web dispatch
// unnecessary.
func (o *Orchestrator) checkFactTier(ctx context.Context, st *runState, units []*unit) []*unit {
	var pending []*unit
	for _, u := range units {
		if u.satisfied {
			continue
		}
		records, err := o.deps.Facts.SearchFacts(ctx, u.subQuestion, unitSearchLimit, unitSearchThreshold)
		if err != nil {
			o.logger.Debug("Fact tier search failed, dispatching unit",
				zap.String("sub_question", truncate(u.subQuestion, 60)),
				zap.Error(err),
			)
		}
		for _, r := range records {
			st.addFinding(recordFinding(r))
		}
		if len(records) >= o.cfg.MinFactsSufficient {
			u.satisfied = true
			o.logger.Debug("Sub-question satisfied from fact tier",
				zap.String("sub_question", truncate(u.subQuestion, 60)),
				zap.Int("facts", len(records)),
			)
			continue
		}
		pending = append(pending, u)
	}
	return pending
}

// runRound executes pending units in parallel, at most MaxConcurrentUnits
// at a time. Results arrive over a buffered channel, so abandoning the
// round on cancellation never strands a unit goroutine.
func (o *Orchestrator) runRound(ctx context.Context, st *runState, pending []*unit) {
	sem := make(chan struct{}, o.cfg.MaxConcurrentUnits)
	results := make(chan *unit, len(pending))
	launched := 0

acquire:
	for _, u := range pending {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break acquire
		}
		launched++
		go func(u *unit) {
			defer func() { <-sem }()
			metrics.ResearchActiveUnits.Inc()
			defer metrics.ResearchActiveUnits.Dec()

			unitCtx, cancel := context.WithTimeout(ctx, o.cfg.UnitTimeout)
			defer cancel()
			o.runUnit(unitCtx, u)
			results <- u
		}(u)
	}

	for collected := 0; collected < launched; collected++ {
		select {
		case u := <-results:
			for _, f := range u.findings {
				st.addFinding(f)
			}
			metrics.ResearchUnits.WithLabelValues(u.status).Inc()
		case <-ctx.Done():
			return
		}
	}
}

// runUnit is one research unit: up to MaxToolCallsPerUnit provider-chain
// searches for a single sub-question, each followed by fact extraction and
// a fact-tier append. Between searches the model may refine the query or
// declare the sub-question answered. Failures never escalate: a unit that
// cannot gather anything reports empty and the round goes on.
func (o *Orchestrator) runUnit(ctx context.Context, u *unit) {
	ctx, span := tracing.StartSpan(ctx, "research.unit")
	defer span.End()

	u.status = "empty"
	u.toolCalls = 0
	query := u.subQuestion

	for u.toolCalls < o.cfg.MaxToolCallsPerUnit {
		u.toolCalls++

		result, err := o.deps.Chain.Search(ctx, query)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				u.status = "timeout"
				o.logger.Warn("Research unit timed out",
					zap.String("sub_question", truncate(u.subQuestion, 60)),
					zap.Int("findings", len(u.findings)),
				)
			case search.IsExhausted(err):
				// The sub-question proceeds with whatever it has; the
				// chain error already names every provider and reason.
				o.logger.Warn("Search providers exhausted for research unit",
					zap.String("sub_question", truncate(u.subQuestion, 60)),
					zap.Error(err),
				)
			default:
				o.logger.Warn("Research unit search failed",
					zap.String("sub_question", truncate(u.subQuestion, 60)),
					zap.Error(err),
				)
			}
			break
		}

		inputs, err := o.deps.Extractor.Extract(ctx, result, u.subQuestion)
		if err != nil {
			o.logger.Warn("Fact extraction failed, continuing unit",
				zap.String("provider", result.ProviderUsed),
				zap.Error(err),
			)
		}
		if len(inputs) > 0 {
			if _, err := o.deps.Facts.AddFacts(ctx, inputs, o.cacheCfg.FactTTLDays); err != nil {
				// The findings still feed this run's report; only
				// persistence for later runs was lost.
				o.logger.Warn("Failed to persist extracted facts", zap.Error(err))
			}
			for _, in := range inputs {
				u.findings = append(u.findings, inputFinding(in))
			}
		}

		if len(u.findings) >= o.cfg.MinFactsSufficient {
			u.satisfied = true
			u.status = "satisfied"
			break
		}

		next, done := o.refineQuery(ctx, u, query)
		if done || next == "" {
			break
		}
		query = next
	}

	if u.status == "empty" && len(u.findings) > 0 {
		u.status = "partial"
	}
	span.SetAttributes(
		attribute.Int("research.tool_calls", u.toolCalls),
		attribute.Int("research.unit_findings", len(u.findings)),
	)
}

const refineSystemPrompt = `You steer an iterative web search for one research sub-question.

Given the sub-question, the facts gathered so far, and the last search
query, decide whether another search would add anything. If it would,
propose the next query: more specific than the last one, never a repeat.

Respond with JSON: {"next_query": "...", "done": false}. Set done to true
when the gathered facts already answer the sub-question or when further
searching looks futile.`

type llmRefinement struct {
	NextQuery string `json:"next_query"`
	Done      bool   `json:"done"`
}

// refineQuery asks the model for the next search query. Any failure ends
// the loop: a unit never spends tool calls on guesswork.
func (o *Orchestrator) refineQuery(ctx context.Context, u *unit, lastQuery string) (string, bool) {
	var sb strings.Builder
	sb.WriteString("Sub-question: " + u.subQuestion + "\n")
	sb.WriteString("Last query: " + lastQuery + "\n\nFacts so far:\n")
	if len(u.findings) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, f := range u.findings {
		sb.WriteString("- " + truncate(f.Text, 200) + "\n")
	}

	var out llmRefinement
	if err := llm.CompleteJSON(ctx, o.deps.Completer, "refine", refineSystemPrompt, sb.String(), &out); err != nil {
		o.logger.Debug("Query refinement failed, ending unit", zap.Error(err))
		return "", true
	}

	next := strings.TrimSpace(out.NextQuery)
	if strings.EqualFold(next, lastQuery) {
		return "", true
	}
	return next, out.Done
}
