// Package resolver exposes the pipeline's one public operation: Resolve a
// raw question into final answer text. It owns the outer deadline and the
// error policy; a caller sees an answer, its own context error, or the
// single could-not-complete-research failure, never a raw provider or
// store error.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/research"
	"github.com/recaplabs/recap/internal/tracing"
)

// DefaultDomain partitions queries that arrive without a domain tag.
const DefaultDomain = "general"

var (
	// ErrEmptyQuery rejects blank input before the pipeline spends
	// anything on it.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrResearchFailed is the only pipeline failure a caller sees.
	ErrResearchFailed = errors.New("could not complete research")
)

// Runner is the orchestration capability behind Resolve.
type Runner interface {
	Run(ctx context.Context, rawQuery, domainTag string) (*research.Outcome, error)
}

// Resolver wraps the research orchestrator with the request-level timeout,
// input hygiene, and resolve metrics.
type Resolver struct {
	runner  Runner
	timeout time.Duration
	logger  *zap.Logger
}

func New(runner Runner, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{runner: runner, timeout: timeout, logger: logger}
}

// Resolve answers rawQuery within domainTag. Synchronous: it returns only
// when the answer is ready or the run is abandoned.
func (r *Resolver) Resolve(ctx context.Context, rawQuery, domainTag string) (string, error) {
	start := time.Now()

	domainTag = strings.TrimSpace(domainTag)
	if domainTag == "" {
		domainTag = DefaultDomain
	}
	metrics.ResolvesStarted.WithLabelValues(domainTag).Inc()

	ctx, span := tracing.StartSpan(ctx, "resolver.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("resolve.domain", domainTag))

	rawQuery = strings.TrimSpace(rawQuery)
	if rawQuery == "" {
		metrics.RecordResolve(domainTag, "invalid", time.Since(start).Seconds())
		return "", ErrEmptyQuery
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.runner.Run(ctx, rawQuery, domainTag)
	switch {
	case err == nil:

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		r.logger.Warn("Resolve abandoned",
			zap.String("domain", domainTag),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		metrics.RecordResolve(domainTag, "timeout", time.Since(start).Seconds())
		return "", err

	case errors.Is(err, research.ErrBriefFailed):
		r.logger.Error("Resolve failed at brief generation",
			zap.String("domain", domainTag),
			zap.Error(err),
		)
		metrics.RecordResolve(domainTag, "failed", time.Since(start).Seconds())
		return "", ErrResearchFailed

	default:
		// Nothing else is supposed to escape the orchestrator; collapse
		// it to the one user-visible failure anyway.
		r.logger.Error("Resolve failed unexpectedly",
			zap.String("domain", domainTag),
			zap.Error(err),
		)
		metrics.RecordResolve(domainTag, "failed", time.Since(start).Seconds())
		return "", ErrResearchFailed
	}

	outcome := "researched"
	if out.FromCache {
		outcome = "cache_hit"
	}
	span.SetAttributes(
		attribute.String("resolve.outcome", outcome),
		attribute.String("resolve.label", string(out.Label)),
	)
	metrics.RecordResolve(domainTag, outcome, time.Since(start).Seconds())

	return out.Answer, nil
}
