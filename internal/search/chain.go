package search

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/tracing"
)

type chainEntry struct {
	provider Provider
	timeout  time.Duration
}

// Chain tries providers in the priority order of the sources file. A
// provider is skipped on quota exhaustion, authentication failure, or
// timeout; no provider is tried more than once per invocation. Retries
// belong to the caller, not the chain.
type Chain struct {
	entries []chainEntry
	sources *config.SourcesStore
	logger  *zap.Logger
}

// NewChain builds the provider chain from the current sources
// configuration. The provider set and per-provider rate limits are fixed
// at construction; validation rules and scoring tables are read live on
// every search, so those follow hot reloads.
func NewChain(sources *config.SourcesStore, logger *zap.Logger) *Chain {
	c := &Chain{sources: sources, logger: logger}

	for _, src := range sources.Get().Providers {
		var p Provider
		switch src.Name {
		case "tavily":
			p = NewTavily(src, logger)
		case "brave":
			p = NewBrave(src, logger)
		case "duckduckgo":
			p = NewDuckDuckGo(src, logger)
		default:
			logger.Warn("Unknown search provider in sources file, skipping",
				zap.String("provider", src.Name))
			continue
		}
		c.entries = append(c.entries, chainEntry{provider: p, timeout: src.RequestTimeout()})
	}
	return c
}

// Providers returns the chain's provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.provider.Name())
	}
	return names
}

// Search runs the chain for one query. On success the returned items are
// deduplicated, boosted, and sorted by descending score. When every
// provider fails the error is an *ExhaustedError naming each attempt; a
// result set that merely failed the quality gate is still used as a last
// resort before giving up.
func (c *Chain) Search(ctx context.Context, query string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "search.chain")
	defer span.End()

	cfg := c.sources.Get()
	var attempts []Attempt
	var lowQuality *Result

	for _, entry := range c.entries {
		name := entry.provider.Name()
		start := time.Now()

		pctx, cancel := context.WithTimeout(ctx, entry.timeout)
		items, err := entry.provider.Search(pctx, query)
		cancel()
		elapsed := time.Since(start).Seconds()

		if err != nil {
			reason := reasonOf(err)
			metrics.RecordProviderRequest(name, reason, elapsed)
			attempts = append(attempts, Attempt{Provider: name, Reason: reason})
			c.logger.Warn("Search provider failed, trying next",
				zap.String("provider", name),
				zap.String("reason", reason),
				zap.Error(err),
			)
			continue
		}
		if len(items) == 0 {
			metrics.RecordProviderRequest(name, ReasonEmpty, elapsed)
			attempts = append(attempts, Attempt{Provider: name, Reason: ReasonEmpty})
			continue
		}

		if !validateItems(items, query, cfg.Validation) {
			metrics.RecordProviderRequest(name, ReasonLowQuality, elapsed)
			attempts = append(attempts, Attempt{Provider: name, Reason: ReasonLowQuality})
			if lowQuality == nil {
				lowQuality = &Result{Items: rankItems(items, cfg), ProviderUsed: name}
			}
			continue
		}

		metrics.RecordProviderRequest(name, "success", elapsed)
		span.SetAttributes(attribute.String("search.provider", name))
		c.logger.Debug("Search completed",
			zap.String("provider", name),
			zap.Int("results", len(items)),
		)
		return &Result{Items: rankItems(items, cfg), ProviderUsed: name}, nil
	}

	if lowQuality != nil {
		span.SetAttributes(attribute.String("search.provider", lowQuality.ProviderUsed))
		c.logger.Warn("No provider passed the quality gate, using unvalidated results",
			zap.String("provider", lowQuality.ProviderUsed),
			zap.Int("results", len(lowQuality.Items)),
		)
		return lowQuality, nil
	}

	metrics.SearchChainExhausted.Inc()
	return nil, &ExhaustedError{Attempts: attempts}
}
