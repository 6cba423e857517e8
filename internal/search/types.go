// Package search implements the web search provider chain: an ordered set
// of backends tried in priority order, where a provider signalling quota
// exhaustion, an authentication problem, or a timeout is skipped in favor
// of the next one. Results are scored, with official vendor domains and
// pricing mentions boosted, before they reach the fact extractor.
package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Item is one web search result.
type Item struct {
	Title    string
	URL      string
	Snippet  string
	Score    float64
	Official bool
}

// Result is a completed chain invocation: the ranked items plus which
// provider produced them.
type Result struct {
	Items        []Item
	ProviderUsed string
}

// Provider is one web-search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Item, error)
}

// Failure reasons attached to provider attempts.
const (
	ReasonQuota      = "quota"
	ReasonAuth       = "auth"
	ReasonTimeout    = "timeout"
	ReasonEmpty      = "empty"
	ReasonLowQuality = "low_quality"
	ReasonError      = "error"
)

// ProviderError wraps a single provider failure with its skip reason.
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Attempt records one provider try within a chain invocation.
type Attempt struct {
	Provider string
	Reason   string
}

// ExhaustedError is returned when every provider in the chain failed. It
// names each attempted provider and why it was skipped.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.Provider, a.Reason))
	}
	return "all search providers failed: " + strings.Join(parts, ", ")
}

// IsExhausted reports whether err is a whole-chain failure.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// reasonOf classifies an error from a provider attempt.
func reasonOf(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ReasonTimeout
	}
	return ReasonError
}
