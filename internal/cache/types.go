// Package cache implements the tiered result store: a Redis-backed
// final-answer tier with a 7-day TTL, a Qdrant-backed fact tier with
// similarity search and a 30-day TTL, and a semantic query map that lets
// differently phrased repeat questions reuse an existing answer key. The
// cache is the sole writer of persisted entries; other components only
// propose content.
package cache

import "time"

// CacheEntry is one stored final answer, keyed by (domainTag, cacheKey).
// Overwritten on every successful report generation; treated as absent
// once ExpiresAt passes even if the backing store has not evicted it yet.
type CacheEntry struct {
	Key       string    `json:"key"`
	DomainTag string    `json:"domain_tag"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry must be treated as absent.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// FactInput is a fact proposed for storage, produced by the fact
// extractor. Embedding may be left nil; AddFacts embeds the text then.
type FactInput struct {
	Text             string
	SourceURL        string
	SourceProvider   string
	Confidence       float64
	IsOfficialSource bool
	OriginQuery      string
	Embedding        []float32
}

// FactRecord is a stored fact. Append-only: never mutated after creation,
// ignored and eventually deleted once ExpiresAt passes. Score carries the
// similarity of the record to the query that retrieved it.
type FactRecord struct {
	ID               string
	Text             string
	SourceURL        string
	SourceProvider   string
	Confidence       float64
	IsOfficialSource bool
	CreatedAt        time.Time
	ExpiresAt        time.Time
	OriginQuery      string
	Embedding        []float32
	Score            float64
}
