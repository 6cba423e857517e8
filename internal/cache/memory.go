package cache

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	maxFallbackAnswers = 4096
	maxFallbackFacts   = 512
)

// memoryAnswers is the in-process substitute for the final-answer tier,
// used while Redis is unreachable. Same TTL semantics, no durability.
type memoryAnswers struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

func newMemoryAnswers() *memoryAnswers {
	return &memoryAnswers{entries: make(map[string]CacheEntry)}
}

func (m *memoryAnswers) get(key string, now time.Time) (*CacheEntry, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.Expired(now) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return &entry, true
}

func (m *memoryAnswers) put(key string, entry CacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= maxFallbackAnswers {
		m.sweepLocked(time.Now())
	}
	if len(m.entries) >= maxFallbackAnswers {
		m.evictOldestLocked()
	}
	m.entries[key] = entry
}

func (m *memoryAnswers) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
		}
	}
}

func (m *memoryAnswers) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range m.entries {
		if oldestKey == "" || e.CreatedAt.Before(oldest) {
			oldestKey, oldest = k, e.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

func (m *memoryAnswers) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// memoryFacts is the in-process substitute for the fact tier: a bounded
// FIFO of records searched by brute-force cosine similarity.
type memoryFacts struct {
	mu      sync.RWMutex
	records []FactRecord
}

func newMemoryFacts() *memoryFacts {
	return &memoryFacts{}
}

func (m *memoryFacts) add(records []FactRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, records...)
	if over := len(m.records) - maxFallbackFacts; over > 0 {
		m.records = m.records[over:]
	}
}

func (m *memoryFacts) search(vector []float32, limit int, threshold float64, now time.Time) []FactRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []FactRecord
	for _, rec := range m.records {
		if now.After(rec.ExpiresAt) {
			continue
		}
		score := cosineSimilarity(vector, rec.Embedding)
		if score < threshold {
			continue
		}
		rec.Score = score
		hits = append(hits, rec)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (m *memoryFacts) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	removed := 0
	for _, rec := range m.records {
		if now.After(rec.ExpiresAt) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept
	return removed
}

func (m *memoryFacts) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
