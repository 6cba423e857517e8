package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/circuitbreaker"
	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/metrics"
)

// AnswerStore is the final-answer tier. Entries live in Redis under
// {prefix}:{domain}:{key}; while Redis is unreachable (or its breaker is
// open) reads and writes transparently move to an in-process store with
// the same TTL semantics, surfaced through the degraded gauge rather than
// as a caller error.
type AnswerStore struct {
	redis    *circuitbreaker.RedisWrapper
	fallback *memoryAnswers
	prefix   string
	ttl      time.Duration
	minLen   int
	degraded atomic.Bool
	logger   *zap.Logger
}

func NewAnswerStore(redisCli *circuitbreaker.RedisWrapper, cfg config.CacheConfig, logger *zap.Logger) *AnswerStore {
	return &AnswerStore{
		redis:    redisCli,
		fallback: newMemoryAnswers(),
		prefix:   cfg.KeyPrefix,
		ttl:      cfg.AnswerTTL,
		minLen:   cfg.MinAnswerLength,
		logger:   logger,
	}
}

func (s *AnswerStore) redisKey(domain, cacheKey string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, domain, cacheKey)
}

// GetFinalAnswer returns the entry for (domain, cacheKey) or absent. The
// expiry check runs on read even though Redis expires natively, so an
// entry past ExpiresAt is never served.
func (s *AnswerStore) GetFinalAnswer(ctx context.Context, cacheKey, domain string) (*CacheEntry, bool) {
	key := s.redisKey(domain, cacheKey)
	now := time.Now()

	raw, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.markHealthy()
			metrics.AnswerCacheMisses.Inc()
			return nil, false
		}
		s.markDegraded(err)
		entry, ok := s.fallback.get(key, now)
		if ok {
			metrics.AnswerCacheHits.Inc()
		} else {
			metrics.AnswerCacheMisses.Inc()
		}
		return entry, ok
	}
	s.markHealthy()

	var entry CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		s.logger.Warn("Discarding unreadable answer cache entry",
			zap.String("key", key),
			zap.Error(err),
		)
		metrics.AnswerCacheMisses.Inc()
		return nil, false
	}
	if entry.Expired(now) {
		metrics.AnswerCacheMisses.Inc()
		return nil, false
	}

	metrics.AnswerCacheHits.Inc()
	return &entry, true
}

// PutFinalAnswer overwrites the entry for (domain, cacheKey) with
// ExpiresAt = now + TTL. Degenerate content below the minimum body length
// is rejected with a warning, never an error: a bad report must not take
// down the pipeline, it just goes uncached.
func (s *AnswerStore) PutFinalAnswer(ctx context.Context, cacheKey, domain, content string) {
	if len(content) < s.minLen {
		s.logger.Warn("Rejecting degenerate answer for caching",
			zap.String("domain", domain),
			zap.Int("length", len(content)),
			zap.Int("min_length", s.minLen),
		)
		metrics.AnswerCacheWrites.WithLabelValues("rejected").Inc()
		return
	}

	now := time.Now()
	entry := CacheEntry{
		Key:       cacheKey,
		DomainTag: domain,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	key := s.redisKey(domain, cacheKey)

	payload, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("Failed to encode answer cache entry", zap.Error(err))
		metrics.AnswerCacheWrites.WithLabelValues("error").Inc()
		return
	}

	if err := s.redis.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.markDegraded(err)
		s.fallback.put(key, entry)
		metrics.AnswerCacheWrites.WithLabelValues("fallback").Inc()
		return
	}
	s.markHealthy()
	metrics.AnswerCacheWrites.WithLabelValues("ok").Inc()

	s.logger.Debug("Final answer cached",
		zap.String("domain", domain),
		zap.String("cache_key", cacheKey[:min(8, len(cacheKey))]),
		zap.Int("length", len(content)),
	)
}

// Healthy reports whether the backing store served the last operation.
func (s *AnswerStore) Healthy() bool {
	return !s.degraded.Load()
}

func (s *AnswerStore) markDegraded(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn("Answer cache degraded to in-process store", zap.Error(err))
	}
	metrics.CacheDegraded.WithLabelValues("answers").Set(1)
}

func (s *AnswerStore) markHealthy() {
	if s.degraded.CompareAndSwap(true, false) {
		s.logger.Info("Answer cache restored, Redis reachable again")
	}
	metrics.CacheDegraded.WithLabelValues("answers").Set(0)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
