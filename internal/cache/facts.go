package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/embeddings"
	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/vectorstore"
)

// FactStoreConfig carries the fact-tier knobs.
type FactStoreConfig struct {
	Collection     string
	EmbeddingModel string
	Dimension      int
	TTLDays        int
	ScoreThreshold float64
	SearchLimit    int
}

// FactStore is the fact tier: atomic statements with provenance, stored
// as embedded points in Qdrant and retrieved by cosine similarity.
// Append-only; records past their TTL are filtered out of every search
// and removed by CleanupExpired. While Qdrant is unreachable the store
// falls back to a bounded in-process record set searched by brute force,
// so research keeps working without durability.
type FactStore struct {
	store      vectorstore.Store
	embedder   embeddings.Embedder
	fallback   *memoryFacts
	collection string
	model      string
	dimension  int
	ttlDays    int
	threshold  float64
	limit      int
	degraded   atomic.Bool
	logger     *zap.Logger
}

func NewFactStore(store vectorstore.Store, embedder embeddings.Embedder, cfg FactStoreConfig, logger *zap.Logger) *FactStore {
	if cfg.TTLDays <= 0 {
		cfg.TTLDays = 30
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.75
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 10
	}
	return &FactStore{
		store:      store,
		embedder:   embedder,
		fallback:   newMemoryFacts(),
		collection: cfg.Collection,
		model:      cfg.EmbeddingModel,
		dimension:  cfg.Dimension,
		ttlDays:    cfg.TTLDays,
		threshold:  cfg.ScoreThreshold,
		limit:      cfg.SearchLimit,
		logger:     logger,
	}
}

// Init creates the backing collection when missing.
func (s *FactStore) Init(ctx context.Context) error {
	return s.store.EnsureCollection(ctx, s.collection, s.dimension)
}

// factID derives a deterministic point ID so the identical statement from
// the identical source upserts in place instead of accumulating copies.
// Near-identical statements still duplicate; that is accepted.
func factID(text, sourceURL string) string {
	return uuid.NewMD5(uuid.NameSpaceURL, []byte(text+":"+sourceURL)).String()
}

// AddFacts embeds any input without a vector, stamps creation and expiry
// times, and appends the records. ttlDays <= 0 uses the configured
// default. Returns how many records were stored.
func (s *FactStore) AddFacts(ctx context.Context, inputs []FactInput, ttlDays int) (int, error) {
	if ttlDays <= 0 {
		ttlDays = s.ttlDays
	}

	var kept []FactInput
	var missing []string
	var missingIdx []int
	for _, in := range inputs {
		if in.Text == "" {
			continue
		}
		if len(in.Embedding) == 0 {
			missing = append(missing, in.Text)
			missingIdx = append(missingIdx, len(kept))
		}
		kept = append(kept, in)
	}
	if len(kept) == 0 {
		return 0, nil
	}

	if len(missing) > 0 {
		vectors, err := s.embedder.GenerateBatchEmbeddings(ctx, missing, s.model)
		if err != nil {
			return 0, fmt.Errorf("embed facts: %w", err)
		}
		for i, idx := range missingIdx {
			kept[idx].Embedding = vectors[i]
		}
	}

	now := time.Now()
	expires := now.Add(time.Duration(ttlDays) * 24 * time.Hour)
	points := make([]vectorstore.Point, 0, len(kept))
	records := make([]FactRecord, 0, len(kept))
	for _, in := range kept {
		id := factID(in.Text, in.SourceURL)
		points = append(points, vectorstore.Point{
			ID:     id,
			Vector: in.Embedding,
			Payload: map[string]interface{}{
				"text":            in.Text,
				"source_url":      in.SourceURL,
				"source_provider": in.SourceProvider,
				"confidence":      in.Confidence,
				"is_official":     in.IsOfficialSource,
				"origin_query":    in.OriginQuery,
				"created_at":      now.Unix(),
				"expires_at":      expires.Unix(),
			},
		})
		records = append(records, FactRecord{
			ID:               id,
			Text:             in.Text,
			SourceURL:        in.SourceURL,
			SourceProvider:   in.SourceProvider,
			Confidence:       in.Confidence,
			IsOfficialSource: in.IsOfficialSource,
			CreatedAt:        now,
			ExpiresAt:        expires,
			OriginQuery:      in.OriginQuery,
			Embedding:        in.Embedding,
		})
	}

	if err := s.store.Upsert(ctx, s.collection, points); err != nil {
		s.markDegraded(err)
		s.fallback.add(records)
		metrics.FactsAdded.Add(float64(len(records)))
		return len(records), nil
	}
	s.markHealthy()
	metrics.FactsAdded.Add(float64(len(records)))

	s.logger.Debug("Facts stored",
		zap.Int("count", len(records)),
		zap.Int("ttl_days", ttlDays),
	)
	return len(records), nil
}

// SearchFacts returns unexpired records at or above scoreThreshold,
// ordered by descending similarity and truncated to limit. Zero values
// for limit and scoreThreshold use the configured defaults.
func (s *FactStore) SearchFacts(ctx context.Context, query string, limit int, scoreThreshold float64) ([]FactRecord, error) {
	if limit <= 0 {
		limit = s.limit
	}
	if scoreThreshold <= 0 {
		scoreThreshold = s.threshold
	}

	vector, err := s.embedder.GenerateEmbedding(ctx, query, s.model)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	now := time.Now()
	filter := map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "expires_at", "range": map[string]interface{}{"gte": now.Unix()}},
		},
	}

	points, err := s.store.Search(ctx, s.collection, vector, limit, scoreThreshold, filter)
	if err != nil {
		s.markDegraded(err)
		return s.fallback.search(vector, limit, scoreThreshold, now), nil
	}
	s.markHealthy()

	records := make([]FactRecord, 0, len(points))
	for _, p := range points {
		rec := recordFromPoint(p)
		if now.After(rec.ExpiresAt) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// CleanupExpired deletes records whose expiry has passed. Meant for a
// periodic janitor; searches already ignore expired records.
func (s *FactStore) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now()
	filter := map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "expires_at", "range": map[string]interface{}{"lt": now.Unix()}},
		},
	}

	deleted := s.fallback.sweep(now)
	var offset interface{}
	for {
		points, next, err := s.store.Scroll(ctx, s.collection, filter, 256, offset)
		if err != nil {
			return deleted, fmt.Errorf("scroll expired facts: %w", err)
		}
		if len(points) == 0 {
			break
		}

		ids := make([]string, 0, len(points))
		for _, p := range points {
			ids = append(ids, p.ID)
		}
		if err := s.store.DeletePoints(ctx, s.collection, ids); err != nil {
			return deleted, fmt.Errorf("delete expired facts: %w", err)
		}
		deleted += len(ids)

		if next == nil {
			break
		}
		offset = next
	}

	if deleted > 0 {
		metrics.FactsExpiredDeleted.Add(float64(deleted))
		s.logger.Info("Expired facts deleted", zap.Int("count", deleted))
	}
	return deleted, nil
}

// CountExpired reports how many stored records are past expiry.
func (s *FactStore) CountExpired(ctx context.Context) (int, error) {
	filter := map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "expires_at", "range": map[string]interface{}{"lt": time.Now().Unix()}},
		},
	}
	return s.store.Count(ctx, s.collection, filter)
}

// Count reports the total number of stored records.
func (s *FactStore) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx, s.collection, nil)
}

// Healthy reports whether the backing store served the last operation.
func (s *FactStore) Healthy() bool {
	return !s.degraded.Load()
}

func (s *FactStore) markDegraded(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn("Fact store degraded to in-process store", zap.Error(err))
	}
	metrics.CacheDegraded.WithLabelValues("facts").Set(1)
}

func (s *FactStore) markHealthy() {
	if s.degraded.CompareAndSwap(true, false) {
		s.logger.Info("Fact store restored, vector store reachable again")
	}
	metrics.CacheDegraded.WithLabelValues("facts").Set(0)
}

func recordFromPoint(p vectorstore.ScoredPoint) FactRecord {
	return FactRecord{
		ID:               p.ID,
		Text:             p.PayloadString("text"),
		SourceURL:        p.PayloadString("source_url"),
		SourceProvider:   p.PayloadString("source_provider"),
		Confidence:       p.PayloadFloat("confidence"),
		IsOfficialSource: p.PayloadBool("is_official"),
		CreatedAt:        time.Unix(int64(p.PayloadFloat("created_at")), 0),
		ExpiresAt:        time.Unix(int64(p.PayloadFloat("expires_at")), 0),
		OriginQuery:      p.PayloadString("origin_query"),
		Score:            p.Score,
	}
}
