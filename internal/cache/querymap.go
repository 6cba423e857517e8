package cache

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/embeddings"
	"github.com/recaplabs/recap/internal/vectorstore"
)

// QueryMapConfig carries the semantic query-map knobs.
type QueryMapConfig struct {
	Collection     string
	EmbeddingModel string
	Dimension      int
	ScoreThreshold float64
	TTL            time.Duration
}

// QueryMap recovers cache hits that exact-key lookup misses: every
// answered raw query is stored with its cache key, and a new query whose
// embedding lands close enough (>= ScoreThreshold) to a stored one reuses
// that key. Entries expire with the answers they point at, so the map
// never outlives its targets. Failures here only cost a shortcut, so
// every error degrades to a miss.
type QueryMap struct {
	store      vectorstore.Store
	embedder   embeddings.Embedder
	collection string
	model      string
	dimension  int
	threshold  float64
	ttl        time.Duration
	logger     *zap.Logger
}

func NewQueryMap(store vectorstore.Store, embedder embeddings.Embedder, cfg QueryMapConfig, logger *zap.Logger) *QueryMap {
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.85
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &QueryMap{
		store:      store,
		embedder:   embedder,
		collection: cfg.Collection,
		model:      cfg.EmbeddingModel,
		dimension:  cfg.Dimension,
		threshold:  cfg.ScoreThreshold,
		ttl:        cfg.TTL,
		logger:     logger,
	}
}

// Init creates the backing collection when missing.
func (m *QueryMap) Init(ctx context.Context) error {
	return m.store.EnsureCollection(ctx, m.collection, m.dimension)
}

// Add stores the rawQuery -> cacheKey mapping. The point ID is derived
// from the query and domain, so re-asking the same question refreshes the
// mapping in place.
func (m *QueryMap) Add(ctx context.Context, rawQuery, normalizedText, domain, cacheKey string) error {
	vector, err := m.embedder.GenerateEmbedding(ctx, rawQuery, m.model)
	if err != nil {
		return err
	}

	now := time.Now()
	id := uuid.NewMD5(uuid.NameSpaceOID, []byte(strings.ToLower(strings.TrimSpace(rawQuery))+":"+domain)).String()
	point := vectorstore.Point{
		ID:     id,
		Vector: vector,
		Payload: map[string]interface{}{
			"query":           rawQuery,
			"normalized_text": normalizedText,
			"domain":          domain,
			"cache_key":       cacheKey,
			"created_at":      now.Unix(),
			"expires_at":      now.Add(m.ttl).Unix(),
		},
	}
	return m.store.Upsert(ctx, m.collection, []vectorstore.Point{point})
}

// Lookup returns the cache key of the most similar stored query in the
// domain, or false when nothing lands at or above the threshold.
func (m *QueryMap) Lookup(ctx context.Context, rawQuery, domain string) (string, bool) {
	vector, err := m.embedder.GenerateEmbedding(ctx, rawQuery, m.model)
	if err != nil {
		m.logger.Debug("Query map lookup skipped, embedding failed", zap.Error(err))
		return "", false
	}

	filter := map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "domain", "match": map[string]interface{}{"value": domain}},
			{"key": "expires_at", "range": map[string]interface{}{"gte": time.Now().Unix()}},
		},
	}
	points, err := m.store.Search(ctx, m.collection, vector, 1, m.threshold, filter)
	if err != nil {
		m.logger.Debug("Query map lookup skipped, search failed", zap.Error(err))
		return "", false
	}
	if len(points) == 0 {
		return "", false
	}

	hit := points[0]
	cacheKey := hit.PayloadString("cache_key")
	if cacheKey == "" {
		return "", false
	}

	m.logger.Debug("Similar query found",
		zap.Float64("score", hit.Score),
		zap.String("stored_query", truncate(hit.PayloadString("query"), 50)),
		zap.String("cache_key", cacheKey[:min(8, len(cacheKey))]),
	)
	return cacheKey, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
