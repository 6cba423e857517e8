package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/tracing"
)

// Embedding inputs beyond this length are truncated; fact statements and
// queries are far shorter in practice.
const maxInputChars = 8000

// Embedder is the embedding capability the cache tiers depend on. An empty
// model selects the configured default.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Config holds embedding service settings.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Dimension    int
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxLRU       int
}

// Service generates embeddings with two cache layers in front of the API:
// an in-process LRU and an optional Redis tier.
type Service struct {
	cfg    Config
	api    *openai.Client
	cache  EmbeddingCache
	lru    *LocalLRU
	logger *zap.Logger
}

// NewService builds the embedding service. cache may be nil to run LRU-only.
func NewService(cfg Config, cache EmbeddingCache, logger *zap.Logger) (*Service, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided in config or OPENAI_API_KEY environment variable")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &Service{
		cfg:    cfg,
		api:    &client,
		cache:  cache,
		lru:    NewLocalLRU(cfg.MaxLRU),
		logger: logger,
	}, nil
}

// GenerateEmbedding returns the vector for a single text.
func (s *Service) GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error) {
	vecs, err := s.GenerateBatchEmbeddings(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateBatchEmbeddings returns vectors for multiple texts in one API
// request, serving cached entries locally and embedding only the rest.
func (s *Service) GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}

	results := make([][]float32, len(texts))
	uncachedTexts := []string{}
	uncachedIndices := []int{}

	for i, text := range texts {
		text = truncate(text)
		key := MakeKey(m, text)

		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			metrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, 30*time.Minute)
				metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
				continue
			}
		}

		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	ctx, span := tracing.StartSpan(ctx, "embeddings.generate")
	defer span.End()

	start := time.Now()
	vectors, err := s.embed(ctx, uncachedTexts, m)
	if err != nil {
		metrics.RecordEmbedding(m, "error", time.Since(start).Seconds())
		span.RecordError(err)
		return nil, err
	}
	metrics.RecordEmbedding(m, "success", time.Since(start).Seconds())

	for i, vec := range vectors {
		results[uncachedIndices[i]] = vec

		key := MakeKey(m, uncachedTexts[i])
		s.lru.Set(ctx, key, vec, 30*time.Minute)
		if s.cache != nil {
			s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
		}
	}

	s.logger.Debug("Embeddings generated",
		zap.String("model", m),
		zap.Int("requested", len(texts)),
		zap.Int("embedded", len(uncachedTexts)),
		zap.Duration("duration", time.Since(start)),
	)
	return results, nil
}

func (s *Service) embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := s.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, datum := range resp.Data {
		idx := int(datum.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", idx)
		}
		if s.cfg.Dimension > 0 && len(datum.Embedding) != s.cfg.Dimension {
			return nil, fmt.Errorf("embedding dimension %d, expected %d", len(datum.Embedding), s.cfg.Dimension)
		}
		vec := make([]float32, len(datum.Embedding))
		for j, f := range datum.Embedding {
			vec[j] = float32(f)
		}
		out[idx] = vec
	}
	return out, nil
}

func truncate(text string) string {
	if len(text) > maxInputChars {
		return text[:maxInputChars]
	}
	return text
}
