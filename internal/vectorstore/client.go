package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/circuitbreaker"
	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/tracing"
)

// Config controls the Qdrant client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a minimal Qdrant HTTP client. All requests go through the
// circuit-breaker wrapper so a down vector store fails fast.
type Client struct {
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// Store is the vector store capability the cache tiers depend on.
type Store interface {
	EnsureCollection(ctx context.Context, collection string, dimension int) error
	Search(ctx context.Context, collection string, vector []float32, limit int, threshold float64, filter map[string]interface{}) ([]ScoredPoint, error)
	Upsert(ctx context.Context, collection string, points []Point) error
	Scroll(ctx context.Context, collection string, filter map[string]interface{}, limit int, offset interface{}) ([]ScoredPoint, interface{}, error)
	DeletePoints(ctx context.Context, collection string, ids []string) error
	Count(ctx context.Context, collection string, filter map[string]interface{}) (int, error)
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		base:  cfg.BaseURL,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectorstore", logger),
		log:   logger,
	}
}

// qdrant request/response shapes (simplified)
type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which nests the points
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

type qdrantScrollResponse struct {
	Result struct {
		Points         []qdrantPoint `json:"points"`
		NextPageOffset interface{}   `json:"next_page_offset"`
	} `json:"result"`
	Status string `json:"status"`
}

type qdrantCountResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
	Status string `json:"status"`
}

func (c *Client) do(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectTraceparent(ctx, req)
	return c.httpw.Do(req)
}

// EnsureCollection creates the collection with cosine distance when it does
// not exist yet.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	getURL := fmt.Sprintf("%s/collections/%s", c.base, collection)
	resp, err := c.do(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	resp, err = c.do(ctx, http.MethodPut, getURL, body)
	if err != nil {
		return fmt.Errorf("qdrant collection create: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant collection create status %d", resp.StatusCode)
	}

	c.log.Info("Vector collection created",
		zap.String("collection", collection),
		zap.Int("dimension", dimension),
	)
	return nil
}

// Search runs a cosine similarity query. The modern /points/query endpoint is
// preferred; older servers fall back to /points/search.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int, threshold float64, filter map[string]interface{}) ([]ScoredPoint, error) {
	start := time.Now()

	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", urlQuery)
	defer span.End()

	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	reqBody := qdrantQueryRequest{Query: vector, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}

	resp, err := c.do(ctx, http.MethodPost, urlQuery, reqBody)
	if err != nil {
		metrics.RecordVectorSearch(collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// fallback to /points/search for older servers
		legacy := map[string]interface{}{"vector": vector, "limit": limit, "with_payload": true}
		if threshold > 0 {
			legacy["score_threshold"] = threshold
		}
		if filter != nil {
			legacy["filter"] = filter
		}
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, collection)
		resp2, err2 := c.do(ctx, http.MethodPost, urlSearch, legacy)
		if err2 != nil {
			metrics.RecordVectorSearch(collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			metrics.RecordVectorSearch(collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var sr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			metrics.RecordVectorSearch(collection, "error", time.Since(start).Seconds())
			return nil, err
		}
		metrics.RecordVectorSearch(collection, "success", time.Since(start).Seconds())
		return convertPoints(sr.Result), nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		metrics.RecordVectorSearch(collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorSearch(collection, "success", time.Since(start).Seconds())
	return convertPoints(qr.Result.Points), nil
}

// Upsert writes points with wait=true so immediately following reads observe
// them.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.base, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	resp, err := c.do(ctx, http.MethodPut, url, map[string]interface{}{"points": points})
	if err != nil {
		metrics.VectorUpserts.WithLabelValues(collection, "error").Inc()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VectorUpserts.WithLabelValues(collection, "error").Inc()
		return fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}

	metrics.VectorUpserts.WithLabelValues(collection, "success").Inc()
	return nil
}

// Scroll pages through points matching a filter without scoring them.
// The returned offset is passed back in to fetch the next page; nil means
// the end was reached.
func (c *Client) Scroll(ctx context.Context, collection string, filter map[string]interface{}, limit int, offset interface{}) ([]ScoredPoint, interface{}, error) {
	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.base, collection)

	body := map[string]interface{}{
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		body["filter"] = filter
	}
	if offset != nil {
		body["offset"] = offset
	}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("qdrant scroll status %d", resp.StatusCode)
	}

	var sr qdrantScrollResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, nil, err
	}
	return convertPoints(sr.Result.Points), sr.Result.NextPageOffset, nil
}

// DeletePoints removes points by ID.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.base, collection)
	resp, err := c.do(ctx, http.MethodPost, url, map[string]interface{}{"points": ids})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant delete status %d", resp.StatusCode)
	}
	return nil
}

// Count returns the number of points matching a filter; a nil filter counts
// the whole collection.
func (c *Client) Count(ctx context.Context, collection string, filter map[string]interface{}) (int, error) {
	url := fmt.Sprintf("%s/collections/%s/points/count", c.base, collection)

	body := map[string]interface{}{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("qdrant count status %d", resp.StatusCode)
	}

	var cr qdrantCountResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return 0, err
	}
	return cr.Result.Count, nil
}

// Healthy probes the Qdrant readiness endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.base+"/readyz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant readyz status %d", resp.StatusCode)
	}
	return nil
}

// IsOpen reports whether the breaker guarding Qdrant is open.
func (c *Client) IsOpen() bool {
	return c.httpw.IsOpen()
}

func convertPoints(in []qdrantPoint) []ScoredPoint {
	out := make([]ScoredPoint, 0, len(in))
	for _, p := range in {
		id := ""
		if p.ID != nil {
			id = fmt.Sprintf("%v", p.ID)
		}
		out = append(out, ScoredPoint{ID: id, Score: p.Score, Payload: p.Payload})
	}
	return out
}
