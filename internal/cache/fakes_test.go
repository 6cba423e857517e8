package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/recaplabs/recap/internal/vectorstore"
)

// fakeEmbedder returns fixed vectors per text so tests control the
// similarity geometry exactly.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) set(text string, vector []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = vector
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error) {
	vectors, err := f.GenerateBatchEmbeddings(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

// fakeVectorStore mimics Qdrant in memory: cosine search with the
// expires_at range and domain match filters the cache tiers use.
type fakeVectorStore struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string]map[string]vectorstore.Point // collection -> id -> point
	err         error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		collections: make(map[string]int),
		points:      make(map[string]map[string]vectorstore.Point),
	}
}

func (f *fakeVectorStore) seed(collection string, p vectorstore.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[collection] == nil {
		f.points[collection] = make(map[string]vectorstore.Point)
	}
	f.points[collection][p.ID] = p
}

func (f *fakeVectorStore) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points[collection])
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.collections[collection] = dimension
	return nil
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.points[collection] == nil {
		f.points[collection] = make(map[string]vectorstore.Point)
	}
	for _, p := range points {
		f.points[collection][p.ID] = p
	}
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int, threshold float64, filter map[string]interface{}) ([]vectorstore.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	var hits []vectorstore.ScoredPoint
	for _, p := range f.points[collection] {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		score := cosineSimilarity(vector, p.Vector)
		if score < threshold {
			continue
		}
		hits = append(hits, vectorstore.ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeVectorStore) Scroll(ctx context.Context, collection string, filter map[string]interface{}, limit int, offset interface{}) ([]vectorstore.ScoredPoint, interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}

	ids := make([]string, 0, len(f.points[collection]))
	for id, p := range f.points[collection] {
		if matchesFilter(p.Payload, filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if offset != nil {
		for i, id := range ids {
			if id == offset.(string) {
				start = i
				break
			}
		}
	}

	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	var next interface{}
	if end < len(ids) {
		next = ids[end]
	}

	out := make([]vectorstore.ScoredPoint, 0, end-start)
	for _, id := range ids[start:end] {
		p := f.points[collection][id]
		out = append(out, vectorstore.ScoredPoint{ID: p.ID, Payload: p.Payload})
	}
	return out, next, nil
}

func (f *fakeVectorStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, id := range ids {
		delete(f.points[collection], id)
	}
	return nil
}

func (f *fakeVectorStore) Count(ctx context.Context, collection string, filter map[string]interface{}) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, p := range f.points[collection] {
		if matchesFilter(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

// matchesFilter implements the subset of Qdrant filtering the cache
// uses: must clauses with a range on a numeric field or a value match.
func matchesFilter(payload, filter map[string]interface{}) bool {
	if filter == nil {
		return true
	}
	must, _ := filter["must"].([]map[string]interface{})
	for _, clause := range must {
		key := clause["key"].(string)
		if rng, ok := clause["range"].(map[string]interface{}); ok {
			value := asFloat(payload[key])
			if gte, ok := rng["gte"]; ok && value < asFloat(gte) {
				return false
			}
			if lt, ok := rng["lt"]; ok && value >= asFloat(lt) {
				return false
			}
		}
		if match, ok := clause["match"].(map[string]interface{}); ok {
			if fmt.Sprintf("%v", payload[key]) != fmt.Sprintf("%v", match["value"]) {
				return false
			}
		}
	}
	return true
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}
