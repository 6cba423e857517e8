package cache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/circuitbreaker"
	"github.com/recaplabs/recap/internal/config"
)

func newTestAnswerStore(t *testing.T) (*AnswerStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	wrapper := circuitbreaker.NewRedisWrapper(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		zap.NewNop(),
	)
	store := NewAnswerStore(wrapper, config.CacheConfig{
		KeyPrefix:       "recap:answers",
		AnswerTTL:       7 * 24 * time.Hour,
		MinAnswerLength: 20,
	}, zap.NewNop())
	return store, mr
}

func TestPutThenGetFinalAnswer(t *testing.T) {
	store, mr := newTestAnswerStore(t)
	ctx := context.Background()
	content := strings.Repeat("GitHub Copilot is fine for enterprise use. ", 3)

	store.PutFinalAnswer(ctx, "abc123", "coding", content)

	entry, ok := store.GetFinalAnswer(ctx, "abc123", "coding")
	require.True(t, ok)
	assert.Equal(t, content, entry.Content)
	assert.Equal(t, "abc123", entry.Key)
	assert.Equal(t, "coding", entry.DomainTag)
	assert.Equal(t, 7*24*time.Hour, entry.ExpiresAt.Sub(entry.CreatedAt))

	// Stored under the namespaced key with a native TTL as well.
	require.True(t, mr.Exists("recap:answers:coding:abc123"))
	assert.InDelta(t, 7*24*time.Hour, mr.TTL("recap:answers:coding:abc123"), float64(time.Minute))
}

func TestGetMissReturnsAbsent(t *testing.T) {
	store, _ := newTestAnswerStore(t)
	entry, ok := store.GetFinalAnswer(context.Background(), "nope", "coding")
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestExpiredEntryTreatedAsAbsent(t *testing.T) {
	store, mr := newTestAnswerStore(t)
	ctx := context.Background()

	// An entry whose recorded expiry has passed but which Redis has not
	// evicted yet must still read as absent.
	stale := CacheEntry{
		Key:       "old",
		DomainTag: "coding",
		Content:   strings.Repeat("x", 40),
		CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, mr.Set("recap:answers:coding:old", string(raw)))

	entry, ok := store.GetFinalAnswer(ctx, "old", "coding")
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestPutRejectsDegenerateContent(t *testing.T) {
	store, mr := newTestAnswerStore(t)
	ctx := context.Background()

	store.PutFinalAnswer(ctx, "short", "coding", "too short")

	_, ok := store.GetFinalAnswer(ctx, "short", "coding")
	assert.False(t, ok)
	assert.False(t, mr.Exists("recap:answers:coding:short"))
}

func TestPutOverwritesSameKey(t *testing.T) {
	store, _ := newTestAnswerStore(t)
	ctx := context.Background()

	store.PutFinalAnswer(ctx, "k1", "coding", strings.Repeat("first answer ", 5))
	store.PutFinalAnswer(ctx, "k1", "coding", strings.Repeat("second answer ", 5))

	entry, ok := store.GetFinalAnswer(ctx, "k1", "coding")
	require.True(t, ok)
	assert.Contains(t, entry.Content, "second answer")
}

func TestDomainsPartitionTheNamespace(t *testing.T) {
	store, _ := newTestAnswerStore(t)
	ctx := context.Background()

	store.PutFinalAnswer(ctx, "same-key", "coding", strings.Repeat("coding answer ", 5))

	_, ok := store.GetFinalAnswer(ctx, "same-key", "design")
	assert.False(t, ok)

	entry, ok := store.GetFinalAnswer(ctx, "same-key", "coding")
	require.True(t, ok)
	assert.Contains(t, entry.Content, "coding answer")
}

func TestDegradedModeServesFromMemory(t *testing.T) {
	store, mr := newTestAnswerStore(t)
	ctx := context.Background()
	content := strings.Repeat("resilient answer ", 5)

	mr.Close()

	store.PutFinalAnswer(ctx, "k1", "coding", content)
	assert.False(t, store.Healthy())

	entry, ok := store.GetFinalAnswer(ctx, "k1", "coding")
	require.True(t, ok)
	assert.Equal(t, content, entry.Content)
	assert.Equal(t, 7*24*time.Hour, entry.ExpiresAt.Sub(entry.CreatedAt))
}

func TestFallbackExpiryHonored(t *testing.T) {
	fallback := newMemoryAnswers()
	now := time.Now()
	fallback.put("k", CacheEntry{
		Key:       "k",
		Content:   "x",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	})

	_, ok := fallback.get("k", now)
	assert.False(t, ok)
	assert.Equal(t, 0, fallback.len())
}
