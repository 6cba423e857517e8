package degradation

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func boolProbe(v *atomic.Bool) Probe {
	return func() bool { return v.Load() }
}

func TestEvaluateLevels(t *testing.T) {
	m := NewManager(0, zap.NewNop())

	var redis, qdrant, llm, providers atomic.Bool
	redis.Store(true)
	qdrant.Store(true)
	llm.Store(true)
	providers.Store(true)

	m.Track("redis", boolProbe(&redis))
	m.Track("qdrant", boolProbe(&qdrant))
	m.Track("llm", boolProbe(&llm))
	m.Track("search_providers", boolProbe(&providers))

	require.Equal(t, LevelNone, m.Evaluate())
	assert.False(t, m.Degraded())

	redis.Store(false)
	require.Equal(t, LevelMinor, m.Evaluate())
	assert.True(t, m.Degraded())

	qdrant.Store(false)
	require.Equal(t, LevelModerate, m.Evaluate())

	llm.Store(false)
	require.Equal(t, LevelSevere, m.Evaluate())

	providers.Store(false)
	require.Equal(t, LevelSevere, m.Evaluate())

	redis.Store(true)
	qdrant.Store(true)
	llm.Store(true)
	providers.Store(true)
	require.Equal(t, LevelNone, m.Evaluate())
	assert.Equal(t, LevelNone, m.Level())
}

func TestSetHealthCountsTowardLevel(t *testing.T) {
	m := NewManager(0, zap.NewNop())

	var redis atomic.Bool
	redis.Store(true)
	m.Track("redis", boolProbe(&redis))

	m.SetHealth("llm", true)
	require.Equal(t, LevelNone, m.Evaluate())

	m.SetHealth("llm", false)
	require.Equal(t, LevelMinor, m.Evaluate())

	m.SetHealth("llm", true)
	require.Equal(t, LevelNone, m.Evaluate())
}

func TestMonitorLoopUpdatesLevel(t *testing.T) {
	m := NewManager(10*time.Millisecond, zap.NewNop())

	var healthy atomic.Bool
	healthy.Store(true)
	m.Track("redis", boolProbe(&healthy))

	m.Start()
	defer m.Stop()

	require.Equal(t, LevelNone, m.Level())

	healthy.Store(false)
	require.Eventually(t, func() bool {
		return m.Level() == LevelMinor
	}, time.Second, 5*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		return m.Level() == LevelNone
	}, time.Second, 5*time.Millisecond)
}

func TestStartStopIdempotent(t *testing.T) {
	m := NewManager(0, zap.NewNop())

	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "none", LevelNone.String())
	assert.Equal(t, "minor", LevelMinor.String())
	assert.Equal(t, "moderate", LevelModerate.String())
	assert.Equal(t, "severe", LevelSevere.String())
	assert.Equal(t, "unknown", Level(42).String())
}
