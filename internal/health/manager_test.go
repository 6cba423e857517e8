package health

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/circuitbreaker"
)

type stubChecker struct {
	name     string
	critical bool
	status   CheckStatus
}

func (s *stubChecker) Name() string           { return s.name }
func (s *stubChecker) IsCritical() bool       { return s.critical }
func (s *stubChecker) Timeout() time.Duration { return time.Second }

func (s *stubChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: s.status, Message: "stub"}
}

func TestRegisterCheckerRejectsDuplicates(t *testing.T) {
	m := NewManager(zap.NewNop())

	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis"}))
	require.Error(t, m.RegisterChecker(&stubChecker{name: "redis"}))
	require.Error(t, m.RegisterChecker(&stubChecker{name: ""}))
	require.Len(t, m.GetCheckers(), 1)
}

func TestOverallHealthAllHealthy(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis", status: StatusHealthy}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "qdrant", status: StatusHealthy}))

	overall := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusHealthy, overall.Status)
	assert.True(t, overall.Ready)
	assert.True(t, overall.Live)
	assert.False(t, overall.Degraded)
}

func TestCriticalFailureTakesReadinessDown(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "openai", critical: true, status: StatusUnhealthy}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis", status: StatusHealthy}))

	overall := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, overall.Ready)
	assert.True(t, overall.Live)
	assert.False(t, m.IsReady(context.Background()))
	assert.True(t, m.IsLive(context.Background()))
}

func TestNonCriticalFailureOnlyDegrades(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis", status: StatusUnhealthy}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "openai", critical: true, status: StatusHealthy}))

	overall := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusDegraded, overall.Status)
	assert.True(t, overall.Ready)
	assert.True(t, overall.Degraded)
}

func TestNoCheckersIsUnknown(t *testing.T) {
	m := NewManager(zap.NewNop())

	overall := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusUnknown, overall.Status)
	assert.False(t, overall.Ready)
	assert.True(t, overall.Live)
}

func TestDetailedHealthSummarizesComponents(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis", status: StatusHealthy}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "qdrant", status: StatusDegraded}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "openai", critical: true, status: StatusHealthy}))

	detailed := m.GetDetailedHealth(context.Background())
	assert.Len(t, detailed.Components, 3)
	assert.Equal(t, 3, detailed.Summary.Total)
	assert.Equal(t, 2, detailed.Summary.Healthy)
	assert.Equal(t, 1, detailed.Summary.Degraded)
	assert.Equal(t, 1, detailed.Summary.Critical)
	assert.Equal(t, 2, detailed.Summary.NonCritical)

	redis := detailed.Components["redis"]
	assert.Equal(t, "redis", redis.Component)
	assert.False(t, redis.Critical)
	assert.False(t, redis.Timestamp.IsZero())
}

func TestGetLastResultsCachesRuns(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis", status: StatusHealthy}))

	require.Empty(t, m.GetLastResults())

	m.GetDetailedHealth(context.Background())
	results := m.GetLastResults()
	require.Len(t, results, 1)
	assert.Equal(t, StatusHealthy, results["redis"].Status)
}

func TestStartStopIdempotent(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}

func TestRedisCheckerAgainstMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	wrapper := circuitbreaker.NewRedisWrapper(client, zap.NewNop())

	checker := NewRedisChecker(wrapper, zap.NewNop())
	assert.Equal(t, "redis", checker.Name())
	assert.False(t, checker.IsCritical())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)

	mr.Close()
	result = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.NotEmpty(t, result.Error)
}

type stubProber struct{ err error }

func (s *stubProber) Healthy(ctx context.Context) error { return s.err }

func TestOpenAIChecker(t *testing.T) {
	checker := NewOpenAIChecker(&stubProber{}, zap.NewNop())
	assert.True(t, checker.IsCritical())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)

	checker = NewOpenAIChecker(&stubProber{err: context.DeadlineExceeded}, zap.NewNop())
	result = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "OpenAI API unreachable", result.Message)
}

func TestFuncChecker(t *testing.T) {
	checker := NewFuncChecker("sources", false, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy, Message: "sources loaded"}
	})

	assert.Equal(t, "sources", checker.Name())
	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "sources loaded", result.Message)
}
