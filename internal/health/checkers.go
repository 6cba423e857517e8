package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/circuitbreaker"
	"github.com/recaplabs/recap/internal/vectorstore"
)

// RedisChecker probes the answer-tier Redis through its breaker wrapper.
// Non-critical: the store serves from its in-process fallback while Redis
// is down.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisChecker {
	return &RedisChecker{
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return false }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", Timestamp: start}

	if r.wrapper.IsOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := r.wrapper.Ping(ctx).Err()
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}

// QdrantChecker probes the fact-tier Qdrant readiness endpoint.
// Non-critical for the same fallback reason as Redis.
type QdrantChecker struct {
	client  *vectorstore.Client
	logger  *zap.Logger
	timeout time.Duration
}

func NewQdrantChecker(client *vectorstore.Client, logger *zap.Logger) *QdrantChecker {
	return &QdrantChecker{
		client:  client,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (q *QdrantChecker) Name() string           { return "qdrant" }
func (q *QdrantChecker) IsCritical() bool       { return false }
func (q *QdrantChecker) Timeout() time.Duration { return q.timeout }

func (q *QdrantChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "qdrant", Timestamp: start}

	if q.client.IsOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Qdrant circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := q.client.Healthy(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Qdrant readiness probe failed"
		return result
	}

	if result.Duration > 500*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Qdrant responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Qdrant healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}

// Prober is anything that can confirm its backing service is reachable.
type Prober interface {
	Healthy(ctx context.Context) error
}

// OpenAIChecker verifies the completions API is reachable. Critical: with
// no completions there are no briefs and no reports, so every resolve
// fails.
type OpenAIChecker struct {
	prober  Prober
	logger  *zap.Logger
	timeout time.Duration
}

func NewOpenAIChecker(prober Prober, logger *zap.Logger) *OpenAIChecker {
	return &OpenAIChecker{
		prober:  prober,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

func (o *OpenAIChecker) Name() string           { return "openai" }
func (o *OpenAIChecker) IsCritical() bool       { return true }
func (o *OpenAIChecker) Timeout() time.Duration { return o.timeout }

func (o *OpenAIChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "openai", Timestamp: start}

	err := o.prober.Healthy(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "OpenAI API unreachable"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "OpenAI API reachable"
	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}

// FuncChecker adapts a plain function into a Checker.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

func NewFuncChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *FuncChecker) Name() string           { return c.name }
func (c *FuncChecker) IsCritical() bool       { return c.critical }
func (c *FuncChecker) Timeout() time.Duration { return c.timeout }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
