package circuitbreaker

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards a Redis client with a circuit breaker. Command errors
// trip the breaker; redis.Nil does not, a missing key is a healthy answer.
type RedisWrapper struct {
	client  *redis.Client
	breaker *Breaker
	logger  *zap.Logger
}

// NewRedisWrapper creates a breaker-guarded Redis client
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	b := New("redis", RedisConfig(), logger)
	Collector.Register("redis", "answer-cache", b)

	return &RedisWrapper{
		client:  client,
		breaker: b,
		logger:  logger,
	}
}

// Ping wraps Redis Ping
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd

	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Get wraps Redis Get
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd

	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})
	rw.record(err == nil && (result == nil || result.Err() == nil || result.Err() == redis.Nil))

	if err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Set wraps Redis Set
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd

	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})
	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Del wraps Redis Del
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd

	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})
	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Scan wraps Redis Scan
func (rw *RedisWrapper) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	var result *redis.ScanCmd

	err := rw.breaker.Execute(ctx, func() error {
		result = rw.client.Scan(ctx, cursor, match, count)
		return result.Err()
	})
	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewScanCmd(ctx, nil)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) record(success bool) {
	Collector.RecordRequest("redis", "answer-cache", rw.breaker.State(), success)
}

// Close closes the underlying client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// Client returns the underlying Redis client for operations the wrapper
// does not cover
func (rw *RedisWrapper) Client() *redis.Client {
	return rw.client
}

// IsOpen reports whether the breaker is currently open
func (rw *RedisWrapper) IsOpen() bool {
	return rw.breaker.State() == StateOpen
}

// HTTPWrapper guards an http.Client with a circuit breaker. Transport errors
// and 5xx responses count as failures; 4xx responses do not trip the breaker.
type HTTPWrapper struct {
	client  *http.Client
	breaker *Breaker
	name    string
	service string
	logger  *zap.Logger
}

// NewHTTPWrapper creates a breaker-guarded HTTP client
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	b := New(name, HTTPConfig(), logger)
	Collector.Register(name, service, b)
	return &HTTPWrapper{client: client, breaker: b, name: name, service: service, logger: logger}
}

// Do executes the request through the breaker. When the breaker classified a
// 5xx as a failure the response is still returned to the caller with nil error.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.breaker.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = hw.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	Collector.RecordRequest(hw.name, hw.service, hw.breaker.State(), err == nil)

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// IsOpen reports whether the breaker is currently open
func (hw *HTTPWrapper) IsOpen() bool {
	return hw.breaker.State() == StateOpen
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
