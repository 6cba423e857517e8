package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func() error { return errors.New("boom") })
	}
	require.Equal(t, StateOpen, b.State())

	// After the cooldown the breaker probes in half-open.
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func() error { return errors.New("boom") })
	}
	time.Sleep(60 * time.Millisecond)

	_ = b.Execute(ctx, func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 1
	cfg.SuccessThreshold = 5 // keep it half-open during the probe
	b := New("test", cfg, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func() error { return errors.New("boom") })
	}
	time.Sleep(60 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := b.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errors.New("boom") })
	_ = b.Execute(ctx, func() error { return errors.New("boom") })
	require.NoError(t, b.Execute(ctx, func() error { return nil }))
	_ = b.Execute(ctx, func() error { return errors.New("boom") })
	_ = b.Execute(ctx, func() error { return errors.New("boom") })

	assert.Equal(t, StateClosed, b.State())
}

func TestRedisWrapperRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rw := NewRedisWrapper(client, zap.NewNop())
	defer rw.Close()
	ctx := context.Background()

	require.NoError(t, rw.Set(ctx, "k", "v", time.Minute).Err())
	got, err := rw.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	// A missing key is redis.Nil, which must not count as a breaker failure.
	_, err = rw.Get(ctx, "absent").Result()
	assert.ErrorIs(t, err, redis.Nil)
	assert.False(t, rw.IsOpen())
}

func TestRedisWrapperOpensWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rw := NewRedisWrapper(client, zap.NewNop())
	defer rw.Close()
	ctx := context.Background()

	mr.Close()

	for i := 0; i < 5; i++ {
		_ = rw.Set(ctx, "k", "v", time.Minute).Err()
	}
	assert.True(t, rw.IsOpen())

	// Once open the wrapper fails fast with the breaker sentinel.
	err := rw.Get(ctx, "k").Err()
	assert.ErrorIs(t, err, ErrOpen)
}

func TestHTTPWrapperIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "test-4xx", "test", zap.NewNop())

	for i := 0; i < 5; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.False(t, hw.IsOpen())
}

func TestHTTPWrapperOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "test-5xx", "test", zap.NewNop())

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := hw.Do(req)
		// The response is surfaced to the caller even though the breaker
		// counts it as a failure.
		require.NoError(t, err)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.True(t, hw.IsOpen())
}
