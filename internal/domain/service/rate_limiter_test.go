package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/pkg/constants"
	"github.com/turtacn/secstate/pkg/logger"
)

func newTestRateLimiter(store *faultyStore, clock *fakeClock) (*RateLimiter, *EventLog) {
	events := NewEventLog(store, logger.NewNoopLogger(), WithEventClock(clock.Now))
	return NewRateLimiter(store, events, clock.Now, nil, logger.NewNoopLogger()), events
}

func TestRateLimiter_WindowLimit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter, events := newTestRateLimiter(newFaultyStore(), clock)
	cfg := models.RateLimitConfig{Window: time.Second, MaxRequests: 3}

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.CheckRateLimit(ctx, "/login", cfg), "request %d", i)
	}
	assert.False(t, limiter.CheckRateLimit(ctx, "/login", cfg))

	logged := events.Events(ctx)
	require.Len(t, logged, 1)
	details, ok := logged[0].Details.(models.RateLimitExceededDetails)
	require.True(t, ok)
	assert.Equal(t, "/login", details.Key)
	assert.Equal(t, 3, details.Count)
	assert.Equal(t, int64(1000), details.WindowMs)

	// Other keys are counted separately.
	assert.True(t, limiter.CheckRateLimit(ctx, "/search", cfg))

	clock.Advance(time.Second)
	assert.True(t, limiter.CheckRateLimit(ctx, "/login", cfg), "entries exactly one window old are pruned")
}

func TestRateLimiter_RejectedRequestsAreNotRecorded(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter, _ := newTestRateLimiter(newFaultyStore(), clock)
	cfg := models.RateLimitConfig{Window: time.Second, MaxRequests: 2}

	require.True(t, limiter.CheckRateLimit(ctx, "k", cfg))
	clock.Advance(500 * time.Millisecond)
	require.True(t, limiter.CheckRateLimit(ctx, "k", cfg))
	for i := 0; i < 5; i++ {
		require.False(t, limiter.CheckRateLimit(ctx, "k", cfg))
	}

	clock.Advance(500 * time.Millisecond)
	assert.True(t, limiter.CheckRateLimit(ctx, "k", cfg), "only the first request expired")
	assert.False(t, limiter.CheckRateLimit(ctx, "k", cfg))
}

func TestRateLimiter_Usage(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter, _ := newTestRateLimiter(newFaultyStore(), clock)
	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 5}

	usage, err := limiter.Usage(ctx, "api", cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)
	assert.Equal(t, 5, usage.Remaining)

	start := clock.Now()
	limiter.CheckRateLimit(ctx, "api", cfg)
	clock.Advance(10 * time.Second)
	limiter.CheckRateLimit(ctx, "api", cfg)

	usage, err = limiter.Usage(ctx, "api", cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Used)
	assert.Equal(t, 3, usage.Remaining)
	assert.True(t, start.Add(time.Minute).Equal(usage.ResetAt))

	require.NoError(t, limiter.Reset(ctx, "api"))
	usage, err = limiter.Usage(ctx, "api", cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)

	_, err = limiter.Usage(ctx, "api", models.RateLimitConfig{})
	assert.Error(t, err)
}

func TestRateLimiter_StoreFaults(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newFaultyStore()
	limiter, _ := newTestRateLimiter(store, clock)
	cfg := models.RateLimitConfig{Window: time.Second, MaxRequests: 10}

	store.getErr = errors.New("io")
	assert.False(t, limiter.CheckRateLimit(ctx, "k", cfg))
	store.getErr = nil

	require.NoError(t, store.Set(ctx, constants.StoreKeyRateLimitPrefix+"k", "garbage"))
	assert.True(t, limiter.CheckRateLimit(ctx, "k", cfg), "malformed state counts as empty")

	store.setErr = errors.New("io")
	assert.False(t, limiter.CheckRateLimit(ctx, "k", cfg))
}

func TestRateLimiter_InvalidConfig(t *testing.T) {
	limiter, _ := newTestRateLimiter(newFaultyStore(), newFakeClock())
	assert.False(t, limiter.CheckRateLimit(context.Background(), "k", models.RateLimitConfig{Window: time.Second}))
}

func TestRateLimiter_Concurrent(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestRateLimiter(newFaultyStore(), newFakeClock())
	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 25}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.CheckRateLimit(ctx, "burst", cfg) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 25, allowed)
}
