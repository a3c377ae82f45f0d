package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/internal/domain/repository"
	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

var configValidator = validator.New()

// RateLimiter is a per-key sliding window request counter. Old entries are
// pruned lazily on each check, so storage per key is bounded by MaxRequests.
type RateLimiter struct {
	mu      sync.Mutex
	store   repository.KVStore
	events  *EventLog
	clock   Clock
	metrics Metrics
	logger  logger.Logger
}

// NewRateLimiter creates a RateLimiter persisting under constants.StoreKeyRateLimitPrefix.
func NewRateLimiter(store repository.KVStore, events *EventLog, clock Clock, metrics Metrics, log logger.Logger) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &RateLimiter{
		store:   store,
		events:  events,
		clock:   clock,
		metrics: metrics,
		logger:  log.WithComponent("RateLimiter"),
	}
}

// CheckRateLimit records a request for key and reports whether it is allowed.
// A rejected request is not recorded. Store faults reject the request.
func (r *RateLimiter) CheckRateLimit(ctx context.Context, key string, cfg models.RateLimitConfig) bool {
	if err := configValidator.Struct(cfg); err != nil {
		r.logger.Error(ctx, "invalid rate limit config", err, logger.Fields{"key": key})
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	state, err := r.load(ctx, key)
	if err != nil {
		r.logger.Error(ctx, "failed to read rate limit state", err, logger.Fields{"key": key})
		r.metrics.RecordRateLimitDecision(key, false)
		return false
	}
	state.Prune(now, cfg.Window)

	if len(state.Requests) >= cfg.MaxRequests {
		r.metrics.RecordRateLimitDecision(key, false)
		r.events.Log(ctx, models.RateLimitExceededDetails{
			Key:         key,
			Count:       len(state.Requests),
			MaxRequests: cfg.MaxRequests,
			WindowMs:    cfg.Window.Milliseconds(),
		})
		return false
	}

	state.Requests = append(state.Requests, now.UnixMilli())
	if err := r.save(ctx, key, state); err != nil {
		r.logger.Error(ctx, "failed to persist rate limit state", err, logger.Fields{"key": key})
		r.metrics.RecordRateLimitDecision(key, false)
		return false
	}
	r.metrics.RecordRateLimitDecision(key, true)
	return true
}

// Usage reports the current window of key without recording a request.
func (r *RateLimiter) Usage(ctx context.Context, key string, cfg models.RateLimitConfig) (*models.RateLimitUsage, error) {
	if err := configValidator.Struct(cfg); err != nil {
		return nil, secerrors.ErrInvalidRequest("invalid rate limit config").WithCause(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	state, err := r.load(ctx, key)
	if err != nil {
		return nil, err
	}
	state.Prune(now, cfg.Window)

	usage := &models.RateLimitUsage{
		Key:     key,
		Used:    len(state.Requests),
		Limit:   cfg.MaxRequests,
		ResetAt: now,
	}
	if usage.Remaining = cfg.MaxRequests - usage.Used; usage.Remaining < 0 {
		usage.Remaining = 0
	}
	if len(state.Requests) > 0 {
		usage.ResetAt = time.UnixMilli(state.Requests[0]).Add(cfg.Window)
	}
	return usage, nil
}

// Reset forgets every recorded request of key.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Remove(ctx, rateLimitKey(key)); err != nil {
		r.metrics.RecordStoreError("ratelimit_remove")
		return secerrors.ErrStorage("remove", err)
	}
	return nil
}

func (r *RateLimiter) load(ctx context.Context, key string) (*models.RateLimitState, error) {
	raw, err := r.store.Get(ctx, rateLimitKey(key))
	if errors.Is(err, repository.ErrKeyNotFound) {
		return &models.RateLimitState{}, nil
	}
	if err != nil {
		r.metrics.RecordStoreError("ratelimit_get")
		return nil, secerrors.ErrStorage("get", err)
	}

	state := &models.RateLimitState{}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		r.logger.Warn(ctx, "discarding malformed rate limit state", logger.Fields{"key": key, "error": err.Error()})
		return &models.RateLimitState{}, nil
	}
	return state, nil
}

func (r *RateLimiter) save(ctx context.Context, key string, state *models.RateLimitState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, rateLimitKey(key), string(raw)); err != nil {
		r.metrics.RecordStoreError("ratelimit_set")
		return secerrors.ErrStorage("set", err)
	}
	return nil
}

func rateLimitKey(key string) string {
	return constants.StoreKeyRateLimitPrefix + key
}
