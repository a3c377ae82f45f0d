package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/internal/domain/repository"
	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

// AbuseGuard counts failed attempts per identity (IP, device or account) and
// blocks the identity for a fixed duration once the limit is reached.
type AbuseGuard struct {
	mu      sync.Mutex
	store   repository.KVStore
	events  *EventLog
	clock   Clock
	metrics Metrics
	logger  logger.Logger
}

// NewAbuseGuard creates an AbuseGuard persisting under constants.StoreKeyIPBlockPrefix.
func NewAbuseGuard(store repository.KVStore, events *EventLog, clock Clock, metrics Metrics, log logger.Logger) *AbuseGuard {
	if clock == nil {
		clock = time.Now
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &AbuseGuard{
		store:   store,
		events:  events,
		clock:   clock,
		metrics: metrics,
		logger:  log.WithComponent("AbuseGuard"),
	}
}

// CheckIPBlock reports whether id may proceed. It never records an attempt.
// A blocked identity produces an ip_blocked event on every check; an
// unreadable store denies the request.
func (g *AbuseGuard) CheckIPBlock(ctx context.Context, id string, cfg models.IPBlockConfig) bool {
	g.mu.Lock()
	state, err := g.load(ctx, id)
	g.mu.Unlock()
	if err != nil {
		g.logger.Error(ctx, "failed to read block state", err, logger.Fields{"id": id})
		return false
	}

	if !state.IsBlocked(g.clock()) {
		return true
	}
	g.events.Log(ctx, models.IPBlockedDetails{
		ID:           id,
		Attempts:     len(state.Attempts),
		BlockedUntil: time.UnixMilli(state.BlockedUntil).UTC(),
	})
	return false
}

// RecordFailedAttempt appends a failed attempt for id and starts a block when
// MaxAttempts is reached. Attempts from a lapsed block are forgotten first.
func (g *AbuseGuard) RecordFailedAttempt(ctx context.Context, id string, cfg models.IPBlockConfig) {
	if err := configValidator.Struct(cfg); err != nil {
		g.logger.Error(ctx, "invalid block config", err, logger.Fields{"id": id})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	state, err := g.load(ctx, id)
	if err != nil {
		g.logger.Error(ctx, "failed to read block state", err, logger.Fields{"id": id})
		return
	}
	if state.BlockExpired(now) {
		state = &models.IPBlockState{}
	}

	state.Attempts = append(state.Attempts, now.UnixMilli())
	if len(state.Attempts) > cfg.MaxAttempts {
		state.Attempts = state.Attempts[len(state.Attempts)-cfg.MaxAttempts:]
	}

	blocked := len(state.Attempts) >= cfg.MaxAttempts
	if blocked {
		state.BlockedUntil = now.Add(cfg.BlockDuration).UnixMilli()
	}

	if err := g.save(ctx, id, state); err != nil {
		g.logger.Error(ctx, "failed to persist block state", err, logger.Fields{"id": id})
		return
	}
	if blocked {
		g.metrics.RecordBlock()
		g.events.Log(ctx, models.IPBlockedDetails{
			ID:           id,
			Attempts:     len(state.Attempts),
			BlockedUntil: time.UnixMilli(state.BlockedUntil).UTC(),
		})
	}
}

// ClearAttempts forgets every attempt and any block of id.
func (g *AbuseGuard) ClearAttempts(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Remove(ctx, ipBlockKey(id)); err != nil {
		g.metrics.RecordStoreError("ipblock_remove")
		return secerrors.ErrStorage("remove", err)
	}
	return nil
}

func (g *AbuseGuard) load(ctx context.Context, id string) (*models.IPBlockState, error) {
	raw, err := g.store.Get(ctx, ipBlockKey(id))
	if errors.Is(err, repository.ErrKeyNotFound) {
		return &models.IPBlockState{}, nil
	}
	if err != nil {
		g.metrics.RecordStoreError("ipblock_get")
		return nil, secerrors.ErrStorage("get", err)
	}

	state := &models.IPBlockState{}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		g.logger.Warn(ctx, "discarding malformed block state", logger.Fields{"id": id, "error": err.Error()})
		return &models.IPBlockState{}, nil
	}
	return state, nil
}

func (g *AbuseGuard) save(ctx context.Context, id string, state *models.IPBlockState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, ipBlockKey(id), string(raw)); err != nil {
		g.metrics.RecordStoreError("ipblock_set")
		return secerrors.ErrStorage("set", err)
	}
	return nil
}

func ipBlockKey(id string) string {
	return constants.StoreKeyIPBlockPrefix + id
}
