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

// EventLog is the bounded, most-recent-first security audit trail. Nothing
// consumes entries; the oldest entry is evicted once capacity is reached.
// When a signer is configured every event is chained to the next older one.
type EventLog struct {
	mu       sync.Mutex
	store    repository.KVStore
	signer   EventSigner
	sinks    []EventSink
	capacity int
	clock    Clock
	metrics  Metrics
	logger   logger.Logger
}

// EventLogOption customizes an EventLog.
type EventLogOption func(*EventLog)

// WithEventSigner enables the HMAC signature chain.
func WithEventSigner(s EventSigner) EventLogOption {
	return func(l *EventLog) { l.signer = s }
}

// WithEventSinks forwards every event to the given sinks.
func WithEventSinks(sinks ...EventSink) EventLogOption {
	return func(l *EventLog) { l.sinks = append(l.sinks, sinks...) }
}

// WithEventCapacity overrides constants.MaxSecurityEvents.
func WithEventCapacity(n int) EventLogOption {
	return func(l *EventLog) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithEventClock injects the time source.
func WithEventClock(c Clock) EventLogOption {
	return func(l *EventLog) { l.clock = c }
}

// WithEventMetrics records a counter per logged event type.
func WithEventMetrics(m Metrics) EventLogOption {
	return func(l *EventLog) { l.metrics = m }
}

// NewEventLog creates an EventLog persisted under constants.StoreKeyEvents.
func NewEventLog(store repository.KVStore, log logger.Logger, opts ...EventLogOption) *EventLog {
	l := &EventLog{
		store:    store,
		capacity: constants.MaxSecurityEvents,
		clock:    time.Now,
		metrics:  NoopMetrics{},
		logger:   log.WithComponent("EventLog"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log prepends an event built from details. Failures are logged, never returned.
func (l *EventLog) Log(ctx context.Context, details models.EventDetails) {
	ev, ok := l.append(ctx, details)
	if !ok {
		return
	}
	l.metrics.RecordSecurityEvent(ev.Type)

	for _, sink := range l.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			l.logger.Warn(ctx, "event sink rejected security event", logger.Fields{
				"event_type": string(ev.Type),
				"error":      err.Error(),
			})
		}
	}
}

func (l *EventLog) append(ctx context.Context, details models.EventDetails) (models.SecurityEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := models.NewSecurityEvent(details, l.clock())
	if err != nil {
		l.logger.Error(ctx, "failed to encode security event", err, logger.Fields{"event_type": string(details.EventType())})
		return models.SecurityEvent{}, false
	}

	events, err := l.load(ctx)
	if err != nil {
		// Writing now would discard the retained history.
		l.logger.Error(ctx, "failed to read security events, dropping event", err, logger.Fields{"event_type": string(ev.Type)})
		return models.SecurityEvent{}, false
	}

	if len(events) > 0 {
		ev.PrevSignature = events[0].Signature
	}
	if l.signer != nil {
		payload, err := ev.SigningPayload()
		if err == nil {
			ev.Signature, err = l.signer.Sign(payload)
		}
		if err != nil {
			l.logger.Error(ctx, "failed to sign security event", err, logger.Fields{"event_type": string(ev.Type)})
			return models.SecurityEvent{}, false
		}
	}

	events = append([]models.SecurityEvent{ev}, events...)
	if len(events) > l.capacity {
		events = events[:l.capacity]
	}

	raw, err := json.Marshal(events)
	if err != nil {
		l.logger.Error(ctx, "failed to encode security events", err)
		return models.SecurityEvent{}, false
	}
	if err := l.store.Set(ctx, constants.StoreKeyEvents, string(raw)); err != nil {
		l.metrics.RecordStoreError("events_set")
		l.logger.Error(ctx, "failed to persist security events", err, logger.Fields{"event_type": string(ev.Type)})
		return models.SecurityEvent{}, false
	}
	return ev, true
}

// Events returns the full buffer, most recent first. Read faults yield an empty list.
func (l *EventLog) Events(ctx context.Context) []models.SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.load(ctx)
	if err != nil {
		l.logger.Error(ctx, "failed to read security events", err)
		return []models.SecurityEvent{}
	}
	return events
}

// Verify checks every retained signature and the links between neighbours.
// The oldest retained event anchors the chain.
func (l *EventLog) Verify(ctx context.Context) error {
	if l.signer == nil {
		return secerrors.ErrConfig("event signing is disabled")
	}

	l.mu.Lock()
	events, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	for i, ev := range events {
		payload, err := ev.SigningPayload()
		if err != nil || !l.signer.Verify(payload, ev.Signature) {
			return secerrors.ErrTampered(i)
		}
		if i+1 < len(events) && ev.PrevSignature != events[i+1].Signature {
			return secerrors.ErrTampered(i)
		}
	}
	return nil
}

// load reads the persisted buffer. A malformed buffer is treated as empty.
func (l *EventLog) load(ctx context.Context) ([]models.SecurityEvent, error) {
	raw, err := l.store.Get(ctx, constants.StoreKeyEvents)
	if errors.Is(err, repository.ErrKeyNotFound) {
		return []models.SecurityEvent{}, nil
	}
	if err != nil {
		l.metrics.RecordStoreError("events_get")
		return nil, secerrors.ErrStorage("get", err)
	}

	var events []models.SecurityEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		l.logger.Warn(ctx, "discarding malformed security event buffer", logger.Fields{"error": err.Error()})
		return []models.SecurityEvent{}, nil
	}
	if events == nil {
		events = []models.SecurityEvent{}
	}
	return events, nil
}
