package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/secstate/pkg/constants"
)

// EventDetails is the typed payload of a security event. Each event type has
// exactly one details struct, so the log is statically checkable.
type EventDetails interface {
	EventType() constants.EventType
}

// TokenSetDetails never carries the credential itself.
type TokenSetDetails struct {
	ExpiresAt time.Time `json:"expires_at"`
}

type TokenSetFailedDetails struct {
	Reason string `json:"reason"`
}

type TokenRemovedDetails struct{}

type TokenRefreshedDetails struct {
	ExpiresAt time.Time `json:"expires_at"`
}

type TokenRefreshFailedDetails struct {
	Reason string `json:"reason"`
}

type TokenReadFailedDetails struct {
	Reason string `json:"reason"`
}

type RateLimitExceededDetails struct {
	Key         string `json:"key"`
	Count       int    `json:"count"`
	MaxRequests int    `json:"max_requests"`
	WindowMs    int64  `json:"window_ms"`
}

type IPBlockedDetails struct {
	ID           string    `json:"id"`
	Attempts     int       `json:"attempts"`
	BlockedUntil time.Time `json:"blocked_until"`
}

type CSRFTokenFailedDetails struct {
	Reason string `json:"reason"`
}

type URLRejectedDetails struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

type CSPPolicyUpdatedDetails struct {
	Directive string   `json:"directive"`
	Sources   []string `json:"sources,omitempty"`
	Removed   bool     `json:"removed,omitempty"`
}

type SecurityDataClearedDetails struct {
	KeysRemoved int `json:"keys_removed"`
}

// UnknownDetails preserves events written by a newer build.
type UnknownDetails struct {
	Type constants.EventType
	Raw  json.RawMessage
}

func (TokenSetDetails) EventType() constants.EventType       { return constants.EventTokenSet }
func (TokenSetFailedDetails) EventType() constants.EventType { return constants.EventTokenSetFailed }
func (TokenRemovedDetails) EventType() constants.EventType   { return constants.EventTokenRemoved }
func (TokenRefreshedDetails) EventType() constants.EventType { return constants.EventTokenRefreshed }
func (TokenRefreshFailedDetails) EventType() constants.EventType {
	return constants.EventTokenRefreshFailed
}
func (TokenReadFailedDetails) EventType() constants.EventType { return constants.EventTokenReadFailed }
func (RateLimitExceededDetails) EventType() constants.EventType {
	return constants.EventRateLimitExceeded
}
func (IPBlockedDetails) EventType() constants.EventType       { return constants.EventIPBlocked }
func (CSRFTokenFailedDetails) EventType() constants.EventType { return constants.EventCSRFTokenFailed }
func (URLRejectedDetails) EventType() constants.EventType     { return constants.EventURLRejected }
func (CSPPolicyUpdatedDetails) EventType() constants.EventType {
	return constants.EventCSPPolicyUpdated
}
func (SecurityDataClearedDetails) EventType() constants.EventType {
	return constants.EventSecurityDataCleared
}
func (d UnknownDetails) EventType() constants.EventType { return d.Type }

var detailDecoders = map[constants.EventType]func(json.RawMessage) (EventDetails, error){
	constants.EventTokenSet:            decodeAs[TokenSetDetails],
	constants.EventTokenSetFailed:      decodeAs[TokenSetFailedDetails],
	constants.EventTokenRemoved:        decodeAs[TokenRemovedDetails],
	constants.EventTokenRefreshed:      decodeAs[TokenRefreshedDetails],
	constants.EventTokenRefreshFailed:  decodeAs[TokenRefreshFailedDetails],
	constants.EventTokenReadFailed:     decodeAs[TokenReadFailedDetails],
	constants.EventRateLimitExceeded:   decodeAs[RateLimitExceededDetails],
	constants.EventIPBlocked:           decodeAs[IPBlockedDetails],
	constants.EventCSRFTokenFailed:     decodeAs[CSRFTokenFailedDetails],
	constants.EventURLRejected:         decodeAs[URLRejectedDetails],
	constants.EventCSPPolicyUpdated:    decodeAs[CSPPolicyUpdatedDetails],
	constants.EventSecurityDataCleared: decodeAs[SecurityDataClearedDetails],
}

func decodeAs[T EventDetails](raw json.RawMessage) (EventDetails, error) {
	var d T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SecurityEvent is one entry of the security event log.
type SecurityEvent struct {
	ID        uuid.UUID
	Type      constants.EventType
	Timestamp time.Time
	Details   EventDetails

	// PrevSignature links to the signature of the next older event.
	PrevSignature string
	Signature     string

	rawDetails json.RawMessage
}

// NewSecurityEvent builds an event at now. Timestamps are kept at millisecond
// precision so the persisted form signs identically.
func NewSecurityEvent(details EventDetails, now time.Time) (SecurityEvent, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return SecurityEvent{}, err
	}
	return SecurityEvent{
		ID:         uuid.New(),
		Type:       details.EventType(),
		Timestamp:  time.UnixMilli(now.UnixMilli()).UTC(),
		Details:    details,
		rawDetails: raw,
	}, nil
}

type securityEventJSON struct {
	ID            uuid.UUID           `json:"id"`
	Type          constants.EventType `json:"type"`
	Timestamp     int64               `json:"timestamp"`
	Details       json.RawMessage     `json:"details,omitempty"`
	PrevSignature string              `json:"prev_signature,omitempty"`
	Signature     string              `json:"signature,omitempty"`
}

func (e SecurityEvent) wire(withSignature bool) (securityEventJSON, error) {
	raw := e.rawDetails
	if raw == nil && e.Details != nil {
		var err error
		if raw, err = json.Marshal(e.Details); err != nil {
			return securityEventJSON{}, fmt.Errorf("encode %s details: %w", e.Type, err)
		}
	}
	w := securityEventJSON{
		ID:            e.ID,
		Type:          e.Type,
		Timestamp:     e.Timestamp.UnixMilli(),
		Details:       raw,
		PrevSignature: e.PrevSignature,
	}
	if withSignature {
		w.Signature = e.Signature
	}
	return w, nil
}

// SigningPayload is the canonical byte form covered by the event signature.
func (e SecurityEvent) SigningPayload() ([]byte, error) {
	w, err := e.wire(false)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// MarshalJSON implements json.Marshaler.
func (e SecurityEvent) MarshalJSON() ([]byte, error) {
	w, err := e.wire(true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores the typed details from the event type tag.
func (e *SecurityEvent) UnmarshalJSON(data []byte) error {
	var w securityEventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	details, err := decodeDetails(w.Type, w.Details)
	if err != nil {
		return err
	}
	*e = SecurityEvent{
		ID:            w.ID,
		Type:          w.Type,
		Timestamp:     time.UnixMilli(w.Timestamp).UTC(),
		Details:       details,
		PrevSignature: w.PrevSignature,
		Signature:     w.Signature,
		rawDetails:    w.Details,
	}
	return nil
}

func decodeDetails(t constants.EventType, raw json.RawMessage) (EventDetails, error) {
	decode, ok := detailDecoders[t]
	if !ok {
		return UnknownDetails{Type: t, Raw: raw}, nil
	}
	return decode(raw)
}
