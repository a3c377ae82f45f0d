package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/secstate/pkg/constants"
)

func TestSecurityEvent_TypedDetailsSurvivePersistence(t *testing.T) {
	until := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev, err := NewSecurityEvent(IPBlockedDetails{ID: "10.0.0.1", Attempts: 5, BlockedUntil: until}, time.Now())
	require.NoError(t, err)
	ev.PrevSignature = "prev"
	ev.Signature = "sig"

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded SecurityEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, constants.EventIPBlocked, decoded.Type)
	assert.True(t, ev.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, "prev", decoded.PrevSignature)
	assert.Equal(t, "sig", decoded.Signature)

	details, ok := decoded.Details.(IPBlockedDetails)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", details.ID)
	assert.Equal(t, 5, details.Attempts)
	assert.True(t, until.Equal(details.BlockedUntil))

	before, err := ev.SigningPayload()
	require.NoError(t, err)
	after, err := decoded.SigningPayload()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestSecurityEvent_UnknownTypeIsPreserved(t *testing.T) {
	var ev SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(`{"id":"7f1c1d59-3c1e-4f4e-9b55-0c6b0e6b9f11","type":"future_event","timestamp":1,"details":{"a":1}}`), &ev))

	details, ok := ev.Details.(UnknownDetails)
	require.True(t, ok)
	assert.Equal(t, constants.EventType("future_event"), details.EventType())
	assert.JSONEq(t, `{"a":1}`, string(details.Raw))
}

func TestSecurityEvent_TokenSetCarriesOnlyExpiry(t *testing.T) {
	ev, err := NewSecurityEvent(TokenSetDetails{ExpiresAt: time.Unix(100, 0).UTC()}, time.Now())
	require.NoError(t, err)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "accessToken")
	assert.NotContains(t, string(raw), "refreshToken")
	assert.Contains(t, string(raw), `"expires_at"`)
}

func TestRateLimitState_Prune(t *testing.T) {
	now := time.UnixMilli(10_000)
	s := &RateLimitState{Requests: []int64{8_999, 9_000, 9_001, 9_999}}

	s.Prune(now, time.Second)

	assert.Equal(t, []int64{9_001, 9_999}, s.Requests)
}

func TestDeviceAttributes_ComponentsOrder(t *testing.T) {
	a := DeviceAttributes{
		UserAgent: "ua", Language: "en-US", Platform: "linux/amd64",
		ScreenWidth: 1920, ScreenHeight: 1080, ColorDepth: 24,
		TimezoneOffset: -300, CPUCount: 8, DeviceMemoryGB: 0.5, MaxTouchPoints: 0,
	}
	assert.Equal(t, []string{"ua", "en-US", "linux/amd64", "1920x1080", "24", "-300", "8", "0.5", "0"}, a.Components())
}

func TestSecurityEvent_UnencodableDetails(t *testing.T) {
	ev := SecurityEvent{
		Type:    "future_event",
		Details: UnknownDetails{Type: "future_event", Raw: json.RawMessage(`{"a":`)},
	}

	_, err := ev.SigningPayload()
	assert.Error(t, err)
	_, err = json.Marshal(ev)
	assert.Error(t, err)
}
