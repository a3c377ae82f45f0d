package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenData_JSONShape(t *testing.T) {
	exp := time.UnixMilli(1700000000123)
	td := TokenData{AccessToken: "a", RefreshToken: "r", ExpiresAt: exp}

	raw, err := json.Marshal(td)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accessToken":"a","refreshToken":"r","expiresAt":1700000000123}`, string(raw))

	var decoded TokenData
	require.NoError(t, json.Unmarshal([]byte(`{"accessToken":"x","refreshToken":"y","expiresAt":1700000000123}`), &decoded))
	assert.Equal(t, "x", decoded.AccessToken)
	assert.Equal(t, "y", decoded.RefreshToken)
	assert.True(t, decoded.ExpiresAt.Equal(exp))
}

func TestTokenData_IsExpired(t *testing.T) {
	now := time.Now()
	td := &TokenData{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, td.IsExpired(now))
	assert.True(t, td.IsExpired(now.Add(time.Minute)))
	assert.Equal(t, time.Minute, td.TimeToExpiry(now))
	assert.Equal(t, time.Duration(0), td.TimeToExpiry(now.Add(time.Hour)))
}
