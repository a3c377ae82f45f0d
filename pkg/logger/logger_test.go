package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeValue(t *testing.T) {
	assert.Equal(t, "eyJh***sig1", SanitizeValue("access_token", "eyJhbGciOi.payload.sig1"))
	assert.Equal(t, "***REDACTED***", SanitizeValue("Password", "short"))
	assert.Equal(t, "***REDACTED***", SanitizeValue("refresh_token", 42))
	assert.Equal(t, int64(1700000000000), SanitizeValue("token_expires_at", int64(1700000000000)))
	assert.Equal(t, "GET", SanitizeValue("method", "GET"))
}
