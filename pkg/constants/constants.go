// Package constants defines system-wide constants for the secstate Security State Manager.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Store Namespace Constants
// ================================================================================

const (
	// StoreKeyPrefix is the namespace shared by every key this subsystem persists.
	StoreKeyPrefix = "secstate:"

	// StoreKeyToken holds the obfuscated TokenData entry
	StoreKeyToken = StoreKeyPrefix + "token"

	// StoreKeyEvents holds the security event ring buffer
	StoreKeyEvents = StoreKeyPrefix + "events"

	// StoreKeyCSPPolicy holds the CSP directive map as JSON
	StoreKeyCSPPolicy = StoreKeyPrefix + "csp_policy"

	// StoreKeyRateLimitPrefix prefixes per-endpoint sliding window state
	StoreKeyRateLimitPrefix = StoreKeyPrefix + "ratelimit:"

	// StoreKeyIPBlockPrefix prefixes per-identity block state
	StoreKeyIPBlockPrefix = StoreKeyPrefix + "ipblock:"
)

// ================================================================================
// Event Log Constants
// ================================================================================

// MaxSecurityEvents is the capacity of the security event log.
const MaxSecurityEvents = 1000

// EventType identifies the kind of a security event.
type EventType string

const (
	// EventTokenSet is emitted after a token pair is persisted
	EventTokenSet EventType = "token_set"

	// EventTokenSetFailed is emitted when a token pair could not be persisted
	EventTokenSetFailed EventType = "token_set_failed"

	// EventTokenRemoved is emitted when the stored token is deleted
	EventTokenRemoved EventType = "token_removed"

	// EventTokenRefreshed is emitted after a successful refresh
	EventTokenRefreshed EventType = "token_refreshed"

	// EventTokenRefreshFailed is emitted when a refresh attempt fails
	EventTokenRefreshFailed EventType = "token_refresh_failed"

	// EventTokenReadFailed is emitted when the stored token cannot be read or decoded
	EventTokenReadFailed EventType = "token_read_failed"

	// EventRateLimitExceeded is emitted when a request is rejected by the sliding window
	EventRateLimitExceeded EventType = "rate_limit_exceeded"

	// EventIPBlocked is emitted when an identity gets blocked or is found blocked
	EventIPBlocked EventType = "ip_blocked"

	// EventCSRFTokenFailed is emitted when a CSRF token could not be fetched
	EventCSRFTokenFailed EventType = "csrf_token_failed"

	// EventURLRejected is emitted when a URL fails validation
	EventURLRejected EventType = "url_rejected"

	// EventCSPPolicyUpdated is emitted when a CSP directive is added, replaced or removed
	EventCSPPolicyUpdated EventType = "csp_policy_updated"

	// EventSecurityDataCleared is emitted after every persisted key has been wiped
	EventSecurityDataCleared EventType = "security_data_cleared"
)

// ================================================================================
// Token Constants
// ================================================================================

const (
	// TokenTypeBearer is the scheme used in Authorization headers
	TokenTypeBearer = "Bearer"

	// DefaultCSRFTokenTTL is how long a fetched CSRF token is reused
	DefaultCSRFTokenTTL = 10 * time.Minute

	// DefaultSessionTimeout bounds every call to the session endpoints
	DefaultSessionTimeout = 10 * time.Second
)

// ================================================================================
// Header Constants
// ================================================================================

const (
	HeaderAuthorization      = "Authorization"
	HeaderCSRFToken          = "X-CSRF-Token"
	HeaderDeviceFingerprint  = "X-Device-Fingerprint"
	HeaderCSP                = "Content-Security-Policy"
	HeaderContentTypeOptions = "X-Content-Type-Options"
	HeaderFrameOptions       = "X-Frame-Options"
	HeaderXSSProtection      = "X-XSS-Protection"
	HeaderHSTS               = "Strict-Transport-Security"
	HeaderReferrerPolicy     = "Referrer-Policy"
	HeaderPermissionsPolicy  = "Permissions-Policy"
)

// Default values for the conservative security headers.
const (
	DefaultContentTypeOptions = "nosniff"
	DefaultFrameOptions       = "DENY"
	DefaultXSSProtection      = "1; mode=block"
	DefaultHSTS               = "max-age=31536000; includeSubDomains"
	DefaultReferrerPolicy     = "strict-origin-when-cross-origin"
	DefaultPermissionsPolicy  = "camera=(), microphone=(), geolocation=()"
)

// ================================================================================
// Password Policy Constants
// ================================================================================

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// ================================================================================
// Crypto Constants
// ================================================================================

// CipherAlgorithm selects the reversible transform used for the token entry.
type CipherAlgorithm string

const (
	// CipherAEAD is XChaCha20-Poly1305 with an HKDF-derived key
	CipherAEAD CipherAlgorithm = "aead"

	// CipherLegacyXOR is the repeating-key XOR obfuscation; it provides no confidentiality
	CipherLegacyXOR CipherAlgorithm = "legacy-xor"
)

// ================================================================================
// Store Driver Constants
// ================================================================================

// StoreDriver selects the persistent key-value backend.
type StoreDriver string

const (
	StoreDriverMemory   StoreDriver = "memory"
	StoreDriverRedis    StoreDriver = "redis"
	StoreDriverSQLite   StoreDriver = "sqlite"
	StoreDriverPostgres StoreDriver = "postgres"
)

// ================================================================================
// Logging Constants
// ================================================================================

// LogLevel represents the severity level of log messages
type LogLevel string

const (
	// LogLevelDebug is the most verbose logging level
	LogLevelDebug LogLevel = "debug"

	// LogLevelInfo is the standard informational logging level
	LogLevelInfo LogLevel = "info"

	// LogLevelWarn indicates potential issues
	LogLevelWarn LogLevel = "warn"

	// LogLevelError indicates errors that need attention
	LogLevelError LogLevel = "error"

	// LogLevelFatal logs only messages that terminate the process
	LogLevelFatal LogLevel = "fatal"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID is the key for distributed trace ID in context
	ContextKeyTraceID ContextKey = "trace_id"
)

// ServiceName is used for tracer and metric namespacing.
const ServiceName = "secstate"
