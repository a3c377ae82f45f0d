// Package service provides the application-level SecurityManager that orchestrates the
// token vault, request guards, CSP policy, fingerprinting and the security event log.
package service

import (
	"context"
	"sort"
	"strings"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/internal/domain/repository"
	domainService "github.com/turtacn/secstate/internal/domain/service"
	"github.com/turtacn/secstate/pkg/constants"
	"github.com/turtacn/secstate/pkg/logger"
	"github.com/turtacn/secstate/pkg/utils"
)

const csrfCacheKey = "csrf"

// SecurityManager is the single entry point UI and API-client code uses for session
// credentials, request gating, outgoing headers and security diagnostics. Apart from
// SetToken and the CSP mutators, methods never return an error; failures surface as
// the zero value plus a security event.
type SecurityManager interface {
	// GetToken returns the access token, refreshing it once if it expired.
	GetToken(ctx context.Context) (string, bool)

	// SetToken persists a token pair. Failures are returned.
	SetToken(ctx context.Context, data *models.TokenData) error

	// RemoveToken deletes the stored token pair (logout).
	RemoveToken(ctx context.Context)

	// IsTokenValid reports whether a JWT has a future exp claim.
	IsTokenValid(token string) bool

	// RefreshToken exchanges the refresh credential for a new pair.
	RefreshToken(ctx context.Context) bool

	// GetCsrfToken returns a cached or freshly fetched CSRF token, or "".
	GetCsrfToken(ctx context.Context) string

	// ValidatePasswordStrength checks a password against the password policy.
	ValidatePasswordStrength(password string) models.PasswordStrength

	// GetSecureHeaders returns the response security headers including the CSP.
	GetSecureHeaders() map[string]string

	// GetRequestHeaders returns the credential headers for an outgoing request.
	GetRequestHeaders(ctx context.Context) map[string]string

	// SanitizeInput strips markup and script fragments from user input.
	SanitizeInput(input string) string

	// CheckRateLimit records a request for key under the window cfg.
	CheckRateLimit(ctx context.Context, key string, cfg models.RateLimitConfig) bool

	// RateLimitUsage reports the window of key without recording a request.
	RateLimitUsage(ctx context.Context, key string, cfg models.RateLimitConfig) (*models.RateLimitUsage, error)

	// CheckIPBlock reports whether id may proceed.
	CheckIPBlock(ctx context.Context, id string, cfg models.IPBlockConfig) bool

	// RecordFailedAttempt counts a failed attempt and may block id under cfg.
	RecordFailedAttempt(ctx context.Context, id string, cfg models.IPBlockConfig)

	// ClearFailedAttempts lifts any block and forgets the attempts of id.
	ClearFailedAttempts(ctx context.Context, id string) error

	// GetDeviceFingerprint returns the fingerprint id, or "" on failure.
	GetDeviceFingerprint(ctx context.Context) string

	// DeviceFingerprint returns the full fingerprint including its components.
	DeviceFingerprint(ctx context.Context) (*models.DeviceFingerprint, error)

	// ClearSecurityData removes every persisted key and returns how many were removed.
	ClearSecurityData(ctx context.Context) int

	// UpdateCSPPolicy adds or replaces one CSP directive.
	UpdateCSPPolicy(ctx context.Context, directive string, sources []string) error

	// ReplaceCSPPolicy swaps the whole CSP directive set.
	ReplaceCSPPolicy(ctx context.Context, directives map[string][]string) error

	// RemoveCSPPolicy deletes one CSP directive.
	RemoveCSPPolicy(ctx context.Context, directive string) bool

	// ValidateCSPPolicy checks a serialized policy string.
	ValidateCSPPolicy(policy string) bool

	// CSPDirectives returns a copy of the current directive map.
	CSPDirectives() map[string][]string

	// ValidateURL checks a URL against the scheme and host policy.
	ValidateURL(ctx context.Context, raw string) bool

	// SanitizeURL returns the normalized URL, or "" when it is rejected.
	SanitizeURL(ctx context.Context, raw string) string

	// GetEvents returns the security events, most recent first.
	GetEvents(ctx context.Context) []models.SecurityEvent

	// VerifyEventLog checks the signature chain of the event log.
	VerifyEventLog(ctx context.Context) error
}

// Dependencies are the collaborators a SecurityManager orchestrates.
type Dependencies struct {
	Store       repository.KVStore
	Vault       *domainService.TokenVault
	RateLimiter *domainService.RateLimiter
	AbuseGuard  *domainService.AbuseGuard
	CSP         *domainService.CSPPolicy
	Fingerprint *domainService.FingerprintGenerator
	Events      *domainService.EventLog
	// Session may be nil when no session endpoint is configured.
	Session domainService.SessionClient
}

type securityManagerImpl struct {
	deps           Dependencies
	allowedDomains []string
	csrfCache      *cache.Cache
	csrfGroup      singleflight.Group
	logger         logger.Logger
}

// NewSecurityManager creates a SecurityManager.
func NewSecurityManager(deps Dependencies, cfg *config.Config, log logger.Logger) SecurityManager {
	ttl := cfg.Session.CSRFTokenTTL
	if ttl <= 0 {
		ttl = constants.DefaultCSRFTokenTTL
	}
	return &securityManagerImpl{
		deps:           deps,
		allowedDomains: cfg.Session.AllowedDomains,
		csrfCache:      cache.New(ttl, 2*ttl),
		logger:         log.WithComponent("SecurityManager"),
	}
}

func (s *securityManagerImpl) GetToken(ctx context.Context) (string, bool) {
	return s.deps.Vault.GetToken(ctx)
}

func (s *securityManagerImpl) SetToken(ctx context.Context, data *models.TokenData) error {
	return s.deps.Vault.SetToken(ctx, data)
}

func (s *securityManagerImpl) RemoveToken(ctx context.Context) {
	s.deps.Vault.RemoveToken(ctx)
	s.csrfCache.Delete(csrfCacheKey)
}

func (s *securityManagerImpl) IsTokenValid(token string) bool {
	return s.deps.Vault.IsTokenValid(token)
}

func (s *securityManagerImpl) RefreshToken(ctx context.Context) bool {
	return s.deps.Vault.RefreshToken(ctx)
}

// GetCsrfToken serves the cached token until its TTL lapses. Concurrent cache
// misses share one fetch.
func (s *securityManagerImpl) GetCsrfToken(ctx context.Context) string {
	if token, ok := s.csrfCache.Get(csrfCacheKey); ok {
		return token.(string)
	}
	if s.deps.Session == nil {
		s.deps.Events.Log(ctx, models.CSRFTokenFailedDetails{Reason: "no session endpoint configured"})
		return ""
	}

	token, err, _ := s.csrfGroup.Do(csrfCacheKey, func() (interface{}, error) {
		token, err := s.deps.Session.FetchCSRFToken(ctx)
		if err != nil {
			return "", err
		}
		s.csrfCache.SetDefault(csrfCacheKey, token)
		return token, nil
	})
	if err != nil {
		s.logger.Warn(ctx, "failed to fetch csrf token", logger.Fields{"error": err.Error()})
		s.deps.Events.Log(ctx, models.CSRFTokenFailedDetails{Reason: utils.Truncate(err.Error(), 200)})
		return ""
	}
	return token.(string)
}

func (s *securityManagerImpl) ValidatePasswordStrength(password string) models.PasswordStrength {
	problems := utils.CheckPasswordStrength(password)
	return models.PasswordStrength{IsValid: len(problems) == 0, Errors: problems}
}

func (s *securityManagerImpl) GetSecureHeaders() map[string]string {
	headers := map[string]string{
		constants.HeaderContentTypeOptions: constants.DefaultContentTypeOptions,
		constants.HeaderFrameOptions:       constants.DefaultFrameOptions,
		constants.HeaderXSSProtection:      constants.DefaultXSSProtection,
		constants.HeaderHSTS:               constants.DefaultHSTS,
		constants.HeaderReferrerPolicy:     constants.DefaultReferrerPolicy,
		constants.HeaderPermissionsPolicy:  constants.DefaultPermissionsPolicy,
	}
	if policy := s.deps.CSP.PolicyString(); policy != "" {
		headers[constants.HeaderCSP] = policy
	}
	return headers
}

func (s *securityManagerImpl) GetRequestHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string, 3)
	if token, ok := s.GetToken(ctx); ok {
		headers[constants.HeaderAuthorization] = constants.TokenTypeBearer + " " + token
	}
	if csrf := s.GetCsrfToken(ctx); csrf != "" {
		headers[constants.HeaderCSRFToken] = csrf
	}
	if fp := s.GetDeviceFingerprint(ctx); fp != "" {
		headers[constants.HeaderDeviceFingerprint] = fp
	}
	return headers
}

func (s *securityManagerImpl) SanitizeInput(input string) string {
	return utils.SanitizeInput(input)
}

// CheckRateLimit rejects the request when cfg is invalid.
func (s *securityManagerImpl) CheckRateLimit(ctx context.Context, key string, cfg models.RateLimitConfig) bool {
	return s.deps.RateLimiter.CheckRateLimit(ctx, key, cfg)
}

func (s *securityManagerImpl) RateLimitUsage(ctx context.Context, key string, cfg models.RateLimitConfig) (*models.RateLimitUsage, error) {
	return s.deps.RateLimiter.Usage(ctx, key, cfg)
}

func (s *securityManagerImpl) CheckIPBlock(ctx context.Context, id string, cfg models.IPBlockConfig) bool {
	return s.deps.AbuseGuard.CheckIPBlock(ctx, id, cfg)
}

func (s *securityManagerImpl) RecordFailedAttempt(ctx context.Context, id string, cfg models.IPBlockConfig) {
	s.deps.AbuseGuard.RecordFailedAttempt(ctx, id, cfg)
}

func (s *securityManagerImpl) ClearFailedAttempts(ctx context.Context, id string) error {
	return s.deps.AbuseGuard.ClearAttempts(ctx, id)
}

func (s *securityManagerImpl) GetDeviceFingerprint(ctx context.Context) string {
	fp, err := s.DeviceFingerprint(ctx)
	if err != nil {
		return ""
	}
	return fp.ID
}

func (s *securityManagerImpl) DeviceFingerprint(ctx context.Context) (*models.DeviceFingerprint, error) {
	fp, err := s.deps.Fingerprint.Generate(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to generate device fingerprint", err)
		return nil, err
	}
	return fp, nil
}

// ClearSecurityData removes every key under the secstate namespace, then
// records the wipe as the first event of the fresh log.
func (s *securityManagerImpl) ClearSecurityData(ctx context.Context) int {
	s.csrfCache.Flush()

	keys, err := s.deps.Store.Keys(ctx, constants.StoreKeyPrefix)
	if err != nil {
		s.logger.Error(ctx, "failed to list security keys", err)
		return 0
	}
	sort.Strings(keys)

	removed := 0
	for _, key := range keys {
		if err := s.deps.Store.Remove(ctx, key); err != nil {
			s.logger.Error(ctx, "failed to remove security key", err, logger.Fields{"key": key})
			continue
		}
		removed++
	}

	s.logger.Info(ctx, "security data cleared", logger.Fields{"keys_removed": removed})
	s.deps.Events.Log(ctx, models.SecurityDataClearedDetails{KeysRemoved: removed})
	return removed
}

func (s *securityManagerImpl) UpdateCSPPolicy(ctx context.Context, directive string, sources []string) error {
	if err := s.deps.CSP.AddPolicy(ctx, directive, sources); err != nil {
		return err
	}
	s.deps.Events.Log(ctx, models.CSPPolicyUpdatedDetails{
		Directive: strings.ToLower(strings.TrimSpace(directive)),
		Sources:   sources,
	})
	return nil
}

func (s *securityManagerImpl) ReplaceCSPPolicy(ctx context.Context, directives map[string][]string) error {
	if err := s.deps.CSP.Replace(ctx, directives); err != nil {
		return err
	}
	s.deps.Events.Log(ctx, models.CSPPolicyUpdatedDetails{Directive: "*"})
	return nil
}

func (s *securityManagerImpl) RemoveCSPPolicy(ctx context.Context, directive string) bool {
	if !s.deps.CSP.RemovePolicy(ctx, directive) {
		return false
	}
	s.deps.Events.Log(ctx, models.CSPPolicyUpdatedDetails{
		Directive: strings.ToLower(strings.TrimSpace(directive)),
		Removed:   true,
	})
	return true
}

func (s *securityManagerImpl) ValidateCSPPolicy(policy string) bool {
	return s.deps.CSP.ValidatePolicy(policy)
}

func (s *securityManagerImpl) CSPDirectives() map[string][]string {
	return s.deps.CSP.Directives()
}

func (s *securityManagerImpl) ValidateURL(ctx context.Context, raw string) bool {
	if _, reason := utils.CheckURL(raw, s.allowedDomains); reason != "" {
		s.deps.Events.Log(ctx, models.URLRejectedDetails{URL: utils.Truncate(raw, 256), Reason: reason})
		return false
	}
	return true
}

func (s *securityManagerImpl) SanitizeURL(ctx context.Context, raw string) string {
	if !s.ValidateURL(ctx, raw) {
		return ""
	}
	return utils.SanitizeURL(raw, s.allowedDomains)
}

func (s *securityManagerImpl) GetEvents(ctx context.Context) []models.SecurityEvent {
	return s.deps.Events.Events(ctx)
}

func (s *securityManagerImpl) VerifyEventLog(ctx context.Context) error {
	return s.deps.Events.Verify(ctx)
}
