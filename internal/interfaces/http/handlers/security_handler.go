// Package handlers implements the diagnostics HTTP endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/secstate/internal/application/dto"
	appservice "github.com/turtacn/secstate/internal/application/service"
	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
	"github.com/turtacn/secstate/pkg/utils"
)

// SecurityHandler exposes the SecurityManager diagnostics.
type SecurityHandler struct {
	manager  appservice.SecurityManager
	security *config.SecurityConfig
	log      logger.Logger
}

// NewSecurityHandler creates a new SecurityHandler. security supplies the
// configured rate limit windows; it may be nil.
func NewSecurityHandler(manager appservice.SecurityManager, security *config.SecurityConfig, log logger.Logger) *SecurityHandler {
	return &SecurityHandler{manager: manager, security: security, log: log}
}

// ListEvents returns the security events, most recent first.
// @Router /v1/security/events [get]
func (h *SecurityHandler) ListEvents(c *gin.Context) {
	events := h.manager.GetEvents(c.Request.Context())
	dto.SendSuccess(c, http.StatusOK, dto.EventsResponse{Events: events, Count: len(events)})
}

// VerifyEvents checks the event signature chain.
// @Router /v1/security/events/verify [get]
func (h *SecurityHandler) VerifyEvents(c *gin.Context) {
	if err := h.manager.VerifyEventLog(c.Request.Context()); err != nil {
		if secerrors.CodeOf(err) == secerrors.CodeTampered {
			dto.SendSuccess(c, http.StatusOK, dto.VerifyResponse{Intact: false, Reason: err.Error()})
			return
		}
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, dto.VerifyResponse{Intact: true})
}

// Fingerprint returns the device fingerprint.
// @Router /v1/security/fingerprint [get]
func (h *SecurityHandler) Fingerprint(c *gin.Context) {
	fp, err := h.manager.DeviceFingerprint(c.Request.Context())
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, fp)
}

// Headers returns the response security headers. Request headers are not
// reported: building them may refresh or discard the session.
// @Router /v1/security/headers [get]
func (h *SecurityHandler) Headers(c *gin.Context) {
	dto.SendSuccess(c, http.StatusOK, gin.H{"response": h.manager.GetSecureHeaders()})
}

// GetCSP returns the current policy.
// @Router /v1/security/csp [get]
func (h *SecurityHandler) GetCSP(c *gin.Context) {
	dto.SendSuccess(c, http.StatusOK, h.cspResponse())
}

// UpdateCSP adds or replaces one directive.
// @Router /v1/security/csp [put]
func (h *SecurityHandler) UpdateCSP(c *gin.Context) {
	var req dto.UpdateCSPRequest
	if !bind(c, &req) {
		return
	}
	if err := h.manager.UpdateCSPPolicy(c.Request.Context(), req.Directive, req.Sources); err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, h.cspResponse())
}

// DeleteCSP removes one directive.
// @Router /v1/security/csp/{directive} [delete]
func (h *SecurityHandler) DeleteCSP(c *gin.Context) {
	directive := c.Param("directive")
	if !h.manager.RemoveCSPPolicy(c.Request.Context(), directive) {
		dto.SendError(c, secerrors.ErrNotFound("directive "+directive))
		return
	}
	dto.SendSuccess(c, http.StatusOK, h.cspResponse())
}

// ValidateCSP checks a serialized policy.
// @Router /v1/security/csp/validate [post]
func (h *SecurityHandler) ValidateCSP(c *gin.Context) {
	var req dto.ValidateCSPRequest
	if !bind(c, &req) {
		return
	}
	dto.SendSuccess(c, http.StatusOK, gin.H{"valid": h.manager.ValidateCSPPolicy(req.Policy)})
}

// CheckPassword evaluates a password against the policy.
// @Router /v1/security/password/check [post]
func (h *SecurityHandler) CheckPassword(c *gin.Context) {
	var req dto.PasswordCheckRequest
	if !bind(c, &req) {
		return
	}
	dto.SendSuccess(c, http.StatusOK, h.manager.ValidatePasswordStrength(req.Password))
}

// CheckURL validates and normalizes a URL.
// @Router /v1/security/url/check [post]
func (h *SecurityHandler) CheckURL(c *gin.Context) {
	var req dto.URLCheckRequest
	if !bind(c, &req) {
		return
	}
	sanitized := h.manager.SanitizeURL(c.Request.Context(), req.URL)
	dto.SendSuccess(c, http.StatusOK, dto.URLCheckResponse{Valid: sanitized != "", Sanitized: sanitized})
}

// RateLimitUsage reports the window of one key under its configured limit.
// @Router /v1/security/ratelimit/{key} [get]
func (h *SecurityHandler) RateLimitUsage(c *gin.Context) {
	key := c.Param("key")
	var (
		cfg models.RateLimitConfig
		ok  bool
	)
	if h.security != nil {
		cfg, ok = h.security.RateLimitFor(key)
	}
	if !ok {
		dto.SendError(c, secerrors.ErrNotFound("rate limit for "+key))
		return
	}
	usage, err := h.manager.RateLimitUsage(c.Request.Context(), key, cfg)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, usage)
}

// ClearBlock lifts the block of one identity.
// @Router /v1/security/blocks/{id} [delete]
func (h *SecurityHandler) ClearBlock(c *gin.Context) {
	if err := h.manager.ClearFailedAttempts(c.Request.Context(), c.Param("id")); err != nil {
		dto.SendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearData wipes every persisted security key.
// @Router /v1/security/data [delete]
func (h *SecurityHandler) ClearData(c *gin.Context) {
	removed := h.manager.ClearSecurityData(c.Request.Context())
	h.log.Info(c.Request.Context(), "security data wiped via diagnostics api", logger.Fields{"keys_removed": removed})
	dto.SendSuccess(c, http.StatusOK, dto.ClearResponse{KeysRemoved: removed})
}

func (h *SecurityHandler) cspResponse() dto.CSPResponse {
	return dto.CSPResponse{
		Policy:     h.manager.GetSecureHeaders()[constants.HeaderCSP],
		Directives: h.manager.CSPDirectives(),
	}
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		dto.SendError(c, secerrors.ErrInvalidRequest("malformed request body").WithCause(err))
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		dto.SendError(c, err)
		return false
	}
	return true
}
