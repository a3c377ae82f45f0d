package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/secstate/internal/application/dto"
	"github.com/turtacn/secstate/internal/domain/models"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

// HeaderSource supplies the response security headers.
type HeaderSource interface {
	GetSecureHeaders() map[string]string
}

// RequestGate decides whether a client may proceed.
type RequestGate interface {
	CheckIPBlock(ctx context.Context, id string, cfg models.IPBlockConfig) bool
	CheckRateLimit(ctx context.Context, key string, cfg models.RateLimitConfig) bool
	RecordFailedAttempt(ctx context.Context, id string, cfg models.IPBlockConfig)
}

// SecureHeaders sets the security headers on every response.
func SecureHeaders(source HeaderSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		for name, value := range source.GetSecureHeaders() {
			c.Header(name, value)
		}
		c.Next()
	}
}

// RequestGuard rejects blocked clients and requests over the rate limit.
// Each client IP has its own window, stored under "<name>:<ip>". Responses
// with a client error status count as failed attempts of the client IP, so
// repeated client errors end in a block. Nil parts of policy are not enforced.
func RequestGuard(gate RequestGate, name string, policy models.GuardPolicy, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientIP := c.ClientIP()

		if policy.IPBlock != nil && !gate.CheckIPBlock(ctx, clientIP, *policy.IPBlock) {
			log.Warn(ctx, "blocked client rejected", logger.Fields{"client_ip": clientIP})
			dto.SendError(c, secerrors.ErrBlocked(clientIP))
			return
		}
		if policy.RateLimit != nil {
			key := ClientRateLimitKey(name, clientIP)
			if !gate.CheckRateLimit(ctx, key, *policy.RateLimit) {
				log.Warn(ctx, "rate limit exceeded", logger.Fields{"key": key, "client_ip": clientIP})
				dto.SendError(c, secerrors.ErrRateLimited(key))
				return
			}
		}

		c.Next()

		if policy.IPBlock == nil {
			return
		}
		switch c.Writer.Status() {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusMethodNotAllowed:
			gate.RecordFailedAttempt(ctx, clientIP, *policy.IPBlock)
		}
	}
}

// ClientRateLimitKey is the rate limit key of one client under name.
func ClientRateLimitKey(name, clientID string) string {
	return name + ":" + clientID
}
