package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/secstate/internal/domain/repository"
	"github.com/turtacn/secstate/pkg/logger"
)

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checkers map[string]repository.HealthChecker
	timeout  time.Duration
	log      logger.Logger
}

// NewHealthHandler creates a new HealthHandler. An empty checker map always reports healthy.
func NewHealthHandler(checkers map[string]repository.HealthChecker, log logger.Logger) *HealthHandler {
	return &HealthHandler{checkers: checkers, timeout: 3 * time.Second, log: log}
}

// HealthCheck godoc
// @Summary      Health Check
// @Description  Checks the health of the store and its dependencies.
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}
// @Router       /healthz [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	checks := h.performChecks(ctx)
	for name, check := range checks {
		if check["status"] != "ok" {
			h.log.Warn(ctx, "health check failed", logger.Fields{"dependency": name})
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]map[string]interface{} {
	var wg sync.WaitGroup
	var mu sync.Mutex
	checks := make(map[string]map[string]interface{}, len(h.checkers))

	for name, checker := range h.checkers {
		wg.Add(1)
		go func(name string, checker repository.HealthChecker) {
			defer wg.Done()
			details, err := checker.HealthCheck(ctx)
			if details == nil {
				details = map[string]interface{}{}
			}
			details["status"] = "ok"
			if err != nil {
				details["status"] = "error: " + err.Error()
			}
			mu.Lock()
			checks[name] = details
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()
	return checks
}
