// Package http serves the local diagnostics API of the Security State Manager.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	appservice "github.com/turtacn/secstate/internal/application/service"
	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/internal/domain/repository"
	"github.com/turtacn/secstate/internal/infrastructure/monitoring"
	"github.com/turtacn/secstate/internal/interfaces/http/handlers"
	"github.com/turtacn/secstate/internal/interfaces/http/middleware"
	"github.com/turtacn/secstate/pkg/logger"
)

// DiagnosticsRateLimitKey names the rate limit guarding the /v1/security
// group. Each client is counted under "diagnostics:<client ip>".
const DiagnosticsRateLimitKey = "diagnostics"

// RouterDependencies 路由依赖
type RouterDependencies struct {
	Config   *config.ServerConfig
	Security *config.SecurityConfig
	Manager  appservice.SecurityManager
	Health   map[string]repository.HealthChecker
	Gatherer prometheus.Gatherer
	Tracer   trace.Tracer
	Metrics  *monitoring.Metrics
	Logger   logger.Logger
}

// NewRouter 创建路由器
func NewRouter(deps RouterDependencies) *gin.Engine {
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.RecoveryMiddleware(deps.Logger))
	engine.Use(middleware.RequestID())
	if deps.Tracer != nil && deps.Metrics != nil {
		engine.Use(middleware.ObservabilityMiddleware(deps.Tracer, deps.Metrics))
	}
	engine.Use(middleware.LoggingMiddleware(deps.Logger))

	if len(deps.Config.AllowedOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     deps.Config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	engine.Use(middleware.SecureHeaders(deps.Manager))

	health := handlers.NewHealthHandler(deps.Health, deps.Logger)
	engine.GET("/healthz", health.HealthCheck)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if deps.Config.EnablePprof {
		pprof.Register(engine)
	}

	var policy models.GuardPolicy
	if deps.Security != nil {
		policy = deps.Security.GuardPolicy(DiagnosticsRateLimitKey)
	}
	security := handlers.NewSecurityHandler(deps.Manager, deps.Security, deps.Logger)
	v1 := engine.Group("/v1/security")
	v1.Use(middleware.RequestGuard(deps.Manager, DiagnosticsRateLimitKey, policy, deps.Logger))
	{
		v1.GET("/events", security.ListEvents)
		v1.GET("/events/verify", security.VerifyEvents)
		v1.GET("/fingerprint", security.Fingerprint)
		v1.GET("/headers", security.Headers)
		v1.GET("/csp", security.GetCSP)
		v1.PUT("/csp", security.UpdateCSP)
		v1.DELETE("/csp/:directive", security.DeleteCSP)
		v1.POST("/csp/validate", security.ValidateCSP)
		v1.POST("/password/check", security.CheckPassword)
		v1.POST("/url/check", security.CheckURL)
		v1.GET("/ratelimit/:key", security.RateLimitUsage)
		v1.DELETE("/blocks/:id", security.ClearBlock)
		v1.DELETE("/data", security.ClearData)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
	return engine
}

// StartServer serves handler until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, handler http.Handler, cfg *config.ServerConfig, log logger.Logger) error {
	server := &http.Server{
		Addr:           cfg.Addr(),
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting diagnostics server", logger.Fields{"address": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(ctx, "shutting down diagnostics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server forced to shutdown", err)
		return err
	}
	log.Info(shutdownCtx, "diagnostics server stopped")
	return nil
}
