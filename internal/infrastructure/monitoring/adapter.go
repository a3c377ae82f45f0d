// Package monitoring provides the zap logger, Prometheus metrics and
// OpenTelemetry tracing, plus the adapter connecting the domain's metrics
// interface to Prometheus.
package monitoring

import (
	"time"

	"github.com/turtacn/secstate/internal/domain/service"
	"github.com/turtacn/secstate/pkg/constants"
)

// MetricsAdapter implements the domain's service.Metrics interface, sending metrics to a Prometheus backend.
// MetricsAdapter 实现了域的 service.Metrics 接口，将指标发送到 Prometheus 后端。
type MetricsAdapter struct {
	metrics *Metrics
}

// NewMetricsAdapter wraps a concrete Prometheus Metrics object.
// NewMetricsAdapter 创建一个包装具体 Prometheus Metrics 对象的新适配器。
func NewMetricsAdapter(metrics *Metrics) service.Metrics {
	return &MetricsAdapter{metrics: metrics}
}

// RecordSecurityEvent 按类型统计安全事件。
func (a *MetricsAdapter) RecordSecurityEvent(eventType constants.EventType) {
	a.metrics.SecurityEvents.WithLabelValues(string(eventType)).Inc()
}

// RecordRateLimitDecision 统计限流判定结果。
func (a *MetricsAdapter) RecordRateLimitDecision(key string, allowed bool) {
	a.metrics.RateLimitDecisions.WithLabelValues(key, result(allowed, "allowed", "rejected")).Inc()
}

// RecordBlock 统计被封禁的标识。
func (a *MetricsAdapter) RecordBlock() {
	a.metrics.Blocks.Inc()
}

// RecordTokenRefresh delegates the call to the underlying Prometheus Metrics object.
// RecordTokenRefresh 将调用委托给底层的 Prometheus Metrics 对象。
func (a *MetricsAdapter) RecordTokenRefresh(success bool, duration time.Duration) {
	a.metrics.RecordTokenRefresh(success, duration)
}

// RecordStoreError 统计存储错误。
func (a *MetricsAdapter) RecordStoreError(operation string) {
	a.metrics.StoreErrors.WithLabelValues(operation).Inc()
}
