// Package service defines the domain services of the Security State Manager and the
// interfaces of the collaborators they depend on.
package service

import (
	"time"

	"github.com/turtacn/secstate/pkg/constants"
)

// Metrics defines the interface for collecting security metrics.
// This abstraction keeps the domain independent of the monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集安全指标的接口。
type Metrics interface {
	// RecordSecurityEvent counts a logged security event by type.
	// RecordSecurityEvent 按类型统计安全事件。
	RecordSecurityEvent(eventType constants.EventType)

	// RecordRateLimitDecision counts sliding window decisions.
	// RecordRateLimitDecision 统计限流判定结果。
	RecordRateLimitDecision(key string, allowed bool)

	// RecordBlock counts identities entering a block.
	// RecordBlock 统计被封禁的标识。
	RecordBlock()

	// RecordTokenRefresh records the outcome and latency of a refresh call.
	// RecordTokenRefresh 记录令牌刷新结果与耗时。
	RecordTokenRefresh(success bool, duration time.Duration)

	// RecordStoreError counts persistent store failures by operation.
	// RecordStoreError 统计存储错误。
	RecordStoreError(operation string)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordSecurityEvent(constants.EventType) {}
func (NoopMetrics) RecordRateLimitDecision(string, bool)    {}
func (NoopMetrics) RecordBlock()                            {}
func (NoopMetrics) RecordTokenRefresh(bool, time.Duration)  {}
func (NoopMetrics) RecordStoreError(string)                 {}

var _ Metrics = NoopMetrics{}
