// Package repository 定义领域仓储接口
// The persistent store is a generic, client-scoped key-value store shared by every
// security component. Each component owns a distinct key namespace.
package repository

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by KVStore.Get when the key is absent.
// ErrKeyNotFound 表示键不存在
var ErrKeyNotFound = errors.New("key not found")

// KVStore 定义持久化键值存储接口
// Implementations are synchronous per call and hold no handle across calls.
// 实现类：internal/infrastructure/persistence/{memory,redis,sqlstore}
type KVStore interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	// Get 读取键对应的值
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	// Set 写入或覆盖键值
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	// Remove 删除键（幂等）
	Remove(ctx context.Context, key string) error

	// Keys lists every key starting with prefix.
	// Keys 按前缀列出键
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// HealthChecker 定义后端健康检查接口
// Implemented by stores backed by a remote service (Redis, SQL).
type HealthChecker interface {
	HealthCheck(ctx context.Context) (map[string]interface{}, error)
}
