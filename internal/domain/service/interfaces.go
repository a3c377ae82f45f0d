package service

import (
	"context"
	"time"

	"github.com/turtacn/secstate/internal/domain/models"
)

// Cipher is the reversible transform applied to the token entry at rest.
// Cipher 定义令牌落盘前使用的可逆变换。
type Cipher interface {
	// Encrypt transforms plaintext; Decrypt(Encrypt(x)) == x for every x.
	// Encrypt 加密明文
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt reverses Encrypt and fails on tampered or foreign input.
	// Decrypt 解密密文
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Hasher is a deterministic one-way hash over an ordered list of values.
// Hasher 对有序值列表进行确定性单向哈希。
type Hasher interface {
	Hash(ctx context.Context, values []string) (string, error)
}

// SessionClient is the network collaborator issuing refreshed tokens and CSRF tokens.
// SessionClient 负责刷新令牌和获取 CSRF 令牌的网络协作方。
type SessionClient interface {
	// Refresh exchanges a refresh credential for a new token pair.
	// Refresh 使用刷新凭证换取新的令牌对
	Refresh(ctx context.Context, refreshToken string) (*models.TokenData, error)

	// FetchCSRFToken obtains a CSRF token for state-changing requests.
	// FetchCSRFToken 获取 CSRF 令牌
	FetchCSRFToken(ctx context.Context) (string, error)
}

// EventSink receives a copy of every logged security event (e.g. an audit forwarder).
// EventSink 接收每条安全事件的副本（例如审计转发）。
type EventSink interface {
	Publish(ctx context.Context, event models.SecurityEvent) error
}

// EventSigner signs and verifies the security event chain.
// EventSigner 对安全事件链进行签名与校验。
type EventSigner interface {
	Sign(payload []byte) (string, error)
	Verify(payload []byte, signature string) bool
}

// EnvironmentDetector reads the ambient device attributes used for fingerprinting.
// EnvironmentDetector 读取用于设备指纹的环境属性。
type EnvironmentDetector interface {
	Attributes(ctx context.Context) (models.DeviceAttributes, error)
}

// Clock returns the current time. Tests inject a controllable clock.
type Clock func() time.Time
