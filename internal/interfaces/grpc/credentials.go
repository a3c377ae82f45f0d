// Package grpc attaches the security state to outgoing gRPC calls and guards
// incoming ones.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/credentials"
)

// RequestHeaderSource supplies the outgoing security headers.
type RequestHeaderSource interface {
	GetRequestHeaders(ctx context.Context) map[string]string
}

// SecurityCredentials 将令牌、CSRF 令牌和设备指纹附加到每次调用的 metadata
type SecurityCredentials struct {
	source     RequestHeaderSource
	requireTLS bool
}

var _ credentials.PerRPCCredentials = (*SecurityCredentials)(nil)

// NewSecurityCredentials creates per-RPC credentials backed by source.
// requireTLS should only be false for loopback or test connections.
func NewSecurityCredentials(source RequestHeaderSource, requireTLS bool) *SecurityCredentials {
	return &SecurityCredentials{source: source, requireTLS: requireTLS}
}

// GetRequestMetadata implements credentials.PerRPCCredentials. gRPC metadata
// keys are lowercase.
func (c *SecurityCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	headers := c.source.GetRequestHeaders(ctx)
	md := make(map[string]string, len(headers))
	for name, value := range headers {
		md[strings.ToLower(name)] = value
	}
	return md, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (c *SecurityCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}
