package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/turtacn/secstate/internal/domain/models"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

// TokenRefresher renews the stored access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context) bool
}

// RequestGate decides whether a caller may proceed.
type RequestGate interface {
	CheckIPBlock(ctx context.Context, id string, cfg models.IPBlockConfig) bool
	CheckRateLimit(ctx context.Context, key string, cfg models.RateLimitConfig) bool
	RecordFailedAttempt(ctx context.Context, id string, cfg models.IPBlockConfig)
}

// UnaryRefreshInterceptor retries a call once after a successful token refresh
// when the server answers Unauthenticated. Use it together with
// SecurityCredentials so the retry carries the refreshed token.
func UnaryRefreshInterceptor(refresher TokenRefresher, log logger.Logger) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		if status.Code(err) != grpcCodes.Unauthenticated {
			return err
		}
		if !refresher.RefreshToken(ctx) {
			log.Warn(ctx, "token refresh failed after unauthenticated response", logger.Fields{"method": method})
			return err
		}
		log.Debug(ctx, "retrying call with refreshed token", logger.Fields{"method": method})
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// InterceptorChain 服务端拦截器链
type InterceptorChain struct {
	log    logger.Logger
	gate   RequestGate
	name   string
	policy models.GuardPolicy
}

// NewInterceptorChain 创建拦截器链. Callers are counted under
// "<name>:<client ip>"; an empty name counts each full method separately.
// A nil policy field disables that check.
func NewInterceptorChain(log logger.Logger, gate RequestGate, name string, policy models.GuardPolicy) *InterceptorChain {
	return &InterceptorChain{log: log, gate: gate, name: name, policy: policy}
}

// UnaryRecoveryInterceptor 恢复拦截器(捕获 panic)
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.Fields{"method": info.FullMethod},
				)
				err = status.Errorf(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor 日志拦截器
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()
		resp, err := handler(ctx, req)

		ic.log.Info(ctx, "gRPC request completed", logger.Fields{
			"method":      info.FullMethod,
			"client_ip":   clientID(ctx),
			"duration_ms": time.Since(startTime).Milliseconds(),
			"status":      status.Code(err).String(),
		})
		return resp, err
	}
}

// UnaryGuardInterceptor rejects blocked callers and calls over the rate limit.
// Unauthenticated and PermissionDenied results count as failed attempts.
func (ic *InterceptorChain) UnaryGuardInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		id := clientID(ctx)
		if ic.policy.IPBlock != nil && !ic.gate.CheckIPBlock(ctx, id, *ic.policy.IPBlock) {
			ic.log.Warn(ctx, "blocked caller rejected", logger.Fields{"client_ip": id, "method": info.FullMethod})
			return nil, status.Errorf(grpcCodes.PermissionDenied, "caller %s is blocked", id)
		}

		if ic.policy.RateLimit != nil {
			name := ic.name
			if name == "" {
				name = info.FullMethod
			}
			key := name + ":" + id
			if !ic.gate.CheckRateLimit(ctx, key, *ic.policy.RateLimit) {
				ic.log.Warn(ctx, "rate limit exceeded", logger.Fields{"client_ip": id, "method": info.FullMethod})
				return nil, status.Errorf(grpcCodes.ResourceExhausted, "rate limit exceeded for %s", key)
			}
		}

		resp, err := handler(ctx, req)
		if ic.policy.IPBlock != nil {
			switch status.Code(err) {
			case grpcCodes.Unauthenticated, grpcCodes.PermissionDenied:
				ic.gate.RecordFailedAttempt(ctx, id, *ic.policy.IPBlock)
			}
		}
		return resp, err
	}
}

// UnaryValidationInterceptor 参数验证拦截器
func (ic *InterceptorChain) UnaryValidationInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if validator, ok := req.(interface{ Validate() error }); ok {
			if err := validator.Validate(); err != nil {
				ic.log.Warn(ctx, "request validation failed", logger.Fields{"method": info.FullMethod})
				return nil, status.Errorf(grpcCodes.InvalidArgument, "validation failed: %v", err)
			}
		}
		return handler(ctx, req)
	}
}

// UnaryErrorInterceptor 错误转换拦截器(将领域错误转换为 gRPC 状态码)
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		return resp, convertDomainErrorToGRPC(err)
	}
}

// ChainUnaryInterceptors 链式调用所有拦截器
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(),
		ic.UnaryLoggingInterceptor(),
		ic.UnaryGuardInterceptor(),
		ic.UnaryValidationInterceptor(),
		ic.UnaryErrorInterceptor(),
	)
}

// convertDomainErrorToGRPC 将领域错误转换为 gRPC 错误
func convertDomainErrorToGRPC(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	se, ok := secerrors.AsSecError(err)
	if !ok {
		return status.Errorf(grpcCodes.Internal, "internal server error")
	}

	switch se.HTTPStatus() {
	case 400:
		return status.Error(grpcCodes.InvalidArgument, se.Error())
	case 401:
		return status.Error(grpcCodes.Unauthenticated, se.Error())
	case 403:
		return status.Error(grpcCodes.PermissionDenied, se.Error())
	case 404:
		return status.Error(grpcCodes.NotFound, se.Error())
	case 409:
		return status.Error(grpcCodes.Aborted, se.Error())
	case 429:
		return status.Error(grpcCodes.ResourceExhausted, se.Error())
	case 502, 503, 504:
		return status.Error(grpcCodes.Unavailable, se.Error())
	default:
		return status.Errorf(grpcCodes.Internal, "internal server error")
	}
}

// clientID prefers the first x-forwarded-for entry over the peer address.
func clientID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ips := md.Get("x-forwarded-for"); len(ips) > 0 && ips[0] != "" {
			return ips[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
