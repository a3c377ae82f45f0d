package grpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/turtacn/secstate/internal/domain/models"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

type tokenState struct {
	mu        sync.Mutex
	token     string
	refreshed int
	refreshOK bool
}

func (s *tokenState) GetRequestHeaders(context.Context) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{
		"Authorization":        "Bearer " + s.token,
		"X-Device-Fingerprint": "fp-1",
	}
}

func (s *tokenState) RefreshToken(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed++
	if s.refreshOK {
		s.token = "fresh"
	}
	return s.refreshOK
}

type fakeGate struct {
	mu       sync.Mutex
	blocked  map[string]bool
	allow    bool
	failures map[string]int
	keys     []string
}

func newFakeGate() *fakeGate {
	return &fakeGate{blocked: map[string]bool{}, allow: true, failures: map[string]int{}}
}

var testPolicy = models.GuardPolicy{
	RateLimit: &models.RateLimitConfig{Window: time.Minute, MaxRequests: 10},
	IPBlock:   &models.IPBlockConfig{MaxAttempts: 3, BlockDuration: time.Minute},
}

func (g *fakeGate) CheckIPBlock(_ context.Context, id string, _ models.IPBlockConfig) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.blocked[id]
}

func (g *fakeGate) CheckRateLimit(_ context.Context, key string, _ models.RateLimitConfig) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, key)
	return g.allow
}

func (g *fakeGate) RecordFailedAttempt(_ context.Context, id string, _ models.IPBlockConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[id]++
}

// bearerHealth accepts only calls carrying the fresh token.
type bearerHealth struct {
	healthpb.UnimplementedHealthServer
	mu    sync.Mutex
	seen  []metadata.MD
	calls int
}

func (h *bearerHealth) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	h.mu.Lock()
	h.calls++
	h.seen = append(h.seen, md)
	h.mu.Unlock()
	if auth := md.Get("authorization"); len(auth) == 0 || auth[0] != "Bearer fresh" {
		return nil, secerrors.ErrUnauthorized("stale token")
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func dialBufconn(t *testing.T, server *bearerHealth, gate RequestGate, state *tokenState) healthpb.HealthClient {
	t.Helper()
	log := logger.NewNoopLogger()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(NewInterceptorChain(log, gate, "rpc", testPolicy).ChainUnaryInterceptors())
	healthpb.RegisterHealthServer(srv, server)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(NewSecurityCredentials(state, false)),
		grpc.WithUnaryInterceptor(UnaryRefreshInterceptor(state, log)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestRefreshInterceptor_RetriesWithFreshToken(t *testing.T) {
	server := &bearerHealth{}
	gate := newFakeGate()
	state := &tokenState{token: "stale", refreshOK: true}
	client := dialBufconn(t, server, gate, state)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	assert.Equal(t, 1, state.refreshed)
	require.Len(t, server.seen, 2)
	assert.Equal(t, []string{"Bearer stale"}, server.seen[0].Get("authorization"))
	assert.Equal(t, []string{"Bearer fresh"}, server.seen[1].Get("authorization"))
	assert.Equal(t, []string{"fp-1"}, server.seen[1].Get("x-device-fingerprint"))

	// The first rejection counts as a failed attempt of the caller.
	assert.Equal(t, []string{"rpc:bufconn", "rpc:bufconn"}, gate.keys)
	assert.Len(t, gate.failures, 1)
}

func TestRefreshInterceptor_FailedRefreshReturnsOriginalError(t *testing.T) {
	server := &bearerHealth{}
	state := &tokenState{token: "stale", refreshOK: false}
	client := dialBufconn(t, server, newFakeGate(), state)

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	assert.Equal(t, grpcCodes.Unauthenticated, status.Code(err))
	assert.Equal(t, 1, state.refreshed)
	assert.Equal(t, 1, server.calls)
}

func TestRefreshInterceptor_IgnoresOtherCodes(t *testing.T) {
	state := &tokenState{refreshOK: true}
	calls := 0
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		calls++
		return status.Error(grpcCodes.Unavailable, "down")
	}
	err := UnaryRefreshInterceptor(state, logger.NewNoopLogger())(context.Background(), "/svc/M", nil, nil, nil, invoker)
	assert.Equal(t, grpcCodes.Unavailable, status.Code(err))
	assert.Equal(t, 1, calls)
	assert.Zero(t, state.refreshed)
}

func TestGuardInterceptor(t *testing.T) {
	gate := newFakeGate()
	chain := NewInterceptorChain(logger.NewNoopLogger(), gate, "", testPolicy)
	guard := chain.UnaryGuardInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}
	ok := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 9000}})

	resp, err := guard(ctx, nil, info, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, []string{"/svc/Method:203.0.113.5"}, gate.keys)

	gate.allow = false
	_, err = guard(ctx, nil, info, ok)
	assert.Equal(t, grpcCodes.ResourceExhausted, status.Code(err))

	gate.blocked["203.0.113.5"] = true
	_, err = guard(ctx, nil, info, ok)
	assert.Equal(t, grpcCodes.PermissionDenied, status.Code(err))

	forwarded := metadata.NewIncomingContext(ctx, metadata.Pairs("x-forwarded-for", "198.51.100.1"))
	gate.allow = true
	denied := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(grpcCodes.PermissionDenied, "nope")
	}
	_, err = guard(forwarded, nil, info, denied)
	assert.Equal(t, grpcCodes.PermissionDenied, status.Code(err))
	assert.Equal(t, 1, gate.failures["198.51.100.1"])
}

func TestGuardInterceptor_EmptyPolicy(t *testing.T) {
	gate := newFakeGate()
	gate.allow = false
	gate.blocked["203.0.113.5"] = true
	guard := NewInterceptorChain(logger.NewNoopLogger(), gate, "rpc", models.GuardPolicy{}).UnaryGuardInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 9000}})

	_, err := guard(ctx, nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(grpcCodes.Unauthenticated, "nope")
	})
	assert.Equal(t, grpcCodes.Unauthenticated, status.Code(err))
	assert.Empty(t, gate.keys)
	assert.Empty(t, gate.failures)
}

func TestRecoveryAndErrorConversion(t *testing.T) {
	chain := NewInterceptorChain(logger.NewNoopLogger(), newFakeGate(), "", testPolicy)
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Panic"}

	_, err := chain.UnaryRecoveryInterceptor()(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, grpcCodes.Internal, status.Code(err))

	cases := []struct {
		err  error
		code grpcCodes.Code
	}{
		{secerrors.ErrInvalidRequest("bad"), grpcCodes.InvalidArgument},
		{secerrors.ErrNotFound("key"), grpcCodes.NotFound},
		{secerrors.ErrRateLimited("login"), grpcCodes.ResourceExhausted},
		{secerrors.ErrNetwork("/refresh", errors.New("eof")), grpcCodes.Unavailable},
		{errors.New("plain"), grpcCodes.Internal},
		{status.Error(grpcCodes.Canceled, "gone"), grpcCodes.Canceled},
	}
	for _, tc := range cases {
		_, err := chain.UnaryErrorInterceptor()(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
			return nil, tc.err
		})
		assert.Equal(t, tc.code, status.Code(err), tc.err.Error())
	}
}

type validatable struct{ err error }

func (v validatable) Validate() error { return v.err }

func TestValidationInterceptor(t *testing.T) {
	chain := NewInterceptorChain(logger.NewNoopLogger(), newFakeGate(), "", testPolicy)
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Validate"}
	handler := func(context.Context, interface{}) (interface{}, error) { return "ok", nil }

	_, err := chain.UnaryValidationInterceptor()(context.Background(), validatable{err: errors.New("missing field")}, info, handler)
	assert.Equal(t, grpcCodes.InvalidArgument, status.Code(err))

	resp, err := chain.UnaryValidationInterceptor()(context.Background(), validatable{}, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
