package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/pkg/constants"
	"github.com/turtacn/secstate/pkg/logger"
)

func TestZapLogger_MasksCredentialsAndAddsComponent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLoggerFromCore(core).WithComponent("TokenVault")

	ctx := context.WithValue(context.Background(), constants.ContextKeyRequestID, "req-1")
	log.Info(ctx, "token stored", logger.Fields{
		"refresh_token": "abcdefghijklmnop",
		"expires_at":    int64(42),
	})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "TokenVault", fields["component"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "abcd***mnop", fields["refresh_token"])
	assert.Equal(t, int64(42), fields["expires_at"])
	assert.Equal(t, constants.ServiceName, fields["service"])
}

func TestZapLogger_TraceIDFromSpan(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLoggerFromCore(core)

	tm := NewTracingManagerWithProvider(sdktrace.NewTracerProvider(), logger.NewNoopLogger())
	ctx, span := tm.StartSpan(context.Background(), "op")
	defer span.End()

	log.Error(ctx, "refresh failed", errors.New("boom"))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, tm.GetTraceID(ctx), fields["trace_id"])
	assert.Equal(t, "boom", fields["error"])
}

func TestNewZapLogger_Config(t *testing.T) {
	log, err := NewZapLogger(&config.LogConfig{Level: "bogus", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewZapLogger(&config.LogConfig{Level: "info", OutputPath: "/nonexistent-dir/x/y.log"})
	assert.Error(t, err)
}

func TestMetricsAdapter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	adapter := NewMetricsAdapter(m)

	adapter.RecordSecurityEvent(constants.EventIPBlocked)
	adapter.RecordSecurityEvent(constants.EventIPBlocked)
	adapter.RecordRateLimitDecision("login", true)
	adapter.RecordRateLimitDecision("login", false)
	adapter.RecordRateLimitDecision("login", false)
	adapter.RecordBlock()
	adapter.RecordTokenRefresh(true, 20*time.Millisecond)
	adapter.RecordStoreError("token_get")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SecurityEvents.WithLabelValues("ip_blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("login", "allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("login", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Blocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("token_get")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TokenRefreshTime))
}

func TestTraceOperation(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tm := NewTracingManagerWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), logger.NewNoopLogger())
	defer func() { _ = tm.Shutdown(context.Background()) }()

	err := TraceOperation(context.Background(), tm, "session.refresh", func(ctx context.Context) error {
		return errors.New("status 401")
	}, map[string]interface{}{"attempt": 1, "refresh_token": "abcdefghijkl"})
	require.Error(t, err)
	require.NoError(t, TraceOperation(context.Background(), tm, "session.csrf", func(context.Context) error { return nil }, nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "session.refresh", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "refresh_token" {
			assert.Equal(t, "abcd***ijkl", attr.Value.AsString())
		}
	}
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}

func TestNewTracingManager_Disabled(t *testing.T) {
	tm, err := NewTracingManager(&config.TracingConfig{}, logger.NewNoopLogger())
	require.NoError(t, err)
	assert.NoError(t, tm.Shutdown(context.Background()))
}
