package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/pkg/constants"
	"github.com/turtacn/secstate/pkg/logger"
)

// TracingManager 管理 OpenTelemetry 追踪
type TracingManager struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	logger   logger.Logger
}

// NewTracingManager 创建追踪管理器。Tracing disabled yields a manager backed
// by the global (no-op) provider.
func NewTracingManager(cfg *config.TracingConfig, log logger.Logger) (*TracingManager, error) {
	if !cfg.Enabled {
		log.Debug(context.Background(), "tracing is disabled")
		return &TracingManager{
			tracer: otel.Tracer(constants.ServiceName),
			logger: log,
		}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(
		jaeger.WithEndpoint(cfg.JaegerEndpoint),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = constants.ServiceName
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	log.Info(context.Background(), "tracing initialized", logger.Fields{
		"endpoint":     cfg.JaegerEndpoint,
		"sample_ratio": cfg.SampleRatio,
	})
	return NewTracingManagerWithProvider(provider, log), nil
}

// NewTracingManagerWithProvider installs provider as the global tracer provider.
func NewTracingManagerWithProvider(provider *sdktrace.TracerProvider, log logger.Logger) *TracingManager {
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracingManager{
		tracer:   provider.Tracer(constants.ServiceName),
		provider: provider,
		logger:   log,
	}
}

// Tracer returns the underlying tracer.
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// StartSpan 开始一个新的 Span
func (tm *TracingManager) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, spanName, opts...)
}

// StartSpanWithAttributes 开始一个带有属性的 Span
func (tm *TracingManager) StartSpanWithAttributes(ctx context.Context, spanName string, attrs map[string]interface{}) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, spanName, trace.WithAttributes(toAttributes(attrs)...))
}

// RecordError 记录错误到 Span
func (tm *TracingManager) RecordError(ctx context.Context, err error, attrs map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(toAttributes(attrs)...))
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID 获取当前 Trace ID
func (tm *TracingManager) GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// InjectTraceContext 注入追踪上下文到 Carrier
func (tm *TracingManager) InjectTraceContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// Shutdown flushes pending spans and stops the provider.
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	if err := tm.provider.Shutdown(ctx); err != nil {
		tm.logger.Error(ctx, "failed to shutdown tracing provider", err)
		return err
	}
	return nil
}

func toAttributes(attrs map[string]interface{}) []attribute.KeyValue {
	attributes := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		attributes = append(attributes, convertToAttribute(key, logger.SanitizeValue(key, value)))
	}
	return attributes
}

// convertToAttribute 将 interface{} 转换为 OpenTelemetry 属性
func convertToAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// TraceOperation runs fn inside a span named operationName.
func TraceOperation(ctx context.Context, tm *TracingManager, operationName string, fn func(context.Context) error, attrs map[string]interface{}) error {
	ctx, span := tm.StartSpanWithAttributes(ctx, operationName, attrs)
	defer span.End()

	if err := fn(ctx); err != nil {
		tm.RecordError(ctx, err, attrs)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
