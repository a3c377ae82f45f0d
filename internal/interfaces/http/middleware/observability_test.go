package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/turtacn/secstate/internal/infrastructure/monitoring"
)

func TestObservabilityMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test-tracer")
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	var traceID string
	router := gin.New()
	router.Use(ObservabilityMiddleware(tracer, metrics))
	router.GET("/test/:id", func(c *gin.Context) {
		traceID = c.GetString("trace_id")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test/42", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "/test/:id", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.HTTPDuration))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /test/:id", spans[0].Name())
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), traceID)
}
