package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordingService(t *testing.T) (*TracingService, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	config := DefaultConfig()
	config.Enabled = true
	return NewTracingServiceWithProvider(config, tp), recorder
}

func TestNewTracingService_Disabled(t *testing.T) {
	ts, err := NewTracingService(nil)
	require.NoError(t, err)

	ctx, span := ts.StartChatSpan(context.Background(), "query", "", "")
	span.End()
	assert.Empty(t, GetTraceID(ctx))
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestTracingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ts, recorder := newRecordingService(t)

	var traceID string
	router := gin.New()
	router.Use(ts.TracingMiddleware())
	router.POST("/api/v1/chatbot/query", func(c *gin.Context) {
		traceID = GetTraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})
	router.GET("/boom", func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/chatbot/query", nil))
	assert.NotEmpty(t, traceID)
	assert.Contains(t, w.Header().Get("traceparent"), traceID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "POST /api/v1/chatbot/query", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestStartChatSpan(t *testing.T) {
	ts, recorder := newRecordingService(t)

	_, span := ts.StartChatSpan(context.Background(), "query", "sess-1", "global")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "chat.query", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "sess-1", attrs["chat.session_id"])
	assert.Equal(t, "global", attrs["chat.context_mode"])
}

func TestStartCacheSpan_WithEvent(t *testing.T) {
	ts, recorder := newRecordingService(t)

	_, span := ts.StartCacheSpan(context.Background(), "get", "chat:abc")
	ts.AddSpanEvent(span, "retry", attribute.Int("retry.attempt", 1))
	ts.RecordError(span, assert.AnError)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "cache.get", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	events := spans[0].Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "retry", events[0].Name)
}
