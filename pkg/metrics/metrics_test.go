package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
)

func newTestMetrics() *Metrics {
	return NewMetrics(&Config{Namespace: "test", Enabled: true, Registry: prometheus.NewRegistry()})
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m := NewMetrics(&Config{Enabled: false})

	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
		m.RecordUpstreamRequest("chat_query", true, time.Millisecond)
		m.RecordCircuitTransition("chatbot", resilience.StateClosed, resilience.StateOpen)
		m.RecordRetry("chatbot", "timeout")
		m.RecordFallback("timeout")
		m.RecordValidationIssue("security", "xss_attempt", "high")
		m.RecordAccuracyScore(80)
		m.UpdateCircuitStatus(resilience.CircuitStatus{Name: "chatbot"})
		m.UpdateCacheStats("chatbot", resilience.CacheStats{})
		m.RecordError("api", "internal")
	})
}

func TestMetrics_CircuitTransition(t *testing.T) {
	m := newTestMetrics()

	m.RecordCircuitTransition("chatbot", resilience.StateClosed, resilience.StateOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitTransitions.WithLabelValues("chatbot", "CLOSED", "OPEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("chatbot")))
}

func TestMetrics_PrometheusMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestMetrics()

	router := gin.New()
	router.Use(m.PrometheusMiddleware())
	router.GET("/api/v1/chatbot/history", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/api/v1/chatbot/history", "/nope"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/chatbot/history", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

type fakeSource struct {
	status resilience.CircuitStatus
	stats  resilience.CacheStats
}

func (f fakeSource) Status() resilience.CircuitStatus  { return f.status }
func (f fakeSource) CacheStats() resilience.CacheStats { return f.stats }

func TestMetricsCollector_SamplesSources(t *testing.T) {
	m := newTestMetrics()
	src := fakeSource{
		status: resilience.CircuitStatus{Name: "chatbot", State: resilience.StateHalfOpen, QueueLength: 3},
		stats:  resilience.CacheStats{Size: 7, HitRate: 0.25},
	}

	collector := NewMetricsCollector(m, time.Hour, src)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		collector.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.QueueLength.WithLabelValues("chatbot")) == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("chatbot")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.CacheSize.WithLabelValues("chatbot")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.CacheHitRatio.WithLabelValues("chatbot")))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
