package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
)

type staticCircuit struct {
	status resilience.CircuitStatus
}

func (s staticCircuit) Status() resilience.CircuitStatus { return s.status }

func (s staticCircuit) CacheStats() resilience.CacheStats {
	return resilience.CacheStats{Size: 2, HitRate: 0.5}
}

func staticChecker(status Status) Checker {
	return NewCustomChecker(string(status), func(ctx context.Context) (Status, string, error) {
		return status, "", nil
	})
}

func TestService_CheckHealth(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		expected Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(nil, nil)
			for i, status := range tt.statuses {
				s.RegisterChecker(string(rune('a'+i)), staticChecker(status))
			}

			resp := s.CheckHealth(context.Background())
			assert.Equal(t, tt.expected, resp.Status)
			assert.Len(t, resp.Checks, len(tt.statuses))
		})
	}
}

func TestService_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := NewService(nil, &Config{Metadata: map[string]string{"version": "1.0.0"}})
	s.RegisterChecker("circuit", NewCircuitChecker(staticCircuit{
		status: resilience.CircuitStatus{Name: "chatbot", State: resilience.StateOpen.String()},
	}, "circuit"))

	router := gin.New()
	router.GET("/health", s.Handler())
	router.GET("/ready", s.ReadinessHandler())
	router.GET("/live", s.LivenessHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "degraded still serves traffic")

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "1.0.0", resp.Metadata["version"])
	require.Contains(t, resp.Checks, "circuit")
	assert.Equal(t, "OPEN", resp.Checks["circuit"].Metadata["state"])

	s.RegisterChecker("fatal", staticChecker(StatusUnhealthy))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":false`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCircuitChecker(t *testing.T) {
	tests := []struct {
		state    resilience.CircuitState
		expected Status
	}{
		{resilience.StateClosed, StatusHealthy},
		{resilience.StateHalfOpen, StatusDegraded},
		{resilience.StateOpen, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			checker := NewCircuitChecker(staticCircuit{
				status: resilience.CircuitStatus{Name: "chatbot", State: tt.state.String(), QueueLength: 4},
			}, "circuit")

			check := checker.Check(context.Background())
			assert.Equal(t, tt.expected, check.Status)
			assert.Equal(t, "4", check.Metadata["queue_length"])
			assert.Equal(t, "0.50", check.Metadata["cache_hit_rate"])
		})
	}
}

func TestRedisChecker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	checker := NewRedisChecker(client, "redis")
	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Contains(t, check.Metadata, "total_connections")

	mr.Close()
	check = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.NotEmpty(t, check.Error)

	check = NewRedisChecker(nil, "redis").Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
}

func TestHTTPChecker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL, "upstream", time.Second)
	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "200", check.Metadata["status_code"])

	status.Store(http.StatusBadGateway)
	check = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, "endpoint returned status 502", check.Message)
}

func TestCustomChecker_ErrorMarksUnhealthy(t *testing.T) {
	checker := NewCustomChecker("custom", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "looked fine", errors.New("but was not")
	})

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "but was not", check.Error)
}
