package metrics

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/NikhilSetiya/textbook-assistant/pkg/errors"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestMonitor(config MonitorConfig) (*Monitor, *stepClock) {
	clock := &stepClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMonitor(config)
	m.now = clock.Now
	m.startTime = clock.Now()
	return m, clock
}

// timeRequest records one request that takes d on the fake clock
func timeRequest(t *testing.T, m *Monitor, clock *stepClock, d time.Duration, success bool) {
	t.Helper()
	id := m.StartTiming()
	clock.Advance(d)
	require.NoError(t, m.EndTiming(id, success, map[string]string{"operation": "chat_query"}))
}

func TestPercentile_NearestRank(t *testing.T) {
	var sorted []time.Duration
	for v := 10; v <= 1000; v += 10 {
		sorted = append(sorted, time.Duration(v)*time.Millisecond)
	}

	assert.Equal(t, 950*time.Millisecond, Percentile(sorted, 0.95), "p95 is the value at index 94")
	assert.Equal(t, 990*time.Millisecond, Percentile(sorted, 0.99))
	assert.Equal(t, 10*time.Millisecond, Percentile(sorted, 0))
	assert.Equal(t, 1000*time.Millisecond, Percentile(sorted, 1))
	assert.Zero(t, Percentile(nil, 0.95))
	assert.Equal(t, time.Second, Percentile([]time.Duration{time.Second}, 0.95))
}

func TestMonitor_Snapshot(t *testing.T) {
	m, clock := newTestMonitor(MonitorConfig{})

	// Shuffled so the snapshot has to sort.
	for _, v := range []int{30, 10, 50, 20, 40} {
		timeRequest(t, m, clock, time.Duration(v)*time.Millisecond, v != 50)
	}

	s := m.GetMetrics()
	assert.Equal(t, int64(5), s.TotalRequests)
	assert.Equal(t, int64(1), s.FailedRequests)
	assert.Equal(t, int64(30), s.AverageResponseTime)
	assert.Equal(t, int64(50), s.P95ResponseTime)
	assert.Equal(t, int64(50), s.P99ResponseTime)
	assert.Equal(t, 5, s.Samples)
	// 5 requests over 150ms of monitor lifetime
	assert.Equal(t, int64(2000), s.Throughput)
}

func TestMonitor_DurationBufferIsBounded(t *testing.T) {
	m, clock := newTestMonitor(MonitorConfig{HistorySize: 10})

	for i := 0; i < DurationBufferSize+5; i++ {
		timeRequest(t, m, clock, time.Millisecond, true)
	}

	s := m.GetMetrics()
	assert.Equal(t, DurationBufferSize, s.Samples)
	assert.Equal(t, int64(DurationBufferSize+5), s.TotalRequests)
	assert.Len(t, m.RequestHistory(100), 10, "history is capped separately")
}

func TestMonitor_EndTimingUnknownID(t *testing.T) {
	m, _ := newTestMonitor(MonitorConfig{})

	err := m.EndTiming("req_missing", true, nil)
	assert.True(t, appErrors.IsNotFound(err))

	id := m.StartTiming()
	require.NoError(t, m.EndTiming(id, true, nil))
	assert.Error(t, m.EndTiming(id, true, nil), "a request completes once")
}

func TestMonitor_RequestHistory(t *testing.T) {
	m, clock := newTestMonitor(MonitorConfig{})

	for i := 0; i < 60; i++ {
		timeRequest(t, m, clock, time.Duration(i+1)*time.Millisecond, true)
	}
	pendingID := m.StartTiming()

	history := m.RequestHistory(0)
	require.Len(t, history, DefaultHistoryLimit)

	last := history[len(history)-1]
	assert.Equal(t, pendingID, last.ID)
	assert.Equal(t, StatusPending, last.Status)
	assert.Nil(t, last.DurationMS)

	prev := history[len(history)-2]
	assert.Equal(t, StatusSuccess, prev.Status)
	require.NotNil(t, prev.DurationMS)
	assert.Equal(t, int64(60), *prev.DurationMS)
	assert.Equal(t, "chat_query", prev.Tags["operation"])

	assert.Len(t, m.RequestHistory(3), 3)
}

func TestMonitor_ValidateResponseTime(t *testing.T) {
	m, _ := newTestMonitor(MonitorConfig{})

	tests := []struct {
		duration  time.Duration
		valid     bool
		level     string
		threshold string
	}{
		{time.Second, true, LevelSuccess, ""},
		{2 * time.Second, true, LevelSuccess, ""},
		{3 * time.Second, true, LevelWarning, "warning"},
		{6 * time.Second, false, LevelError, "error"},
		{11 * time.Second, false, LevelError, "max_acceptable"},
	}

	for _, tt := range tests {
		t.Run(tt.duration.String(), func(t *testing.T) {
			v := m.ValidateResponseTime(tt.duration)
			assert.Equal(t, tt.valid, v.IsValid)
			assert.Equal(t, tt.level, v.Level)
			assert.Equal(t, tt.threshold, v.Threshold)
		})
	}

	v := m.ValidateResponseTime(6 * time.Second)
	assert.Equal(t, "Response time (6000ms) exceeds error threshold (5000ms)", v.Message)
}

func TestMonitor_PerformanceReport(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		m, clock := newTestMonitor(MonitorConfig{})
		for i := 0; i < 10; i++ {
			timeRequest(t, m, clock, 100*time.Millisecond, true)
		}

		report := m.GetPerformanceReport()
		assert.Equal(t, ReportHealthy, report.Status)
		assert.Empty(t, report.Recommendations)
		assert.Equal(t, 100.0, report.Summary.SuccessRate)
		assert.Equal(t, int64(100), report.Summary.AverageResponseTime)
	})

	t.Run("no requests", func(t *testing.T) {
		m, _ := newTestMonitor(MonitorConfig{})

		report := m.GetPerformanceReport()
		assert.Equal(t, ReportHealthy, report.Status)
		assert.Equal(t, 100.0, report.Summary.SuccessRate)
	})

	t.Run("critical failure rate", func(t *testing.T) {
		m, clock := newTestMonitor(MonitorConfig{})
		for i := 0; i < 10; i++ {
			timeRequest(t, m, clock, 100*time.Millisecond, i != 0)
		}

		report := m.GetPerformanceReport()
		assert.Equal(t, ReportCritical, report.Status)
		assert.Equal(t, 90.0, report.Summary.SuccessRate)
		assert.Contains(t, report.Recommendations, "High failure rate detected. Check backend health and error logs.")
	})

	t.Run("elevated failure rate", func(t *testing.T) {
		m, clock := newTestMonitor(MonitorConfig{})
		for i := 0; i < 50; i++ {
			timeRequest(t, m, clock, 100*time.Millisecond, i != 0)
		}

		report := m.GetPerformanceReport()
		assert.Equal(t, ReportWarning, report.Status)
		assert.Equal(t, 98.0, report.Summary.SuccessRate)
	})

	t.Run("slow responses", func(t *testing.T) {
		m, clock := newTestMonitor(MonitorConfig{})
		for i := 0; i < 4; i++ {
			timeRequest(t, m, clock, 6*time.Second, true)
		}

		report := m.GetPerformanceReport()
		assert.Equal(t, ReportWarning, report.Status)
		assert.Len(t, report.Recommendations, 2)
	})
}

func TestMonitor_SetThresholdsAndReset(t *testing.T) {
	m, clock := newTestMonitor(MonitorConfig{})

	m.SetThresholds(Thresholds{Warning: 50 * time.Millisecond})
	assert.Equal(t, 50*time.Millisecond, m.Thresholds().Warning)
	assert.Equal(t, 5*time.Second, m.Thresholds().Error)

	timeRequest(t, m, clock, 100*time.Millisecond, true)
	assert.Equal(t, ReportWarning, m.GetPerformanceReport().Status)

	m.Reset()
	assert.Zero(t, m.GetMetrics().TotalRequests)
	assert.Empty(t, m.RequestHistory(10))
}

func TestMonitor_TrackMirrorsIntoPrometheus(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(&Config{Namespace: "test", Enabled: true, Registry: registry})
	m, _ := newTestMonitor(MonitorConfig{Metrics: metrics})

	err := m.Track(context.Background(), "chat_query", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	upstreamErr := appErrors.NewUpstreamError("chatbot", fmt.Errorf("502 bad gateway"))
	err = m.Track(context.Background(), "chat_query", func(ctx context.Context) error {
		return upstreamErr
	})
	assert.Same(t, upstreamErr, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UpstreamRequestsTotal.WithLabelValues("chat_query", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UpstreamRequestsTotal.WithLabelValues("chat_query", "failure")))

	history := m.RequestHistory(2)
	require.Len(t, history, 2)
	assert.Equal(t, StatusFailed, history[1].Status)
	assert.Equal(t, "upstream", history[1].Tags["error_type"])
	assert.Equal(t, int64(1), m.GetMetrics().FailedRequests)
}

func TestMonitor_ConcurrentUse(t *testing.T) {
	m := NewMonitor(MonitorConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.Track(context.Background(), "op", func(ctx context.Context) error { return nil })
				_ = m.GetMetrics()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), m.GetMetrics().TotalRequests)
}
