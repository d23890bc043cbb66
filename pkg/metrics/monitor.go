package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
)

// DurationBufferSize is the number of most recent durations kept for percentiles
const DurationBufferSize = 1000

// DefaultHistoryLimit is the number of records RequestHistory returns by default
const DefaultHistoryLimit = 50

// RequestStatus is the outcome of a timed request
type RequestStatus string

const (
	StatusPending RequestStatus = "pending"
	StatusSuccess RequestStatus = "success"
	StatusFailed  RequestStatus = "failed"
)

// Report statuses
const (
	ReportHealthy  = "healthy"
	ReportWarning  = "warning"
	ReportCritical = "critical"
)

// Response time levels
const (
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Thresholds are the response-time limits the monitor reports against
type Thresholds struct {
	Warning       time.Duration `json:"warning"`
	Error         time.Duration `json:"error"`
	MaxAcceptable time.Duration `json:"max_acceptable"`
}

// DefaultThresholds returns 2s, 5s and 10s
func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:       2 * time.Second,
		Error:         5 * time.Second,
		MaxAcceptable: 10 * time.Second,
	}
}

// MonitorConfig configures a Monitor
type MonitorConfig struct {
	Thresholds Thresholds
	// HistorySize bounds the number of request records kept for inspection
	HistorySize int
	// Metrics, when set, receives every completion
	Metrics *Metrics
	Logger  *logging.Logger
}

// RequestTiming is one timed request
type RequestTiming struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"timestamp"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	Duration   time.Duration     `json:"-"`
	DurationMS *int64            `json:"duration"`
	Status     RequestStatus     `json:"status"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// Snapshot is the derived view over the duration buffer. Times are in milliseconds.
type Snapshot struct {
	AverageResponseTime int64 `json:"average_response_time"`
	P95ResponseTime     int64 `json:"p95_response_time"`
	P99ResponseTime     int64 `json:"p99_response_time"`
	TotalRequests       int64 `json:"total_requests"`
	FailedRequests      int64 `json:"failed_requests"`
	// Throughput is completed requests per minute since the monitor started
	Throughput int64 `json:"throughput"`
	Samples    int   `json:"samples"`
}

// ReportSummary is the headline section of a PerformanceReport
type ReportSummary struct {
	TotalRequests       int64   `json:"total_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	SuccessRate         float64 `json:"success_rate"`
	Throughput          int64   `json:"throughput"`
	AverageResponseTime int64   `json:"average_response_time"`
	P95ResponseTime     int64   `json:"p95_response_time"`
	P99ResponseTime     int64   `json:"p99_response_time"`
}

// PerformanceReport is the monitor's operational verdict
type PerformanceReport struct {
	Summary         ReportSummary `json:"summary"`
	Recommendations []string      `json:"recommendations"`
	Status          string        `json:"status"`
}

// ResponseTimeValidation grades a single response time
type ResponseTimeValidation struct {
	IsValid   bool   `json:"is_valid"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Threshold string `json:"threshold,omitempty"`
}

// Monitor records request durations and derives rolling statistics.
// Percentiles are recomputed by sorting the buffer on every completion.
type Monitor struct {
	mu         sync.Mutex
	thresholds Thresholds
	durations  []time.Duration
	snapshot   Snapshot
	startTime  time.Time

	history     []*RequestTiming
	historySize int
	pending     map[string]*RequestTiming

	metrics *Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewMonitor creates a monitor; zero thresholds and history size take defaults
func NewMonitor(config MonitorConfig) *Monitor {
	defaults := DefaultThresholds()
	if config.Thresholds.Warning <= 0 {
		config.Thresholds.Warning = defaults.Warning
	}
	if config.Thresholds.Error <= 0 {
		config.Thresholds.Error = defaults.Error
	}
	if config.Thresholds.MaxAcceptable <= 0 {
		config.Thresholds.MaxAcceptable = defaults.MaxAcceptable
	}
	if config.HistorySize <= 0 {
		config.HistorySize = DurationBufferSize
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}

	return &Monitor{
		thresholds:  config.Thresholds,
		historySize: config.HistorySize,
		pending:     make(map[string]*RequestTiming),
		metrics:     config.Metrics,
		logger:      config.Logger,
		now:         time.Now,
		startTime:   time.Now(),
	}
}

// StartTiming begins timing a request and returns its id
func (m *Monitor) StartTiming() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	timing := &RequestTiming{
		ID:        "req_" + uuid.New().String(),
		StartedAt: m.now(),
		Status:    StatusPending,
	}
	m.pending[timing.ID] = timing
	m.history = append(m.history, timing)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}

	return timing.ID
}

// EndTiming completes the request started under id
func (m *Monitor) EndTiming(id string, success bool, tags map[string]string) error {
	m.mu.Lock()

	timing, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Request not found in timing history", "request_id", id)
		return errors.NewNotFoundError("request timing " + id)
	}
	delete(m.pending, id)

	end := m.now()
	duration := end.Sub(timing.StartedAt)
	ms := duration.Milliseconds()

	timing.EndedAt = &end
	timing.Duration = duration
	timing.DurationMS = &ms
	timing.Tags = tags
	timing.Status = StatusSuccess
	if !success {
		timing.Status = StatusFailed
	}

	m.observe(duration, success)
	m.mu.Unlock()

	operation := tags["operation"]
	if operation == "" {
		operation = "unknown"
	}
	if m.metrics != nil {
		m.metrics.RecordUpstreamRequest(operation, success, duration)
	}
	if duration > m.Thresholds().Warning {
		m.logger.LogPerformanceEvent(context.Background(), operation, duration, logrus.Fields{
			"request_id": id,
			"success":    success,
			"level":      m.ValidateResponseTime(duration).Level,
		})
	}

	return nil
}

// observe must be called with mu held
func (m *Monitor) observe(duration time.Duration, success bool) {
	m.durations = append(m.durations, duration)
	if len(m.durations) > DurationBufferSize {
		m.durations = m.durations[len(m.durations)-DurationBufferSize:]
	}

	m.snapshot.TotalRequests++
	if !success {
		m.snapshot.FailedRequests++
	}

	sorted := make([]time.Duration, len(m.durations))
	copy(sorted, m.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	avg := float64(sum) / float64(len(sorted))

	m.snapshot.Samples = len(sorted)
	m.snapshot.AverageResponseTime = int64(math.Round(avg / float64(time.Millisecond)))
	m.snapshot.P95ResponseTime = Percentile(sorted, 0.95).Milliseconds()
	m.snapshot.P99ResponseTime = Percentile(sorted, 0.99).Milliseconds()

	minutes := m.now().Sub(m.startTime).Minutes()
	if minutes > 0 {
		m.snapshot.Throughput = int64(math.Round(float64(m.snapshot.TotalRequests) / minutes))
	} else {
		m.snapshot.Throughput = 0
	}
}

// Percentile returns the nearest-rank percentile of an ascending slice:
// the value at index ceil(n*p)-1, clamped to the slice bounds. For 100
// samples p95 is index 94, one below a floor(n*p) index.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// GetMetrics returns the current snapshot
func (m *Monitor) GetMetrics() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Thresholds returns the active thresholds
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// SetThresholds replaces the thresholds; zero fields keep their current value
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Warning > 0 {
		m.thresholds.Warning = t.Warning
	}
	if t.Error > 0 {
		m.thresholds.Error = t.Error
	}
	if t.MaxAcceptable > 0 {
		m.thresholds.MaxAcceptable = t.MaxAcceptable
	}
}

// ValidateResponseTime grades d against the thresholds
func (m *Monitor) ValidateResponseTime(d time.Duration) ResponseTimeValidation {
	t := m.Thresholds()
	ms := d.Milliseconds()

	switch {
	case d > t.MaxAcceptable:
		return ResponseTimeValidation{
			Level:     LevelError,
			Message:   fmt.Sprintf("Response time (%dms) exceeds maximum acceptable time (%dms)", ms, t.MaxAcceptable.Milliseconds()),
			Threshold: "max_acceptable",
		}
	case d > t.Error:
		return ResponseTimeValidation{
			Level:     LevelError,
			Message:   fmt.Sprintf("Response time (%dms) exceeds error threshold (%dms)", ms, t.Error.Milliseconds()),
			Threshold: "error",
		}
	case d > t.Warning:
		return ResponseTimeValidation{
			IsValid:   true,
			Level:     LevelWarning,
			Message:   fmt.Sprintf("Response time (%dms) exceeds warning threshold (%dms)", ms, t.Warning.Milliseconds()),
			Threshold: "warning",
		}
	default:
		return ResponseTimeValidation{
			IsValid: true,
			Level:   LevelSuccess,
			Message: "Response time is acceptable",
		}
	}
}

// GetPerformanceReport summarises the snapshot and grades it
func (m *Monitor) GetPerformanceReport() *PerformanceReport {
	s := m.GetMetrics()
	t := m.Thresholds()

	report := &PerformanceReport{
		Summary: ReportSummary{
			TotalRequests:       s.TotalRequests,
			FailedRequests:      s.FailedRequests,
			SuccessRate:         100,
			Throughput:          s.Throughput,
			AverageResponseTime: s.AverageResponseTime,
			P95ResponseTime:     s.P95ResponseTime,
			P99ResponseTime:     s.P99ResponseTime,
		},
		Recommendations: []string{},
		Status:          ReportHealthy,
	}

	if s.TotalRequests > 0 {
		rate := float64(s.TotalRequests-s.FailedRequests) / float64(s.TotalRequests) * 100
		report.Summary.SuccessRate = math.Round(rate*100) / 100
	}

	if s.AverageResponseTime > t.Warning.Milliseconds() {
		report.Recommendations = append(report.Recommendations,
			"Average response time is high. Consider optimizing backend processing or adding caching.")
	}
	if s.P95ResponseTime > t.Error.Milliseconds() {
		report.Recommendations = append(report.Recommendations,
			"95th percentile response time exceeds error threshold. Investigate slow queries or processing bottlenecks.")
	}
	if s.P99ResponseTime > t.MaxAcceptable.Milliseconds() {
		report.Recommendations = append(report.Recommendations,
			"99th percentile response time exceeds the maximum acceptable time. Review upstream timeouts.")
	}

	critical := false
	if s.FailedRequests > 0 {
		failureRate := float64(s.FailedRequests) / float64(s.TotalRequests) * 100
		if failureRate > 5 {
			report.Recommendations = append(report.Recommendations,
				"High failure rate detected. Check backend health and error logs.")
			critical = true
		} else if failureRate > 1 {
			report.Recommendations = append(report.Recommendations,
				"Failure rate is above 1%. Monitor backend health.")
		}
	}

	if s.Throughput == 0 && s.TotalRequests > 0 {
		report.Recommendations = append(report.Recommendations,
			"Throughput is 0, which may indicate an issue with time calculation period.")
	}

	switch {
	case critical:
		report.Status = ReportCritical
	case len(report.Recommendations) > 0:
		report.Status = ReportWarning
	}

	return report
}

// RequestHistory returns copies of the most recent records, oldest first.
// A non-positive limit returns DefaultHistoryLimit records.
func (m *Monitor) RequestHistory(limit int) []RequestTiming {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := len(m.history) - limit
	if start < 0 {
		start = 0
	}

	out := make([]RequestTiming, 0, len(m.history)-start)
	for _, timing := range m.history[start:] {
		out = append(out, *timing)
	}
	return out
}

// Reset clears all samples and history and restarts the throughput clock
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = nil
	m.snapshot = Snapshot{}
	m.history = nil
	m.pending = make(map[string]*RequestTiming)
	m.startTime = m.now()
}

// Track times fn under the given operation name. The error of fn is
// returned unchanged.
func (m *Monitor) Track(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	id := m.StartTiming()

	err := fn(ctx)

	tags := map[string]string{"operation": operation}
	if err != nil {
		tags["error"] = err.Error()
		tags["error_type"] = string(errors.GetType(err))
	}
	_ = m.EndTiming(id, err == nil, tags)

	return err
}
