package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/textbook-assistant/pkg/alerting"
	"github.com/NikhilSetiya/textbook-assistant/pkg/health"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/metrics"
)

// DefaultInterval is how often the watchdog evaluates the gateway
const DefaultInterval = 30 * time.Second

// Alert IDs raised from the performance report
const (
	PerformanceWarningAlertID  = "performance_warning"
	PerformanceCriticalAlertID = "performance_critical"
)

// HealthAlertID is the alert raised while the named check is not healthy
func HealthAlertID(check string) string {
	return "health_check_" + check
}

// Watchdog periodically turns health checks and the performance report
// into alerts, and resolves them once the condition clears.
type Watchdog struct {
	health   *health.Service
	monitor  *metrics.Monitor
	alerts   *alerting.Service
	logger   *logging.Logger
	interval time.Duration
}

// NewWatchdog creates a watchdog; a non-positive interval takes DefaultInterval
func NewWatchdog(healthService *health.Service, monitor *metrics.Monitor, alerts *alerting.Service, logger *logging.Logger, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Watchdog{
		health:   healthService,
		monitor:  monitor,
		alerts:   alerts,
		logger:   logger,
		interval: interval,
	}
}

// Run evaluates on every tick until ctx is done
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Evaluate(ctx)
		}
	}
}

// Evaluate runs one pass over health checks and the performance report
func (w *Watchdog) Evaluate(ctx context.Context) {
	if w.health != nil {
		w.evaluateHealth(ctx)
	}
	if w.monitor != nil {
		w.evaluatePerformance(ctx)
	}
}

func (w *Watchdog) evaluateHealth(ctx context.Context) {
	response := w.health.CheckHealth(ctx)

	for name, check := range response.Checks {
		id := HealthAlertID(name)

		var severity alerting.Severity
		switch check.Status {
		case health.StatusUnhealthy:
			severity = alerting.SeverityCritical
		case health.StatusDegraded:
			severity = alerting.SeverityWarning
		default:
			w.resolve(ctx, id)
			continue
		}

		w.raise(ctx, &alerting.Alert{
			ID:          id,
			Title:       fmt.Sprintf("Health check %s: %s", check.Status, name),
			Description: fmt.Sprintf("Health check for %s is %s: %s", name, check.Status, check.Message),
			Severity:    severity,
			Component:   name,
			Labels: map[string]string{
				"check_name": name,
				"category":   "health",
			},
			Annotations: map[string]string{
				"error":    check.Error,
				"duration": check.Duration.String(),
			},
		})
	}
}

func (w *Watchdog) evaluatePerformance(ctx context.Context) {
	report := w.monitor.GetPerformanceReport()

	annotations := map[string]string{
		"average_response_time_ms": fmt.Sprint(report.Summary.AverageResponseTime),
		"p95_response_time_ms":     fmt.Sprint(report.Summary.P95ResponseTime),
		"success_rate":             fmt.Sprintf("%.2f", report.Summary.SuccessRate),
	}

	switch report.Status {
	case metrics.ReportCritical:
		w.resolve(ctx, PerformanceWarningAlertID)
		w.raise(ctx, &alerting.Alert{
			ID:          PerformanceCriticalAlertID,
			Title:       "Chat performance is critical",
			Description: strings.Join(report.Recommendations, " "),
			Severity:    alerting.SeverityCritical,
			Component:   "performance",
			Labels:      map[string]string{"category": "performance"},
			Annotations: annotations,
		})
	case metrics.ReportWarning:
		w.resolve(ctx, PerformanceCriticalAlertID)
		w.raise(ctx, &alerting.Alert{
			ID:          PerformanceWarningAlertID,
			Title:       "Chat performance is degraded",
			Description: strings.Join(report.Recommendations, " "),
			Severity:    alerting.SeverityWarning,
			Component:   "performance",
			Labels:      map[string]string{"category": "performance"},
			Annotations: annotations,
		})
	default:
		w.resolve(ctx, PerformanceWarningAlertID)
		w.resolve(ctx, PerformanceCriticalAlertID)
	}
}

// raise re-fires an alert whose severity changed so channels hear about it
func (w *Watchdog) raise(ctx context.Context, alert *alerting.Alert) {
	if existing, firing := w.alerts.GetAlert(alert.ID); firing && existing.Severity != alert.Severity {
		w.resolve(ctx, alert.ID)
	}

	if err := w.alerts.TriggerAlert(ctx, alert); err != nil {
		w.logger.WithComponent("watchdog").WithError(err).WithFields(logrus.Fields{
			"alert_id": alert.ID,
		}).Warn("Failed to trigger alert")
	}
}

func (w *Watchdog) resolve(ctx context.Context, id string) {
	if _, firing := w.alerts.GetAlert(id); firing {
		_ = w.alerts.ResolveAlert(ctx, id)
	}
}
