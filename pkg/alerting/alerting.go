package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert represents an alert
type Alert struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Severity    Severity          `json:"severity"`
	Component   string            `json:"component"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Resolved    bool              `json:"resolved"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// NotificationChannel represents a notification channel
type NotificationChannel interface {
	Send(ctx context.Context, alert *Alert) error
	Name() string
}

// Config holds alerting configuration
type Config struct {
	Enabled   bool `json:"enabled"`
	MaxAlerts int  `json:"max_alerts"`
}

// DefaultConfig returns default alerting configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		MaxAlerts: 100,
	}
}

// Service keeps the set of firing alerts and notifies channels when an
// alert fires or resolves. Re-triggering a firing alert updates it without
// notifying again.
type Service struct {
	channels     []NotificationChannel
	activeAlerts map[string]*Alert
	logger       *logging.Logger
	mutex        sync.RWMutex
	config       *Config
	pending      sync.WaitGroup
	now          func() time.Time
}

// NewService creates a new alerting service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Service{
		channels:     make([]NotificationChannel, 0),
		activeAlerts: make(map[string]*Alert),
		logger:       logger,
		config:       config,
		now:          time.Now,
	}
}

// AddChannel adds a notification channel
func (s *Service) AddChannel(channel NotificationChannel) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.channels = append(s.channels, channel)
}

// TriggerAlert fires an alert, or refreshes it if already firing
func (s *Service) TriggerAlert(ctx context.Context, alert *Alert) error {
	if !s.config.Enabled {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Component, s.now().Unix())
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.now()
	}

	if existing, exists := s.activeAlerts[alert.ID]; exists {
		existing.Description = alert.Description
		existing.Labels = alert.Labels
		existing.Annotations = alert.Annotations
		return nil
	}

	if s.config.MaxAlerts > 0 && len(s.activeAlerts) >= s.config.MaxAlerts {
		s.logger.WithContext(ctx).Warn("Maximum number of active alerts reached, dropping alert")
		return errors.NewRateLimitError("maximum number of active alerts reached")
	}

	s.activeAlerts[alert.ID] = alert

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"title":     alert.Title,
		"severity":  alert.Severity,
		"component": alert.Component,
	}).Warn("Alert triggered")

	s.notify(ctx, *alert)
	return nil
}

// ResolveAlert resolves a firing alert
func (s *Service) ResolveAlert(ctx context.Context, alertID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	alert, exists := s.activeAlerts[alertID]
	if !exists {
		return errors.NewNotFoundError("alert " + alertID)
	}

	now := s.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(s.activeAlerts, alertID)

	s.logger.WithDuration(now.Sub(alert.Timestamp)).WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"title":      alert.Title,
		"component":  alert.Component,
		"request_id": logging.GetRequestID(ctx),
	}).Info("Alert resolved")

	s.notify(ctx, *alert)
	return nil
}

// GetActiveAlerts returns copies of the firing alerts, oldest first
func (s *Service) GetActiveAlerts() []Alert {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	alerts := make([]Alert, 0, len(s.activeAlerts))
	for _, alert := range s.activeAlerts {
		alerts = append(alerts, *alert)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
	return alerts
}

// GetAlert returns a copy of a firing alert
func (s *Service) GetAlert(alertID string) (Alert, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	alert, exists := s.activeAlerts[alertID]
	if !exists {
		return Alert{}, false
	}
	return *alert, true
}

// Wait blocks until notifications already in flight have been delivered
func (s *Service) Wait() {
	s.pending.Wait()
}

// notify must be called with the mutex held. Delivery outlives the request
// that caused the alert.
func (s *Service) notify(ctx context.Context, alert Alert) {
	ctx = context.WithoutCancel(ctx)

	for _, channel := range s.channels {
		s.pending.Add(1)
		go func(ch NotificationChannel) {
			defer s.pending.Done()
			if err := ch.Send(ctx, &alert); err != nil {
				s.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
					"channel":  ch.Name(),
					"alert_id": alert.ID,
				}).Error("Failed to send alert notification")
			}
		}(channel)
	}
}

// CircuitAlertID is the alert raised while the named circuit is open
func CircuitAlertID(name string) string {
	return "circuit_open_" + name
}

// OnCircuitStateChange raises a critical alert when a circuit opens and
// resolves it once the circuit closes. It matches the breaker's
// OnStateChange hook.
func (s *Service) OnCircuitStateChange(name string, from, to resilience.CircuitState) {
	ctx := context.Background()
	id := CircuitAlertID(name)

	switch to {
	case resilience.StateOpen:
		_ = s.TriggerAlert(ctx, &Alert{
			ID:          id,
			Title:       fmt.Sprintf("Circuit %s is open", name),
			Description: fmt.Sprintf("Calls to %s are failing fast; students receive fallback answers.", name),
			Severity:    SeverityCritical,
			Component:   name,
			Labels: map[string]string{
				"category": "circuit_breaker",
				"from":     from.String(),
			},
		})
	case resilience.StateClosed:
		if _, firing := s.GetAlert(id); firing {
			_ = s.ResolveAlert(ctx, id)
		}
	}
}

// WebhookChannel posts alerts as JSON
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook notification channel
func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name returns the channel name
func (wc *WebhookChannel) Name() string {
	return "webhook"
}

// Send sends an alert via webhook
func (wc *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	return post(ctx, wc.client, wc.url, payload, wc.headers)
}

// SlackChannel posts alerts to a Slack incoming webhook
type SlackChannel struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a new Slack notification channel
func NewSlackChannel(webhookURL, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		username:   username,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name returns the channel name
func (sc *SlackChannel) Name() string {
	return "slack"
}

// Send sends an alert to Slack
func (sc *SlackChannel) Send(ctx context.Context, alert *Alert) error {
	status := "FIRING"
	color := colorForSeverity(alert.Severity)
	if alert.Resolved {
		status = "RESOLVED"
		color = "good"
	}

	fields := []map[string]interface{}{
		{"title": "Severity", "value": string(alert.Severity), "short": true},
		{"title": "Component", "value": alert.Component, "short": true},
	}
	keys := make([]string, 0, len(alert.Labels))
	for key := range alert.Labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fields = append(fields, map[string]interface{}{"title": key, "value": alert.Labels[key], "short": true})
	}

	payload, err := json.Marshal(map[string]interface{}{
		"username": sc.username,
		"attachments": []map[string]interface{}{{
			"color":     color,
			"title":     fmt.Sprintf("[%s] %s", status, alert.Title),
			"text":      alert.Description,
			"timestamp": alert.Timestamp.Unix(),
			"fields":    fields,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}
	return post(ctx, sc.client, sc.webhookURL, payload, nil)
}

func colorForSeverity(severity Severity) string {
	switch severity {
	case SeverityInfo:
		return "#36a64f"
	case SeverityWarning:
		return "#ff9500"
	case SeverityCritical:
		return "#ff0000"
	default:
		return "#808080"
	}
}

func post(ctx context.Context, client *http.Client, url string, payload []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
