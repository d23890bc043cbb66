package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Upstream   UpstreamConfig   `json:"upstream"`
	Resilience ResilienceConfig `json:"resilience"`
	Quality    QualityConfig    `json:"quality"`
	Monitor    MonitorConfig    `json:"monitor"`
	Security   SecurityConfig   `json:"security"`
	Redis      RedisConfig      `json:"redis"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Tracing    TracingConfig    `json:"tracing"`
	Alerting   AlertingConfig   `json:"alerting"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
	MaxBodyBytes   int64         `json:"max_body_bytes"`
	Environment    string        `json:"environment"`
}

// UpstreamConfig points at the remote answering service
type UpstreamConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// ResilienceConfig holds breaker, retry, cache and queue settings
type ResilienceConfig struct {
	FailureThreshold   int           `json:"failure_threshold"`
	ResetTimeout       time.Duration `json:"reset_timeout"`
	SuccessThreshold   int           `json:"success_threshold"`
	AttemptTimeout     time.Duration `json:"attempt_timeout"`
	MaxAttempts        int           `json:"max_attempts"`
	BaseDelay          time.Duration `json:"base_delay"`
	MaxDelay           time.Duration `json:"max_delay"`
	BackoffMultiplier  float64       `json:"backoff_multiplier"`
	QueueWhenOpen      bool          `json:"queue_when_open"`
	CacheTTL           time.Duration `json:"cache_ttl"`
	CacheMaxSize       int           `json:"cache_max_size"`
	QueueInitialPoll   time.Duration `json:"queue_initial_poll"`
	QueueDrainInterval time.Duration `json:"queue_drain_interval"`
}

// QualityConfig toggles the response quality checks
type QualityConfig struct {
	ConfidenceThreshold    float64 `json:"confidence_threshold"`
	ConfidenceCheck        bool    `json:"confidence_check"`
	CitationRequired       bool    `json:"citation_required"`
	HallucinationDetection bool    `json:"hallucination_detection"`
	ContradictionCheck     bool    `json:"contradiction_check"`
	FactCheckEnabled       bool    `json:"fact_check_enabled"`
}

// MonitorConfig holds response-time thresholds
type MonitorConfig struct {
	WarningThreshold       time.Duration `json:"warning_threshold"`
	ErrorThreshold         time.Duration `json:"error_threshold"`
	MaxAcceptableThreshold time.Duration `json:"max_acceptable_threshold"`
	HistorySize            int           `json:"history_size"`
}

// SecurityConfig controls input screening
type SecurityConfig struct {
	BlockUnsafeInput bool `json:"block_unsafe_input"`
	MaxInputLength   int  `json:"max_input_length"`
	// RateLimitPerMinute caps chat requests per client IP; 0 disables limiting
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
}

// RedisConfig contains Redis connection configuration for the shared cache
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	KeyPrefix string `json:"key_prefix"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig controls the Prometheus surface
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// AlertingConfig controls operator notifications
type AlertingConfig struct {
	Enabled            bool          `json:"enabled"`
	WebhookURL         string        `json:"webhook_url"`
	SlackWebhookURL    string        `json:"slack_webhook_url"`
	EvaluationInterval time.Duration `json:"evaluation_interval"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	// A missing .env file is the normal case in containers.
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:           getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MaxBodyBytes:   getEnvInt64("SERVER_MAX_BODY_BYTES", 64*1024),
			Environment:    getEnvString("ENVIRONMENT", "development"),
		},
		Upstream: UpstreamConfig{
			BaseURL:        getEnvString("UPSTREAM_BASE_URL", "http://localhost:8000/api/v1"),
			RequestTimeout: getEnvDuration("UPSTREAM_REQUEST_TIMEOUT", 30*time.Second),
		},
		Resilience: ResilienceConfig{
			FailureThreshold:   getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
			ResetTimeout:       getEnvDuration("CIRCUIT_RESET_TIMEOUT", 60*time.Second),
			SuccessThreshold:   getEnvInt("CIRCUIT_SUCCESS_THRESHOLD", 3),
			AttemptTimeout:     getEnvDuration("RETRY_ATTEMPT_TIMEOUT", 30*time.Second),
			MaxAttempts:        getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:          getEnvDuration("RETRY_BASE_DELAY", time.Second),
			MaxDelay:           getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
			BackoffMultiplier:  getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2),
			QueueWhenOpen:      getEnvBool("QUEUE_WHEN_OPEN", false),
			CacheTTL:           getEnvDuration("CACHE_TTL", 5*time.Minute),
			CacheMaxSize:       getEnvInt("CACHE_MAX_SIZE", 100),
			QueueInitialPoll:   getEnvDuration("QUEUE_INITIAL_POLL", time.Second),
			QueueDrainInterval: getEnvDuration("QUEUE_DRAIN_INTERVAL", 100*time.Millisecond),
		},
		Quality: QualityConfig{
			ConfidenceThreshold:    getEnvFloat("QUALITY_CONFIDENCE_THRESHOLD", 0.7),
			ConfidenceCheck:        getEnvBool("QUALITY_CONFIDENCE_CHECK", true),
			CitationRequired:       getEnvBool("QUALITY_CITATION_REQUIRED", true),
			HallucinationDetection: getEnvBool("QUALITY_HALLUCINATION_DETECTION", true),
			ContradictionCheck:     getEnvBool("QUALITY_CONTRADICTION_CHECK", true),
			FactCheckEnabled:       getEnvBool("QUALITY_FACT_CHECK", true),
		},
		Monitor: MonitorConfig{
			WarningThreshold:       getEnvDuration("MONITOR_WARNING_THRESHOLD", 2*time.Second),
			ErrorThreshold:         getEnvDuration("MONITOR_ERROR_THRESHOLD", 5*time.Second),
			MaxAcceptableThreshold: getEnvDuration("MONITOR_MAX_ACCEPTABLE_THRESHOLD", 10*time.Second),
			HistorySize:            getEnvInt("MONITOR_HISTORY_SIZE", 1000),
		},
		Security: SecurityConfig{
			BlockUnsafeInput: getEnvBool("SECURITY_BLOCK_UNSAFE_INPUT", true),
			MaxInputLength:   getEnvInt("SECURITY_MAX_INPUT_LENGTH", 10000),

			RateLimitPerMinute: getEnvInt("SECURITY_RATE_LIMIT_PER_MINUTE", 60),
		},
		Redis: RedisConfig{
			Enabled:   getEnvBool("REDIS_ENABLED", false),
			Host:      getEnvString("REDIS_HOST", "localhost"),
			Port:      getEnvInt("REDIS_PORT", 6379),
			Password:  getEnvString("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 10),
			KeyPrefix: getEnvString("REDIS_KEY_PREFIX", "textbook-assistant:answers"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "textbook_assistant"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "textbook-assistant"),
			ServiceVersion: getEnvString("TRACING_SERVICE_VERSION", "dev"),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Alerting: AlertingConfig{
			Enabled:            getEnvBool("ALERTING_ENABLED", true),
			WebhookURL:         getEnvString("ALERT_WEBHOOK_URL", ""),
			SlackWebhookURL:    getEnvString("ALERT_SLACK_WEBHOOK_URL", ""),
			EvaluationInterval: getEnvDuration("ALERT_EVALUATION_INTERVAL", 30*time.Second),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required")
	}

	if c.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}

	r := c.Resilience
	if r.FailureThreshold <= 0 || r.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit breaker thresholds must be positive")
	}
	if r.ResetTimeout <= 0 || r.AttemptTimeout <= 0 {
		return fmt.Errorf("circuit reset timeout and attempt timeout must be positive")
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("retry delays must be positive and max delay must not be below base delay")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff multiplier must be at least 1")
	}
	if r.CacheTTL <= 0 || r.CacheMaxSize <= 0 {
		return fmt.Errorf("cache TTL and size must be positive")
	}

	if c.Quality.ConfidenceThreshold < 0 || c.Quality.ConfidenceThreshold > 1 {
		return fmt.Errorf("quality confidence threshold must be between 0 and 1")
	}

	m := c.Monitor
	if m.WarningThreshold <= 0 || m.ErrorThreshold <= 0 || m.MaxAcceptableThreshold <= 0 {
		return fmt.Errorf("monitor thresholds must be positive")
	}
	if m.HistorySize <= 0 {
		return fmt.Errorf("monitor history size must be positive")
	}

	if c.Security.MaxInputLength <= 0 {
		return fmt.Errorf("security max input length must be positive")
	}
	if c.Security.RateLimitPerMinute < 0 {
		return fmt.Errorf("security rate limit must not be negative")
	}

	if c.Alerting.Enabled && c.Alerting.EvaluationInterval <= 0 {
		return fmt.Errorf("alert evaluation interval must be positive")
	}

	return nil
}

// Address returns the listen address of the HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RedisAddr returns the host:port of the Redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
