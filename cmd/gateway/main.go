package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/NikhilSetiya/textbook-assistant/internal/api"
	"github.com/NikhilSetiya/textbook-assistant/internal/cache"
	"github.com/NikhilSetiya/textbook-assistant/internal/chat"
	"github.com/NikhilSetiya/textbook-assistant/internal/observability"
	"github.com/NikhilSetiya/textbook-assistant/internal/upstream"
	"github.com/NikhilSetiya/textbook-assistant/pkg/alerting"
	"github.com/NikhilSetiya/textbook-assistant/pkg/config"
	appErrors "github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/health"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/metrics"
	"github.com/NikhilSetiya/textbook-assistant/pkg/quality"
	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
	"github.com/NikhilSetiya/textbook-assistant/pkg/security"
	"github.com/NikhilSetiya/textbook-assistant/pkg/tracing"
	"github.com/NikhilSetiya/textbook-assistant/pkg/types"
)

const (
	shutdownTimeout        = 30 * time.Second
	metricsCollectInterval = 15 * time.Second
	upstreamHealthTimeout  = 3 * time.Second
	maxActiveAlerts        = 100
	slackUsername          = "textbook-assistant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.Tracing.ServiceVersion,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Gateway stopped with error")
	}
	logger.Info("Gateway exited")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Server.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})

	redisClient := connectRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	alerts := newAlerting(cfg, logger)
	defer alerts.Wait()

	executor := newExecutor(cfg, redisClient, m, alerts, tracer, logger)
	defer executor.Close()

	monitor := metrics.NewMonitor(metrics.MonitorConfig{
		Thresholds: metrics.Thresholds{
			Warning:       cfg.Monitor.WarningThreshold,
			Error:         cfg.Monitor.ErrorThreshold,
			MaxAcceptable: cfg.Monitor.MaxAcceptableThreshold,
		},
		HistorySize: cfg.Monitor.HistorySize,
		Metrics:     m,
		Logger:      logger,
	})

	client := upstream.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.RequestTimeout,
		Logger:  logger,
	})

	chatService, err := chat.NewService(chat.Config{
		BlockUnsafeInput: cfg.Security.BlockUnsafeInput,
	}, chat.Dependencies{
		Upstream: client,
		Executor: executor,
		Security: security.NewValidator(cfg.Security.MaxInputLength),
		Quality:  quality.NewValidator(cfg.Quality.Rules()),
		Fallback: resilience.NewFallbackResponder(logger),
		Monitor:  monitor,
		Metrics:  m,
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	healthService := health.NewService(logger, nil)
	healthService.RegisterChecker("circuit", health.NewCircuitChecker(executor, upstream.ServiceName))
	healthService.RegisterChecker("upstream", health.NewHTTPChecker(
		strings.TrimSuffix(cfg.Upstream.BaseURL, "/")+"/health", upstream.ServiceName, upstreamHealthTimeout))
	if redisClient != nil {
		healthService.RegisterChecker("redis", health.NewRedisChecker(redisClient, "redis"))
	}

	var limiter *security.RateLimiter
	if cfg.Security.RateLimitPerMinute > 0 {
		limiter = security.NewRateLimiter(security.RateLimitConfig{
			Limit:       cfg.Security.RateLimitPerMinute,
			Window:      time.Minute,
			RedisClient: redisClient,
			Logger:      logger,
		})
	}

	router, err := api.NewRouter(api.Dependencies{
		Config:      cfg,
		Chat:        chatService,
		Executor:    executor,
		Monitor:     monitor,
		Metrics:     m,
		Health:      healthService,
		Tracer:      tracer,
		Alerting:    alerts,
		RateLimiter: limiter,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"address":  server.Addr,
			"upstream": cfg.Upstream.BaseURL,
		}).Info("Starting gateway")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		collector := metrics.NewMetricsCollector(m, metricsCollectInterval, executor)
		g.Go(func() error {
			collector.Start(gctx)
			return nil
		})
	}

	if cfg.Alerting.Enabled {
		watchdog := observability.NewWatchdog(healthService, monitor, alerts, logger, cfg.Alerting.EvaluationInterval)
		g.Go(func() error {
			return watchdog.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// connectRedis returns nil when the shared cache is disabled or unreachable;
// the gateway then runs with its in-process cache.
func connectRedis(cfg *config.Config, logger *logging.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}

	client, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.WithError(err).WithField("address", cfg.RedisAddr()).
			Warn("Redis unavailable, falling back to in-memory cache")
		return nil
	}

	logger.WithField("address", cfg.RedisAddr()).Info("Redis connection established")
	return client
}

func newAlerting(cfg *config.Config, logger *logging.Logger) *alerting.Service {
	alerts := alerting.NewService(logger, &alerting.Config{
		Enabled:   cfg.Alerting.Enabled,
		MaxAlerts: maxActiveAlerts,
	})
	if cfg.Alerting.WebhookURL != "" {
		alerts.AddChannel(alerting.NewWebhookChannel(cfg.Alerting.WebhookURL, nil))
	}
	if cfg.Alerting.SlackWebhookURL != "" {
		alerts.AddChannel(alerting.NewSlackChannel(cfg.Alerting.SlackWebhookURL, slackUsername))
	}
	return alerts
}

func newExecutor(cfg *config.Config, redisClient *redis.Client, m *metrics.Metrics, alerts *alerting.Service, tracer *tracing.TracingService, logger *logging.Logger) *resilience.Executor {
	execConfig := cfg.Resilience.ExecutorConfig(upstream.ServiceName)
	execConfig.Logger = logger
	execConfig.Tracer = tracer
	execConfig.CircuitBreaker.Logger = logger
	execConfig.CircuitBreaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
		m.RecordCircuitTransition(name, from, to)
		alerts.OnCircuitStateChange(name, from, to)
	}
	execConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.RecordRetry(upstream.ServiceName, string(appErrors.GetType(err)))
	}

	if redisClient != nil {
		execConfig.Cache = cache.NewRedisStore(redisClient, cache.RedisStoreConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Resilience.CacheTTL,
			Decode:    cache.JSONDecoder[types.ChatResponse](),
			Logger:    logger,
		})
	} else {
		execConfig.Cache = cache.NewTimedCache(cache.Config{
			TTL:     cfg.Resilience.CacheTTL,
			MaxSize: cfg.Resilience.CacheMaxSize,
		})
	}

	return resilience.NewExecutor(execConfig)
}
