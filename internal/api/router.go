package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/textbook-assistant/internal/chat"
	"github.com/NikhilSetiya/textbook-assistant/pkg/alerting"
	"github.com/NikhilSetiya/textbook-assistant/pkg/config"
	"github.com/NikhilSetiya/textbook-assistant/pkg/health"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/metrics"
	"github.com/NikhilSetiya/textbook-assistant/pkg/security"
	"github.com/NikhilSetiya/textbook-assistant/pkg/tracing"
)

// Dependencies are the services the router exposes. Config, Chat, Executor
// and Monitor are required.
type Dependencies struct {
	Config   *config.Config
	Chat     *chat.Service
	Executor ResilienceController
	Monitor  *metrics.Monitor
	Metrics  *metrics.Metrics
	Health   *health.Service
	Tracer   *tracing.TracingService
	Alerting *alerting.Service
	// RateLimiter guards the chatbot routes when set
	RateLimiter *security.RateLimiter
	Logger      *logging.Logger
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil || deps.Chat == nil || deps.Executor == nil || deps.Monitor == nil {
		return nil, fmt.Errorf("router requires config, chat service, executor and monitor")
	}
	cfg := deps.Config

	if deps.Logger == nil {
		deps.Logger = logging.GetLogger()
	}
	if deps.Health == nil {
		deps.Health = health.NewService(deps.Logger, nil)
	}
	if deps.Alerting == nil {
		deps.Alerting = alerting.NewService(deps.Logger, nil)
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RecoveryMiddleware(deps.Logger))
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(deps.Logger))
	if deps.Tracer != nil {
		router.Use(deps.Tracer.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}

	headers := security.DefaultSecurityHeadersConfig().WithAllowedOrigins(cfg.Server.AllowedOrigins)
	router.Use(security.SecurityMiddleware(headers, cfg.Server.MaxBodyBytes)...)

	router.GET("/health", deps.Health.Handler())
	router.GET("/health/live", deps.Health.LivenessHandler())
	router.GET("/health/ready", deps.Health.ReadinessHandler())

	if deps.Metrics != nil && cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	chatHandler := NewChatHandler(deps.Chat)
	resilienceHandler := NewResilienceHandler(deps.Executor, deps.Logger)
	performanceHandler := NewPerformanceHandler(deps.Monitor)
	alertHandler := NewAlertHandler(deps.Alerting)

	v1 := router.Group("/api/v1")
	{
		chatbot := v1.Group("/chatbot")
		if deps.RateLimiter != nil {
			chatbot.Use(deps.RateLimiter.RateLimitMiddleware())
		}
		{
			chatbot.POST("/query", chatHandler.Query)
			chatbot.POST("/session", chatHandler.CreateSession)
			chatbot.GET("/history", chatHandler.GetHistory)
			chatbot.POST("/feedback", chatHandler.SubmitFeedback)
		}

		res := v1.Group("/resilience")
		{
			res.GET("/circuit", resilienceHandler.GetCircuit)
			res.POST("/circuit/reset", resilienceHandler.ResetCircuit)
			res.GET("/cache", resilienceHandler.GetCache)
			res.DELETE("/cache", resilienceHandler.ClearCache)
			res.GET("/alerts", alertHandler.ListAlerts)
			res.POST("/alerts/:id/resolve", alertHandler.ResolveAlert)
		}

		perf := v1.Group("/performance")
		{
			perf.GET("/metrics", performanceHandler.GetMetrics)
			perf.GET("/report", performanceHandler.GetReport)
			perf.GET("/history", performanceHandler.GetHistory)
			perf.GET("/validate", performanceHandler.ValidateResponseTime)
			perf.POST("/reset", performanceHandler.Reset)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router, nil
}
