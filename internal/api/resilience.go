package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
)

// ResilienceController is the operator view of an executor
type ResilienceController interface {
	Status() resilience.CircuitStatus
	CacheStats() resilience.CacheStats
	ResetCircuit()
	ClearCache()
}

// ResilienceHandler exposes circuit and cache state to operators
type ResilienceHandler struct {
	executor ResilienceController
	logger   *logging.Logger
}

// NewResilienceHandler creates a new resilience handler
func NewResilienceHandler(executor ResilienceController, logger *logging.Logger) *ResilienceHandler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &ResilienceHandler{executor: executor, logger: logger}
}

// GetCircuit returns the breaker state
func (h *ResilienceHandler) GetCircuit(c *gin.Context) {
	SuccessResponse(c, h.executor.Status())
}

// ResetCircuit forces the breaker closed
func (h *ResilienceHandler) ResetCircuit(c *gin.Context) {
	before := h.executor.Status()
	h.executor.ResetCircuit()
	after := h.executor.Status()

	h.logger.LogResilienceEvent(c.Request.Context(), "circuit_reset", after.Name, logrus.Fields{
		"previous_state": before.State,
	})

	SuccessResponse(c, after)
}

// GetCache returns cache statistics
func (h *ResilienceHandler) GetCache(c *gin.Context) {
	SuccessResponse(c, h.executor.CacheStats())
}

// ClearCache drops every cached answer
func (h *ResilienceHandler) ClearCache(c *gin.Context) {
	cleared := h.executor.CacheStats().Size
	h.executor.ClearCache()

	h.logger.LogResilienceEvent(c.Request.Context(), "cache_cleared", h.executor.Status().Name, logrus.Fields{
		"entries": cleared,
	})

	SuccessResponse(c, gin.H{
		"cleared": cleared,
		"cache":   h.executor.CacheStats(),
	})
}
