package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/metrics"
)

// maxHistoryRecords caps the history endpoint
const maxHistoryRecords = 500

// PerformanceHandler handles response-time monitoring endpoints
type PerformanceHandler struct {
	monitor *metrics.Monitor
}

// NewPerformanceHandler creates a new performance handler
func NewPerformanceHandler(monitor *metrics.Monitor) *PerformanceHandler {
	return &PerformanceHandler{monitor: monitor}
}

// GetMetrics returns the rolling response-time snapshot
func (h *PerformanceHandler) GetMetrics(c *gin.Context) {
	SuccessResponse(c, gin.H{
		"metrics":    h.monitor.GetMetrics(),
		"thresholds": thresholdsMS(h.monitor.Thresholds()),
	})
}

// GetReport returns the graded performance report
func (h *PerformanceHandler) GetReport(c *gin.Context) {
	SuccessResponse(c, h.monitor.GetPerformanceReport())
}

// GetHistory returns the most recent timed requests
func (h *PerformanceHandler) GetHistory(c *gin.Context) {
	limit := metrics.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxHistoryRecords {
			ErrorResponseFromError(c, errors.NewValidationError(
				"limit must be an integer between 1 and "+strconv.Itoa(maxHistoryRecords)).
				WithDetail("limit", raw))
			return
		}
		limit = parsed
	}

	SuccessResponse(c, h.monitor.RequestHistory(limit))
}

// ValidateResponseTime grades a response time given in milliseconds
func (h *PerformanceHandler) ValidateResponseTime(c *gin.Context) {
	ms, err := strconv.ParseInt(c.Query("ms"), 10, 64)
	if err != nil || ms < 0 {
		ErrorResponseFromError(c, errors.NewValidationError("ms must be a non-negative integer"))
		return
	}

	SuccessResponse(c, h.monitor.ValidateResponseTime(time.Duration(ms)*time.Millisecond))
}

// Reset clears recorded samples
func (h *PerformanceHandler) Reset(c *gin.Context) {
	h.monitor.Reset()
	SuccessResponse(c, h.monitor.GetMetrics())
}

func thresholdsMS(t metrics.Thresholds) gin.H {
	return gin.H{
		"warning":        t.Warning.Milliseconds(),
		"error":          t.Error.Milliseconds(),
		"max_acceptable": t.MaxAcceptable.Milliseconds(),
	}
}
