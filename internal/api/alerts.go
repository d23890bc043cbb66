package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/textbook-assistant/pkg/alerting"
)

// AlertHandler lists and resolves operator alerts
type AlertHandler struct {
	alerts *alerting.Service
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *alerting.Service) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// ListAlerts returns the firing alerts
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	alerts := h.alerts.GetActiveAlerts()
	SuccessResponse(c, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ResolveAlert resolves a firing alert by ID
func (h *AlertHandler) ResolveAlert(c *gin.Context) {
	if err := h.alerts.ResolveAlert(c.Request.Context(), c.Param("id")); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{"message": "Alert resolved successfully"})
}
