package handlers

import (
	"net/http"

	"github.com/ShopCurated/curator-go/internal/application/services"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// EventHandlers accepts widget lifecycle telemetry (opened, closed,
// question answered) and forwards it upstream fire-and-forget.
type EventHandlers struct {
	telemetry *services.TelemetryService
	logger    *logging.ChanneledLogger
}

// NewEventHandlers creates event handlers with injected dependencies
func NewEventHandlers(telemetry *services.TelemetryService, logger *logging.ChanneledLogger) *EventHandlers {
	return &EventHandlers{
		telemetry: telemetry,
		logger:    logger,
	}
}

type widgetEventRequest struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Metadata  map[string]any `json:"metadata"`
}

// PostEvent handles POST /api/v1/widget/events
func (h *EventHandlers) PostEvent(c *gin.Context) {
	var req widgetEventRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event type is required"})
		return
	}

	h.telemetry.EmitWidgetEvent(req.Type, req.SessionID, req.Metadata)
	c.Status(http.StatusAccepted)
}
