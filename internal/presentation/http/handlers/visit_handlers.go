// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"net/http"

	"github.com/ShopCurated/curator-go/internal/application/services"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// VisitHandlers bootstraps the widget on page load: visitor identity,
// experiment assignments, shop config, and per-visitor widget state in one
// round trip.
type VisitHandlers struct {
	visitorService    *services.VisitorService
	experimentService *services.ExperimentService
	configService     *services.ConfigService
	widgetState       *services.WidgetStateService
	logger            *logging.ChanneledLogger
}

// NewVisitHandlers creates visit handlers with injected dependencies
func NewVisitHandlers(visitorService *services.VisitorService, experimentService *services.ExperimentService, configService *services.ConfigService, widgetState *services.WidgetStateService, logger *logging.ChanneledLogger) *VisitHandlers {
	return &VisitHandlers{
		visitorService:    visitorService,
		experimentService: experimentService,
		configService:     configService,
		widgetState:       widgetState,
		logger:            logger,
	}
}

type visitRequest struct {
	VisitorID string `json:"visitorId"`
	PageURL   string `json:"pageUrl"`
	WidgetID  string `json:"widgetId"`
}

// PostVisit handles POST /api/v1/widget/visit
func (h *VisitHandlers) PostVisit(c *gin.Context) {
	var req visitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	visitorID, created, err := h.visitorService.EnsureVisitor(c.Request.Context(), req.VisitorID)
	if err != nil {
		h.logger.System().Error("Visitor bootstrap failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "visitor bootstrap failed"})
		return
	}

	assignments := h.experimentService.AssignmentsForView(c.Request.Context(), visitorID, req.PageURL)

	shopConfig, err := h.configService.Get(c.Request.Context())
	if err != nil {
		h.logger.System().Warn("Shop config unavailable for visit", "error", err.Error())
		shopConfig = nil
	}

	lastSession, _ := h.widgetState.LastSession(c.Request.Context(), visitorID)

	// The widget auto-opens at most once per visitor per widget instance.
	autoOpen := false
	if req.WidgetID != "" && !h.widgetState.AutoOpened(c.Request.Context(), visitorID, req.WidgetID) {
		autoOpen = true
		h.widgetState.MarkAutoOpened(c.Request.Context(), visitorID, req.WidgetID)
	}

	c.JSON(http.StatusOK, gin.H{
		"visitorId":     visitorID,
		"created":       created,
		"assignments":   assignments,
		"shopConfig":    shopConfig,
		"lastSessionId": lastSession,
		"autoOpen":      autoOpen,
	})
}

// GetLastSession handles GET /api/v1/widget/last-session
func (h *VisitHandlers) GetLastSession(c *gin.Context) {
	visitorID := c.Query("visitorId")
	if visitorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visitorId is required"})
		return
	}

	sessionID, found := h.widgetState.LastSession(c.Request.Context(), visitorID)
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sessionID,
		"found":     found,
	})
}
