package handlers

import (
	"net/http"

	"github.com/ShopCurated/curator-go/internal/application/services"
	"github.com/ShopCurated/curator-go/internal/infrastructure/backend"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// ContentHandlers serves widget content fetched from the recommendation
// backend: the question flow, shop config, and experiment assignments.
type ContentHandlers struct {
	backend           *backend.Client
	configService     *services.ConfigService
	experimentService *services.ExperimentService
	logger            *logging.ChanneledLogger
}

// NewContentHandlers creates content handlers with injected dependencies
func NewContentHandlers(client *backend.Client, configService *services.ConfigService, experimentService *services.ExperimentService, logger *logging.ChanneledLogger) *ContentHandlers {
	return &ContentHandlers{
		backend:           client,
		configService:     configService,
		experimentService: experimentService,
		logger:            logger,
	}
}

// GetQuestions handles GET /api/v1/widget/questions
func (h *ContentHandlers) GetQuestions(c *gin.Context) {
	experienceID := c.Query("experienceId")
	if experienceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "experienceId is required"})
		return
	}

	questions, err := h.backend.FetchQuestions(c.Request.Context(), experienceID)
	if err != nil {
		h.logger.Backend().Error("Question fetch failed", "experienceId", experienceID, "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": backend.MessageOf(err)})
		return
	}

	c.JSON(http.StatusOK, questions)
}

// GetConfig handles GET /api/v1/widget/config
func (h *ContentHandlers) GetConfig(c *gin.Context) {
	cfg, err := h.configService.Get(c.Request.Context())
	if err != nil {
		h.logger.System().Error("Shop config fetch failed", "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": backend.MessageOf(err)})
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// GetExperiments handles GET /api/v1/widget/experiments
func (h *ContentHandlers) GetExperiments(c *gin.Context) {
	visitorID := c.Query("visitorId")
	if visitorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visitorId is required"})
		return
	}

	// With a url the override parameter can force a variant, and the forced
	// assignment gets a fresh exposure. Without one the assignments are
	// computed silently; the visit bootstrap already reported exposures.
	pageURL := c.Query("url")
	var assignments any
	if pageURL != "" {
		assignments = h.experimentService.AssignmentsForView(c.Request.Context(), visitorID, pageURL)
	} else {
		assignments = h.experimentService.Assignments(c.Request.Context(), visitorID)
	}

	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}
