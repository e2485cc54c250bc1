// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"net/http"

	"github.com/ShopCurated/curator-go/internal/application/container"
	"github.com/ShopCurated/curator-go/internal/presentation/http/handlers"
	"github.com/ShopCurated/curator-go/internal/presentation/http/middleware"
	"github.com/ShopCurated/curator-go/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	// Initialize handlers
	visitHandlers := handlers.NewVisitHandlers(container.VisitorService, container.ExperimentService, container.ConfigService, container.WidgetStateService, container.Logger)
	contentHandlers := handlers.NewContentHandlers(container.Backend, container.ConfigService, container.ExperimentService, container.Logger)
	sessionHandlers := handlers.NewSessionHandlers(container.OrchestratorService, container.ExperimentService, container.Broadcaster, config.DefaultResultsCount, container.Logger)
	eventHandlers := handlers.NewEventHandlers(container.TelemetryService, container.Logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(container.PromRegistry, promhttp.HandlerOpts{})))

	widget := r.Group("/api/v1/widget")
	{
		widget.POST("/visit", visitHandlers.PostVisit)
		widget.GET("/last-session", visitHandlers.GetLastSession)

		widget.GET("/questions", contentHandlers.GetQuestions)
		widget.GET("/config", contentHandlers.GetConfig)
		widget.GET("/experiments", contentHandlers.GetExperiments)

		widget.POST("/events", eventHandlers.PostEvent)

		sessions := widget.Group("/sessions")
		{
			sessions.POST("", sessionHandlers.PostSession)
			sessions.GET("/:id", sessionHandlers.GetState)
			sessions.GET("/:id/stream", sessionHandlers.GetStream)
			sessions.POST("/:id/keep-waiting", sessionHandlers.PostKeepWaiting)
			sessions.DELETE("/:id", sessionHandlers.DeleteSession)
		}
	}

	return r
}
