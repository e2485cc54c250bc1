package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ShopCurated/curator-go/internal/application/services"
	"github.com/ShopCurated/curator-go/internal/infrastructure/messaging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

const sseHeartbeatInterval = 30 * time.Second

// SessionHandlers drives the session workflow API: submit, stream state
// over SSE, keep-waiting, and close.
type SessionHandlers struct {
	orchestrator      *services.OrchestratorService
	experimentService *services.ExperimentService
	broadcaster       *messaging.StateBroadcaster
	defaultResults    int
	logger            *logging.ChanneledLogger
}

// NewSessionHandlers creates session handlers with injected dependencies
func NewSessionHandlers(orchestrator *services.OrchestratorService, experimentService *services.ExperimentService, broadcaster *messaging.StateBroadcaster, defaultResults int, logger *logging.ChanneledLogger) *SessionHandlers {
	return &SessionHandlers{
		orchestrator:      orchestrator,
		experimentService: experimentService,
		broadcaster:       broadcaster,
		defaultResults:    defaultResults,
		logger:            logger,
	}
}

type submitRequest struct {
	VisitorID    string            `json:"visitorId"`
	ExperienceID string            `json:"experienceId"`
	Answers      []string          `json:"answers"`
	ResultsCount int               `json:"resultsCount"`
	PageParams   map[string]string `json:"pageParams"`
}

// PostSession handles POST /api/v1/widget/sessions
func (h *SessionHandlers) PostSession(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.VisitorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visitorId is required"})
		return
	}

	resultsCount := req.ResultsCount
	if resultsCount <= 0 {
		// Variant parameters can tune the results count; fall back to the
		// shop default when no experiment covers it.
		assignments := h.experimentService.Assignments(c.Request.Context(), req.VisitorID)
		resultsCount = services.ResultsCountFromAssignments(assignments, h.defaultResults)
	}

	workflow, err := h.orchestrator.Submit(services.SubmitRequest{
		VisitorID:    req.VisitorID,
		ExperienceID: req.ExperienceID,
		Answers:      req.Answers,
		ResultsCount: resultsCount,
		PageParams:   req.PageParams,
	})
	switch {
	case errors.Is(err, services.ErrEmptyAnswers):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "answers must not be empty"})
		return
	case errors.Is(err, services.ErrSubmissionInFlight):
		// Repeated submit gestures while a submission phase is running are
		// absorbed, matching the widget's silent-no-op behavior.
		c.JSON(http.StatusConflict, gin.H{"error": "submission already in flight"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"workflowId": workflow.ID,
		"state":      workflow.State(),
	})
}

// GetState handles GET /api/v1/widget/sessions/:id
func (h *SessionHandlers) GetState(c *gin.Context) {
	workflow, err := h.orchestrator.Workflow(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workflowId": workflow.ID,
		"state":      workflow.State(),
	})
}

// GetStream handles GET /api/v1/widget/sessions/:id/stream - streams state
// snapshots over SSE until the workflow terminates or the client goes away.
func (h *SessionHandlers) GetStream(c *gin.Context) {
	workflowID := c.Param("id")
	workflow, err := h.orchestrator.Workflow(workflowID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	ch := h.broadcaster.Subscribe(workflowID)
	defer h.broadcaster.Unsubscribe(workflowID, ch)

	h.logger.SSE().Info("SSE stream opened", "workflowId", workflowID)

	// Send the current snapshot first so late subscribers render
	// immediately instead of waiting for the next transition.
	if err := writeSSEEvent(c, "state", workflow.State()); err != nil {
		return
	}
	flusher.Flush()

	clientCtx := c.Request.Context()
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-clientCtx.Done():
			h.logger.SSE().Debug("SSE client disconnected", "workflowId", workflowID)
			return

		case payload, ok := <-ch:
			if !ok {
				return
			}
			if _, err := c.Writer.WriteString("event: state\ndata: " + payload + "\n\n"); err != nil {
				h.logger.SSE().Debug("SSE write failed", "workflowId", workflowID, "error", err.Error())
				return
			}
			flusher.Flush()

			if workflow.State().Terminal() {
				h.logger.SSE().Info("SSE stream closing, workflow terminal", "workflowId", workflowID)
				return
			}

		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// PostKeepWaiting handles POST /api/v1/widget/sessions/:id/keep-waiting
func (h *SessionHandlers) PostKeepWaiting(c *gin.Context) {
	resumed, err := h.orchestrator.KeepWaiting(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"resumed": resumed})
}

// DeleteSession handles DELETE /api/v1/widget/sessions/:id - the widget
// closed, cancel the workflow and discard whatever is in flight.
func (h *SessionHandlers) DeleteSession(c *gin.Context) {
	if err := h.orchestrator.Close(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

func writeSSEEvent(c *gin.Context, event string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.Writer.WriteString("event: " + event + "\ndata: " + string(encoded) + "\n\n")
	return err
}
