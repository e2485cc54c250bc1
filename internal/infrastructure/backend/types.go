package backend

import (
	"github.com/ShopCurated/curator-go/internal/domain/session"
)

// SessionStatus is the backend's view of a recommendation session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "PENDING"
	SessionProcessing SessionStatus = "PROCESSING"
	SessionComplete   SessionStatus = "COMPLETE"
	SessionFailed     SessionStatus = "FAILED"
	SessionError      SessionStatus = "ERROR"
)

// Terminal reports whether the status ends a session one way or the other.
func (s SessionStatus) Terminal() bool {
	return s == SessionComplete || s == SessionFailed || s == SessionError
}

// StartRequest starts (or idempotently resumes) a recommendation session.
// RequestID is generated once per workflow and reused across every resume
// attempt so the backend never creates two sessions for one submission.
type StartRequest struct {
	RequestID    string            `json:"requestId"`
	VisitorID    string            `json:"visitorId"`
	ExperienceID string            `json:"experienceId,omitempty"`
	Answers      []string          `json:"answers"`
	ResultsCount int               `json:"resultsCount,omitempty"`
	PageParams   map[string]string `json:"pageParams,omitempty"`
}

// StartResponse carries the backend-issued session identifier.
type StartResponse struct {
	SessionID string `json:"sessionId"`
}

// StatusResponse is one poll result.
type StatusResponse struct {
	Status   SessionStatus     `json:"status"`
	Products []session.Product `json:"products,omitempty"`
}

// Question is one step of the shopper questionnaire.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Kind    string   `json:"kind,omitempty"`
	Options []string `json:"options,omitempty"`
}

// QuestionsResponse is the ordered questionnaire for an experience.
type QuestionsResponse struct {
	Questions []Question `json:"questions"`
}

// ShopConfig is the shop-level default settings payload. The runtime treats
// it as opaque and caches it with a conditional-revalidation token.
type ShopConfig map[string]any

// Event is one fire-and-forget telemetry record.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type experimentsEnvelope struct {
	Experiments []experimentDefinition `json:"experiments"`
}

type experimentDefinition struct {
	Key      string              `json:"key"`
	Variants []experimentVariant `json:"variants"`
}

type experimentVariant struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}
