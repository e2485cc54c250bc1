// Package messaging provides the SSE broadcaster that streams workflow
// state snapshots to the widget. The page renders whatever state arrives;
// user intents come back in through the HTTP API.
package messaging

import (
	"encoding/json"
	"sync"

	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
)

// StateBroadcaster manages per-workflow SSE subscriber channels.
type StateBroadcaster struct {
	workflows map[string][]chan string // workflowID -> subscriber channels
	mu        sync.Mutex
	logger    *logging.ChanneledLogger
}

// NewStateBroadcaster creates an empty broadcaster.
func NewStateBroadcaster(logger *logging.ChanneledLogger) *StateBroadcaster {
	return &StateBroadcaster{
		workflows: make(map[string][]chan string),
		logger:    logger,
	}
}

// Subscribe registers a new SSE client for a workflow.
func (b *StateBroadcaster) Subscribe(workflowID string) chan string {
	ch := make(chan string, 16)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.workflows[workflowID] = append(b.workflows[workflowID], ch)

	b.logger.SSE().Debug("SSE client registered", "workflowId", workflowID)
	return ch
}

// Unsubscribe removes an SSE client.
func (b *StateBroadcaster) Unsubscribe(workflowID string, ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers := b.workflows[workflowID]
	for i, sub := range subscribers {
		if sub == ch {
			b.workflows[workflowID] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
	if len(b.workflows[workflowID]) == 0 {
		delete(b.workflows, workflowID)
	}

	b.logger.SSE().Debug("SSE client removed", "workflowId", workflowID)
}

// Publish sends a state payload to every subscriber of the workflow. Slow
// subscribers are skipped rather than blocking a workflow transition.
func (b *StateBroadcaster) Publish(workflowID string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		b.logger.SSE().Error("Failed to encode state payload", "workflowId", workflowID, "error", err.Error())
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.workflows[workflowID] {
		select {
		case ch <- string(encoded):
		default:
			b.logger.SSE().Debug("Dropped state update for slow subscriber", "workflowId", workflowID)
		}
	}
}
