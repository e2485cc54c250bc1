// Package services provides application-level orchestration services
package services

import (
	"context"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
	"github.com/ShopCurated/curator-go/internal/infrastructure/scheduling"
	"github.com/ShopCurated/curator-go/internal/infrastructure/security"
)

// VisitorService manages anonymous visitor identities. An identity is
// created lazily on first contact, persisted forever, and never mutated.
type VisitorService struct {
	persistent kv.Store
	clock      scheduling.Clock
	logger     *logging.ChanneledLogger
}

// NewVisitorService creates a new visitor service.
func NewVisitorService(persistent kv.Store, clock scheduling.Clock, logger *logging.ChanneledLogger) *VisitorService {
	return &VisitorService{
		persistent: persistent,
		clock:      clock,
		logger:     logger,
	}
}

// EnsureVisitor returns the existing visitor id, or mints and persists a new
// one when the caller has none.
func (s *VisitorService) EnsureVisitor(ctx context.Context, visitorID string) (id string, created bool, err error) {
	if visitorID != "" {
		return visitorID, false, nil
	}

	id = security.GenerateULID()
	createdAt := s.clock.Now().UTC().Format(time.RFC3339)
	if err := s.persistent.Set(ctx, kv.VisitorKey(id), createdAt); err != nil {
		return "", false, err
	}

	s.logger.System().Info("New visitor identity created", "visitorId", id)
	return id, true, nil
}
