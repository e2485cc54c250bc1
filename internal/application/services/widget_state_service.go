package services

import (
	"context"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
)

// WidgetStateService keeps small pieces of per-visitor widget state in the
// session scope: the last completed session id (so a returning shopper can
// jump back to their results) and auto-open flags keyed by widget instance
// (so the widget pops open at most once per session).
type WidgetStateService struct {
	sessionCache *kv.MemoryStore
	ttl          time.Duration
}

// NewWidgetStateService creates a new widget state service.
func NewWidgetStateService(sessionCache *kv.MemoryStore, ttl time.Duration) *WidgetStateService {
	return &WidgetStateService{
		sessionCache: sessionCache,
		ttl:          ttl,
	}
}

// RememberSession stores the visitor's last completed session id.
func (s *WidgetStateService) RememberSession(ctx context.Context, visitorID, sessionID string) {
	_ = s.sessionCache.SetWithTTL(ctx, "lastSession:"+visitorID, sessionID, s.ttl)
}

// LastSession returns the visitor's last completed session id, if any.
func (s *WidgetStateService) LastSession(ctx context.Context, visitorID string) (string, bool) {
	sessionID, found, _ := s.sessionCache.Get(ctx, "lastSession:"+visitorID)
	return sessionID, found
}

// MarkAutoOpened records that a widget instance auto-opened for a visitor.
func (s *WidgetStateService) MarkAutoOpened(ctx context.Context, visitorID, widgetID string) {
	_ = s.sessionCache.SetWithTTL(ctx, "autoOpened:"+visitorID+":"+widgetID, "1", s.ttl)
}

// AutoOpened reports whether a widget instance already auto-opened.
func (s *WidgetStateService) AutoOpened(ctx context.Context, visitorID, widgetID string) bool {
	_, found, _ := s.sessionCache.Get(ctx, "autoOpened:"+visitorID+":"+widgetID)
	return found
}
