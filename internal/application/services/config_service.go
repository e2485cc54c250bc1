package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/backend"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
)

const (
	shopConfigDataKey  = "shopconfig:data"
	shopConfigEtagKey  = "shopconfig:etag"
	shopConfigFreshKey = "shopconfig:fresh"
)

// ConfigFetcher loads shop-level settings with conditional revalidation.
type ConfigFetcher interface {
	FetchConfig(ctx context.Context, etag string) (cfg backend.ShopConfig, newEtag string, notModified bool, err error)
}

// ConfigService caches shop-level default settings in the session scope.
// The cached body outlives the freshness window; once stale it is
// revalidated with the stored ETag and kept on a 304.
type ConfigService struct {
	fetcher      ConfigFetcher
	sessionCache *kv.MemoryStore
	cacheTTL     time.Duration
	logger       *logging.ChanneledLogger
}

// NewConfigService creates a new config service.
func NewConfigService(fetcher ConfigFetcher, sessionCache *kv.MemoryStore, cacheTTL time.Duration, logger *logging.ChanneledLogger) *ConfigService {
	return &ConfigService{
		fetcher:      fetcher,
		sessionCache: sessionCache,
		cacheTTL:     cacheTTL,
		logger:       logger,
	}
}

// Get returns the shop config, revalidating the cache when stale.
func (s *ConfigService) Get(ctx context.Context) (backend.ShopConfig, error) {
	if _, fresh, _ := s.sessionCache.Get(ctx, shopConfigFreshKey); fresh {
		if cfg, ok := s.cached(ctx); ok {
			return cfg, nil
		}
	}

	etag, _, _ := s.sessionCache.Get(ctx, shopConfigEtagKey)

	cfg, newEtag, notModified, err := s.fetcher.FetchConfig(ctx, etag)
	if err != nil {
		// Serve a stale copy over a hard failure if one is still around.
		if cached, ok := s.cached(ctx); ok {
			s.logger.System().Warn("Shop config revalidation failed, serving stale copy", "error", err.Error())
			return cached, nil
		}
		return nil, err
	}

	if notModified {
		_ = s.sessionCache.SetWithTTL(ctx, shopConfigFreshKey, "1", s.cacheTTL)
		if cached, ok := s.cached(ctx); ok {
			return cached, nil
		}
		// The body fell out of cache while the ETag survived; refetch clean.
		cfg, newEtag, _, err = s.fetcher.FetchConfig(ctx, "")
		if err != nil {
			return nil, err
		}
	}

	if encoded, err := json.Marshal(cfg); err == nil {
		_ = s.sessionCache.Set(ctx, shopConfigDataKey, string(encoded))
	}
	if newEtag != "" {
		_ = s.sessionCache.Set(ctx, shopConfigEtagKey, newEtag)
	}
	_ = s.sessionCache.SetWithTTL(ctx, shopConfigFreshKey, "1", s.cacheTTL)

	return cfg, nil
}

func (s *ConfigService) cached(ctx context.Context) (backend.ShopConfig, bool) {
	raw, found, _ := s.sessionCache.Get(ctx, shopConfigDataKey)
	if !found {
		return nil, false
	}
	var cfg backend.ShopConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, false
	}
	return cfg, true
}
