package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ShopCurated/curator-go/internal/domain/experiments"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
)

const experimentCacheKey = "experiments:definitions"

// ExperimentFetcher loads experiment definitions from the backend.
type ExperimentFetcher interface {
	FetchExperiments(ctx context.Context) ([]experiments.Definition, error)
}

// ExperimentService owns experiment definitions and visitor assignments.
// Definitions are cached in the session scope with a freshness TTL; if they
// cannot be fetched the service degrades to "no experiments" and every
// experiment-dependent behavior falls back to its default.
type ExperimentService struct {
	fetcher       ExperimentFetcher
	sessionCache  *kv.MemoryStore
	telemetry     *TelemetryService
	cacheTTL      time.Duration
	overrideParam string
	logger        *logging.ChanneledLogger
}

// NewExperimentService creates a new experiment service.
func NewExperimentService(fetcher ExperimentFetcher, sessionCache *kv.MemoryStore, telemetry *TelemetryService, cacheTTL time.Duration, overrideParam string, logger *logging.ChanneledLogger) *ExperimentService {
	return &ExperimentService{
		fetcher:       fetcher,
		sessionCache:  sessionCache,
		telemetry:     telemetry,
		cacheTTL:      cacheTTL,
		overrideParam: overrideParam,
		logger:        logger,
	}
}

// Definitions returns the current experiment definitions, from cache when
// fresh. A fetch failure is not an error to callers: it returns nil.
func (s *ExperimentService) Definitions(ctx context.Context) []experiments.Definition {
	if raw, found, _ := s.sessionCache.Get(ctx, experimentCacheKey); found {
		var defs []experiments.Definition
		if err := json.Unmarshal([]byte(raw), &defs); err == nil {
			return defs
		}
		s.logger.Experiments().Debug("Discarding unreadable experiment cache entry")
	}

	defs, err := s.fetcher.FetchExperiments(ctx)
	if err != nil {
		s.logger.Experiments().Warn("Experiment fetch failed, degrading to no experiments", "error", err.Error())
		return nil
	}

	if encoded, err := json.Marshal(defs); err == nil {
		_ = s.sessionCache.SetWithTTL(ctx, experimentCacheKey, string(encoded), s.cacheTTL)
	}

	s.logger.Experiments().Info("Experiment definitions refreshed", "count", len(defs))
	return defs
}

// AssignmentsForView computes the assignment set for one page view and
// records an exposure for each assignment. The dedupe layer decides whether
// an exposure actually goes out on the wire.
func (s *ExperimentService) AssignmentsForView(ctx context.Context, visitorID, pageURL string) experiments.AssignmentSet {
	set := s.assign(ctx, visitorID, pageURL)
	for _, a := range set {
		s.telemetry.EmitExposure(visitorID, a.ExperimentKey, a.VariantName, a.Forced)
	}
	return set
}

// Assignments computes the assignment set without recording exposures. Used
// when a workflow needs variant parameters after the view already reported
// its exposures.
func (s *ExperimentService) Assignments(ctx context.Context, visitorID string) experiments.AssignmentSet {
	return s.assign(ctx, visitorID, "")
}

func (s *ExperimentService) assign(ctx context.Context, visitorID, pageURL string) experiments.AssignmentSet {
	defs := s.Definitions(ctx)
	if len(defs) == 0 {
		return experiments.AssignmentSet{}
	}

	var override *experiments.Override
	if pageURL != "" {
		if ov, ok := experiments.ParseOverride(pageURL, s.overrideParam); ok {
			override = &ov
		}
	}

	return experiments.Assign(visitorID, defs, override)
}

// ResultsCountFromAssignments reads the variant-controlled results count out
// of an assignment set, falling back to defaultCount.
func ResultsCountFromAssignments(set experiments.AssignmentSet, defaultCount int) int {
	for _, a := range set {
		v, ok := a.Config["resultsCount"]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return defaultCount
}
