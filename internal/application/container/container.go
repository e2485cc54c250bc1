// Package container provides dependency injection for all singleton services
package container

import (
	"time"

	"github.com/ShopCurated/curator-go/internal/application/services"
	"github.com/ShopCurated/curator-go/internal/infrastructure/backend"
	"github.com/ShopCurated/curator-go/internal/infrastructure/caching"
	"github.com/ShopCurated/curator-go/internal/infrastructure/messaging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/metrics"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
	"github.com/ShopCurated/curator-go/internal/infrastructure/scheduling"
	"github.com/ShopCurated/curator-go/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Application services
	VisitorService      *services.VisitorService
	TelemetryService    *services.TelemetryService
	ExperimentService   *services.ExperimentService
	ConfigService       *services.ConfigService
	WidgetStateService  *services.WidgetStateService
	OrchestratorService *services.OrchestratorService

	// Infrastructure
	Backend        *backend.Client
	Persistent     kv.Store
	SessionCache   *kv.MemoryStore
	SubmissionLock *caching.SubmissionLock
	Broadcaster    *messaging.StateBroadcaster
	Pruner         *kv.Pruner
	Clock          scheduling.Clock
	Logger         *logging.ChanneledLogger
	Metrics        *metrics.Registry
	PromRegistry   *prometheus.Registry
}

// NewContainer creates and wires all singleton services. The persistent
// store is handed in because its lifecycle (database handle, migrations)
// belongs to main.
func NewContainer(persistent kv.Store, logger *logging.ChanneledLogger) *Container {
	clock := scheduling.NewClock()
	promRegistry := prometheus.NewRegistry()
	m := metrics.NewRegistry(promRegistry)

	client := backend.NewClient(backend.ClientConfig{
		BaseURL:       config.BackendBaseURL,
		APIKey:        config.BackendAPIKey,
		StartTimeout:  config.StartSessionTimeout,
		StatusTimeout: config.StatusRequestTimeout,
		FetchTimeout:  config.FetchRequestTimeout,
	}, logger)

	sessionCache := kv.NewMemoryStore(clock)
	lock := caching.NewSubmissionLock()
	broadcaster := messaging.NewStateBroadcaster(logger)

	telemetry := services.NewTelemetryService(client, persistent, clock, config.TelemetryTimeout, logger, m)
	widgetState := services.NewWidgetStateService(sessionCache, config.SessionCacheTTL)

	orchestrator := services.NewOrchestratorService(
		client, lock, widgetState, broadcaster, telemetry, clock,
		services.OrchestratorConfig{
			ResumeDelays:       config.ResumeDelays,
			PollFastInterval:   config.PollFastInterval,
			PollFastWindow:     config.PollFastWindow,
			PollMediumInterval: config.PollMediumInterval,
			PollMediumWindow:   config.PollMediumWindow,
			PollJitterMin:      config.PollJitterMin,
			PollJitterMax:      config.PollJitterMax,
			PollMaxElapsed:     config.PollMaxElapsed,
			WorkflowRetention:  config.WorkflowRetention,
			ResultsPath:        config.ResultsPath,
		},
		logger, m,
	)

	retention := time.Duration(config.ExposureRetentionDays) * 24 * time.Hour
	pruner := kv.NewPruner(persistent, sessionCache, retention, config.PruneSchedule, logger, m)

	return &Container{
		VisitorService:      services.NewVisitorService(persistent, clock, logger),
		TelemetryService:    telemetry,
		ExperimentService:   services.NewExperimentService(client, sessionCache, telemetry, config.ExperimentCacheTTL, config.ExperimentOverrideParam, logger),
		ConfigService:       services.NewConfigService(client, sessionCache, config.ShopConfigCacheTTL, logger),
		WidgetStateService:  widgetState,
		OrchestratorService: orchestrator,

		Backend:        client,
		Persistent:     persistent,
		SessionCache:   sessionCache,
		SubmissionLock: lock,
		Broadcaster:    broadcaster,
		Pruner:         pruner,
		Clock:          clock,
		Logger:         logger,
		Metrics:        m,
		PromRegistry:   promRegistry,
	}
}

// Shutdown stops background work and waits for in-flight telemetry.
func (c *Container) Shutdown() {
	c.OrchestratorService.Shutdown()
	c.Pruner.Stop()
	c.TelemetryService.Flush()
}
