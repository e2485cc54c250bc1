package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/backend"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/metrics"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
	"github.com/ShopCurated/curator-go/internal/infrastructure/scheduling"
)

// EventSink delivers telemetry events upstream.
type EventSink interface {
	EmitEvent(ctx context.Context, event backend.Event) error
}

// TelemetryService emits best-effort telemetry. Exposure events are deduped
// once per visitor/experiment/variant/calendar-day via the persistent store;
// delivery runs on a detached goroutine and is never confirmed, so the
// dedupe record is written optimistically after the attempt. The
// read-then-write pair is not atomic: the worst case is one duplicate
// emission, which the analysis side tolerates.
type TelemetryService struct {
	sink       EventSink
	persistent kv.Store
	clock      scheduling.Clock
	timeout    time.Duration
	logger     *logging.ChanneledLogger
	metrics    *metrics.Registry
	wg         sync.WaitGroup
}

// NewTelemetryService creates a new telemetry service.
func NewTelemetryService(sink EventSink, persistent kv.Store, clock scheduling.Clock, timeout time.Duration, logger *logging.ChanneledLogger, m *metrics.Registry) *TelemetryService {
	return &TelemetryService{
		sink:       sink,
		persistent: persistent,
		clock:      clock,
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
	}
}

// EmitExposure records that a visitor was shown a variant. It never blocks
// on the network and never returns an error to the caller.
func (s *TelemetryService) EmitExposure(visitorID, experimentKey, variantName string, forced bool) {
	day := s.clock.Now().UTC().Format("2006-01-02")
	dedupeKey := kv.ExposureKey(visitorID, experimentKey, variantName, day)

	if !forced {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		_, found, err := s.persistent.Get(ctx, dedupeKey)
		cancel()
		if err != nil {
			s.logger.Telemetry().Debug("Exposure dedupe lookup failed", "error", err.Error())
		}
		if found {
			s.metrics.ExposuresDeduped.Inc()
			return
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.sink.EmitEvent(sendCtx, backend.Event{
			Type: "experiment_exposure",
			Metadata: map[string]any{
				"visitorId":     visitorID,
				"experimentKey": experimentKey,
				"variantName":   variantName,
				"forced":        forced,
				"day":           day,
			},
		})
		cancel()
		if err != nil {
			s.logger.Telemetry().Debug("Exposure delivery failed", "experimentKey", experimentKey, "error", err.Error())
		}
		s.metrics.ExposuresEmitted.WithLabelValues(strconv.FormatBool(forced)).Inc()

		writeCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.persistent.Set(writeCtx, dedupeKey, day); err != nil {
			s.logger.Telemetry().Debug("Exposure dedupe write failed", "error", err.Error())
		}
		cancel()
	}()
}

// EmitWidgetEvent delivers a generic widget lifecycle event, fire-and-forget.
func (s *TelemetryService) EmitWidgetEvent(eventType, sessionID string, metadata map[string]any) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.sink.EmitEvent(ctx, backend.Event{Type: eventType, SessionID: sessionID, Metadata: metadata}); err != nil {
			s.logger.Telemetry().Debug("Widget event delivery failed", "type", eventType, "error", err.Error())
		}
	}()
}

// Flush waits for in-flight deliveries. Used on shutdown and in tests.
func (s *TelemetryService) Flush() {
	s.wg.Wait()
}
