package kv

import (
	"context"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/metrics"
	"github.com/robfig/cron/v3"
)

// Pruner ages out exposure dedupe records on a cron schedule. Dedupe keys
// accumulate one per visitor/experiment/variant/day, so without retention the
// persistent scope grows without bound.
type Pruner struct {
	persistent Store
	session    *MemoryStore
	retention  time.Duration
	schedule   string
	logger     *logging.ChanneledLogger
	metrics    *metrics.Registry
	cron       *cron.Cron
}

// NewPruner creates a pruner that keeps exposure records for retention and
// sweeps expired session-scope entries on the same schedule.
func NewPruner(persistent Store, session *MemoryStore, retention time.Duration, schedule string, logger *logging.ChanneledLogger, m *metrics.Registry) *Pruner {
	return &Pruner{
		persistent: persistent,
		session:    session,
		retention:  retention,
		schedule:   schedule,
		logger:     logger,
		metrics:    m,
	}
}

// Start registers the cron entry and begins scheduling.
func (p *Pruner) Start() error {
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(p.schedule, p.RunOnce); err != nil {
		return err
	}
	p.cron.Start()
	p.logger.Storage().Info("Retention pruner started", "schedule", p.schedule, "retention", p.retention)
	return nil
}

// Stop halts scheduling. A run already in flight finishes.
func (p *Pruner) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

// RunOnce performs a single retention pass.
func (p *Pruner) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-p.retention)
	removed, err := p.persistent.DeleteOlderThan(ctx, ExposureKeyPrefix, cutoff)
	if err != nil {
		p.logger.Storage().Error("Exposure retention prune failed", "error", err.Error())
	} else if removed > 0 {
		p.metrics.ExposuresPruned.Add(float64(removed))
		p.logger.Storage().Info("Pruned exposure dedupe records", "removed", removed, "cutoff", cutoff)
	}

	if p.session != nil {
		if swept := p.session.Sweep(); swept > 0 {
			p.logger.Storage().Debug("Swept expired session-scope entries", "removed", swept)
		}
	}
}
