// Package scheduler drives periodic reconciliation cycles.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jstrand/bookmark-sync/internal/bookmark"
	"github.com/jstrand/bookmark-sync/internal/metrics"
	syncsvc "github.com/jstrand/bookmark-sync/internal/sync"
)

// Syncer runs one reconciliation cycle.
type Syncer interface {
	SyncBookmarks(ctx context.Context, opts syncsvc.Options) bookmark.SyncResult
}

// Config tunes cycle cadence.
type Config struct {
	// Interval separates incremental cycles.
	Interval time.Duration
	// RefreshInterval separates forced full-refresh cycles, which
	// rewrite every remote-linked record regardless of the
	// update-worthiness check.
	RefreshInterval time.Duration
	// Limit caps the remote fetch of a scheduled incremental cycle.
	Limit int
	// EnrichMetadata toggles page enrichment on scheduled cycles.
	EnrichMetadata bool
}

// Scheduler runs incremental syncs on a ticker, with a slower forced
// refresh cadence layered on top. A manual trigger channel lets other
// components request an immediate cycle without waiting for the tick.
type Scheduler struct {
	syncer        Syncer
	cfg           Config
	logger        *zap.Logger
	stopCh        chan struct{}
	manualTrigger chan struct{}

	lastRefresh time.Time
}

// New creates a Scheduler.
func New(syncer Syncer, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 24 * time.Hour
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	metrics.Init()
	return &Scheduler{
		syncer:        syncer,
		cfg:           cfg,
		logger:        logger.Named("scheduler"),
		stopCh:        make(chan struct{}),
		manualTrigger: make(chan struct{}, 1),
	}
}

// Start runs an immediate cycle and then begins the periodic loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.runCycle(ctx, false)

	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runCycle(ctx, s.refreshDue())
			case <-s.manualTrigger:
				s.logger.Info("manual sync triggered")
				s.runCycle(ctx, false)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic loop. A cycle already in flight finishes.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Trigger requests an immediate cycle. It never blocks; a trigger while
// one is already pending is coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.manualTrigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) refreshDue() bool {
	return time.Since(s.lastRefresh) >= s.cfg.RefreshInterval
}

func (s *Scheduler) runCycle(ctx context.Context, forceRefresh bool) {
	opts := syncsvc.Options{
		Limit:          s.cfg.Limit,
		ForceRefresh:   forceRefresh,
		EnrichMetadata: s.cfg.EnrichMetadata,
	}

	start := time.Now()
	result := s.syncer.SyncBookmarks(ctx, opts)
	metrics.ObserveSyncCycle(result.Success, result.Created, result.Updated, result.Errors, time.Since(start))

	if forceRefresh {
		s.lastRefresh = time.Now()
	}
	if !result.Success {
		s.logger.Warn("scheduled sync cycle failed",
			zap.Int("errors", result.Errors),
			zap.Strings("messages", result.ErrorMessages),
		)
		return
	}
	s.logger.Info("scheduled sync cycle finished",
		zap.Bool("force_refresh", forceRefresh),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
	)
}
