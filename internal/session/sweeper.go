package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/amillerrr/vod-pipeline/internal/metrics"
)

// Sweeper periodically reclaims stale upload sessions and orphaned spool
// files. Sweeps are idempotent; overlapping manual and timed sweeps are safe.
type Sweeper struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(store *Store, maxAge, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		log:      log,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.log.Info("Cleanup sweeper started",
		"maxAge", sw.maxAge.String(),
		"interval", sw.interval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			sw.log.Info("Cleanup sweeper stopped")
			return
		case <-ticker.C:
			sw.SweepNow()
		}
	}
}

// SweepNow runs one sweep pass and returns the counts of stale sessions
// aborted and orphan files removed.
func (sw *Sweeper) SweepNow() (stale, orphans int) {
	swept := sw.store.SweepStale(sw.maxAge)
	stale = len(swept)
	orphans = sw.store.SweepOrphans(sw.maxAge)

	if stale > 0 {
		metrics.SessionsSwept.WithLabelValues("stale").Add(float64(stale))
	}
	if orphans > 0 {
		metrics.SessionsSwept.WithLabelValues("orphan").Add(float64(orphans))
	}
	if stale > 0 || orphans > 0 {
		sw.log.Info("Sweep pass completed",
			"staleSessions", stale,
			"orphanFiles", orphans,
		)
	}
	return stale, orphans
}
