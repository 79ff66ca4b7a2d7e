package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// AutoscalerConfig bounds and thresholds for pool resizing.
type AutoscalerConfig struct {
	MinWorkers      int
	MaxWorkers      int
	Cooldown        time.Duration
	UpQueue         int
	UpUtilization   float64
	DownUtilization float64
}

// Autoscaler resizes the pool one worker at a time from queue depth and
// utilization, once per cooldown period.
type Autoscaler struct {
	pool   *Pool
	cfg    AutoscalerConfig
	logger zerolog.Logger
}

// NewAutoscaler wires an autoscaler to its pool.
func NewAutoscaler(pool *Pool, cfg AutoscalerConfig, logger zerolog.Logger) *Autoscaler {
	return &Autoscaler{
		pool:   pool,
		cfg:    cfg,
		logger: logger.With().Str("component", "autoscaler").Logger(),
	}
}

// Run evaluates the pool every cooldown period until ctx is cancelled.
func (a *Autoscaler) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Cooldown)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Evaluate()
		}
	}
}

// Evaluate applies one scaling decision and returns the new worker target.
func (a *Autoscaler) Evaluate() int {
	snap := a.pool.Snapshot()
	target := a.Decide(snap)
	if target != snap.Workers {
		a.logger.Info().
			Int("workers", snap.Workers).
			Int("target", target).
			Int("queued", snap.Queued).
			Int("inflight", snap.Inflight).
			Msg("resizing worker pool")
		a.pool.Resize(target)
	}
	return target
}

// Decide computes the worker target for a pool snapshot.
func (a *Autoscaler) Decide(snap Snapshot) int {
	workers := snap.Workers
	if workers < 1 {
		workers = 1
	}
	utilization := float64(snap.Inflight) / float64(workers)

	switch {
	case snap.Queued >= a.cfg.UpQueue &&
		utilization >= a.cfg.UpUtilization &&
		snap.Workers < a.cfg.MaxWorkers:
		return snap.Workers + 1
	case snap.Queued == 0 &&
		utilization <= a.cfg.DownUtilization &&
		snap.Workers > a.cfg.MinWorkers:
		return snap.Workers - 1
	default:
		return snap.Workers
	}
}
