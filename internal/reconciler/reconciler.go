// Package reconciler brings the job file back in line with the registry.
//
// The file drifts from memory when a save fails (disk full, permissions) or
// when someone edits it by hand while the service runs. The registry stays
// authoritative: the reconciler periodically rewrites the file whenever the
// registry reports itself dirty, and can be nudged to do so immediately.
package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/logging"
)

// Registry is the subset of the job registry the reconciler drives.
type Registry interface {
	Dirty() bool
	Flush(ctx context.Context) error
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler checks for drift.
	// Default: 30 seconds.
	Interval time.Duration
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

type Reconciler struct {
	config   Config
	registry Registry
	log      *zap.SugaredLogger
	nudge    chan struct{}
}

func New(config Config, registry Registry) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Reconciler{
		config:   config,
		registry: registry,
		log:      logging.Nop(),
		nudge:    make(chan struct{}, 1),
	}
}

func (r *Reconciler) WithLogger(log *zap.SugaredLogger) *Reconciler {
	r.log = log
	return r
}

// Nudge asks for a cycle as soon as possible. Never blocks; nudges that
// arrive while one is pending are merged.
func (r *Reconciler) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.log.Infow("reconciler started", "interval", r.config.Interval)

	for {
		select {
		case <-ctx.Done():
			r.log.Infow("reconciler stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		case <-r.nudge:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	if !r.registry.Dirty() {
		return
	}
	if err := r.registry.Flush(ctx); err != nil {
		// Save failure is already logged by the registry; retry next interval.
		r.log.Warnw("job file still out of date", logging.FieldError, err)
		return
	}
	r.log.Infow("job file rewritten from registry")
}
