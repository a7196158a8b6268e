// Package lifecycle assembles the scheduler's components and runs them
// between startup and a graceful shutdown.
//
// Start takes ownership of the job file, loads it and re-arms every job.
// Shutdown disarms every trigger and writes a final snapshot before stopping
// the dispatch workers and giving up ownership, so nothing fires after the
// snapshot is taken.
package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/circuitbreaker"
	"github.com/djlord-it/cronhook/internal/cron"
	"github.com/djlord-it/cronhook/internal/dispatcher"
	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/leaderelection"
	"github.com/djlord-it/cronhook/internal/logging"
	"github.com/djlord-it/cronhook/internal/metrics"
	"github.com/djlord-it/cronhook/internal/reconciler"
	"github.com/djlord-it/cronhook/internal/registry"
	"github.com/djlord-it/cronhook/internal/scheduler"
	"github.com/djlord-it/cronhook/internal/store/file"
	"github.com/djlord-it/cronhook/internal/transport/channel"
)

type Config struct {
	StorePath  string
	WatchStore bool
	Timezone   string

	// LockWait makes Start wait as a standby while another process owns the
	// job file instead of failing.
	LockWait          bool
	LockRetryInterval time.Duration

	Dispatcher          dispatcher.Config
	EventBusBufferSize  int
	EventBusEmitTimeout time.Duration
	HistorySize         int
	FlushInterval       time.Duration

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// StartReport summarizes what Start recovered from the job file.
type StartReport struct {
	Loaded  int
	Armed   int
	Corrupt bool
}

type Manager struct {
	config    Config
	root      *zap.Logger
	log       *zap.SugaredLogger
	metrics   metrics.Sink
	analytics dispatcher.AnalyticsSink
	parser    scheduler.CronParser
	sender    dispatcher.WebhookSender

	elector    *leaderelection.Elector
	store      *file.Store
	bus        *channel.EventBus
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	history    *dispatcher.History
	reconciler *reconciler.Reconciler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(config Config, root *zap.Logger) *Manager {
	if root == nil {
		root = zap.NewNop()
	}
	return &Manager{
		config:  config,
		root:    root,
		log:     logging.Named(root, "lifecycle"),
		metrics: metrics.NewNoopSink(),
		parser:  cronParserAdapter{parser: cron.NewParser()},
		sender:  dispatcher.NewHTTPWebhookSender(),
	}
}

func (m *Manager) WithMetrics(sink metrics.Sink) *Manager {
	if sink != nil {
		m.metrics = sink
	}
	return m
}

// WithAnalytics records every dispatch outcome to sink as well.
func (m *Manager) WithAnalytics(sink dispatcher.AnalyticsSink) *Manager {
	m.analytics = sink
	return m
}

// WithCronParser replaces the recurrence parser, letting tests run
// sub-second schedules.
func (m *Manager) WithCronParser(p scheduler.CronParser) *Manager {
	m.parser = p
	return m
}

// WithSender replaces the outbound HTTP sender.
func (m *Manager) WithSender(s dispatcher.WebhookSender) *Manager {
	m.sender = s
	return m
}

// Start loads persisted jobs, arms them, and starts the background workers.
// A corrupt or unreadable job file is not fatal: whatever could be read is
// armed and the registry stays dirty until a snapshot lands. Start may only be called once.
func (m *Manager) Start(ctx context.Context) (StartReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return StartReport{}, errors.New("lifecycle: already started")
	}

	if err := m.acquire(ctx); err != nil {
		return StartReport{}, err
	}
	m.build()

	var report StartReport
	jobs, err := m.store.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrStoreCorrupt):
		report.Corrupt = true
		m.log.Errorw("job file is corrupt; continuing with readable jobs",
			logging.FieldPath, m.store.Path(),
			logging.FieldCount, len(jobs),
			logging.FieldError, err,
			"detail", errors.GetAllDetails(err))
	default:
		_ = m.elector.Release()
		return StartReport{}, errors.Wrap(err, "load jobs")
	}

	report.Loaded = len(jobs)
	report.Armed = m.registry.Restore(jobs)
	if report.Corrupt {
		m.registry.MarkDirty()
	}
	if m.registry.Dirty() {
		// Persist the pruned set now rather than waiting for the first tick.
		_ = m.registry.Flush(ctx)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	m.spawn(func() { m.dispatcher.Run(runCtx, m.bus.Channel()) })
	m.spawn(func() { m.reconciler.Run(runCtx) })
	if m.config.WatchStore {
		m.startWatcher(runCtx)
	}

	m.started = true
	m.log.Infow("started",
		"loaded", report.Loaded,
		"armed", report.Armed,
		logging.FieldPath, m.store.Path())
	return report, nil
}

// acquire takes ownership of the job file, creating its directory first so
// the lock file has somewhere to live.
func (m *Manager) acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.config.StorePath), 0o755); err != nil {
		return errors.Wrap(err, "create store directory")
	}
	m.elector = leaderelection.New(m.config.StorePath, m.config.LockRetryInterval).
		WithLogger(logging.Named(m.root, "leader"))
	if m.config.LockWait {
		return m.elector.Acquire(ctx)
	}
	return m.elector.TryAcquire()
}

func (m *Manager) build() {
	cfg := m.config

	m.store = file.New(cfg.StorePath, logging.Named(m.root, "store"))

	m.bus = channel.NewEventBus(cfg.EventBusBufferSize,
		channel.WithEmitTimeout(cfg.EventBusEmitTimeout),
		channel.WithMetrics(m.metrics))

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Timezone}, m.parser, m.bus).
		WithLogger(logging.Named(m.root, "scheduler")).
		WithMetrics(m.metrics)

	m.registry = registry.New(m.store, engineArmer{sched: sched}, cron.Validate).
		WithLogger(logging.Named(m.root, "registry")).
		WithMetrics(m.metrics)

	m.history = dispatcher.NewHistory(cfg.HistorySize)
	m.dispatcher = dispatcher.New(cfg.Dispatcher, m.registry, m.sender).
		WithLogger(logging.Named(m.root, "dispatcher")).
		WithHistory(m.history).
		WithMetrics(m.metrics)
	if m.analytics != nil {
		m.dispatcher.WithAnalytics(m.analytics)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		m.dispatcher.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	m.reconciler = reconciler.New(reconciler.Config{Interval: cfg.FlushInterval}, m.registry).
		WithLogger(logging.Named(m.root, "reconciler"))
}

func (m *Manager) startWatcher(ctx context.Context) {
	w, err := file.NewWatcher(m.store, logging.Named(m.root, "store"))
	if err != nil {
		m.log.Warnw("job file watcher disabled", logging.FieldError, err)
		return
	}
	w.OnExternalChange(func() {
		m.metrics.StoreExternalEdit()
		m.registry.MarkDirty()
		m.reconciler.Nudge()
	})
	m.spawn(func() { w.Run(ctx) })
}

func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Shutdown disarms every job, writes the final snapshot, then stops the
// workers. In-flight outbound calls are aborted rather than awaited. The
// snapshot error, if any, is returned; later calls return the same result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if !started {
			return
		}

		m.log.Infow("shutting down", logging.FieldCount, m.registry.Count())
		if err := m.registry.Shutdown(ctx); err != nil {
			m.shutdownErr = errors.Wrap(err, "final snapshot")
		}

		m.cancel()
		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			m.log.Infow("shutdown complete")
		case <-ctx.Done():
			m.log.Warnw("shutdown timed out waiting for workers", logging.FieldError, ctx.Err())
			if m.shutdownErr == nil {
				m.shutdownErr = ctx.Err()
			}
		}

		if err := m.elector.Release(); err != nil {
			m.log.Warnw("failed to release job file lock", logging.FieldError, err)
		}
	})
	return m.shutdownErr
}

// Registry is the live job set. Valid after Start.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// History holds recent dispatch outcomes. Valid after Start.
func (m *Manager) History() *dispatcher.History {
	return m.history
}

// StorePath is the job file in use.
func (m *Manager) StorePath() string {
	return m.config.StorePath
}

// cronParserAdapter narrows cron.Parser to the scheduler's interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a cronParserAdapter) Parse(expression, timezone string) (scheduler.CronSchedule, error) {
	s, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// engineArmer hands the registry a Handle per armed job.
type engineArmer struct {
	sched *scheduler.Scheduler
}

func (a engineArmer) Arm(job domain.Job) (registry.Handle, error) {
	e, err := a.sched.Arm(job)
	if err != nil {
		return nil, err
	}
	return e, nil
}
