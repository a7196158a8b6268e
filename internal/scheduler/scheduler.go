// Package scheduler runs one trigger engine per armed job. Each engine owns a
// goroutine and a timer: it sleeps until the job's next scheduled instant,
// hands a firing to the emitter, and computes the following instant without
// waiting for the dispatch to finish.
//
// Occurrences that fall while the process is down, or while an engine is
// late waking up, are not fired retroactively.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/logging"
)

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	// Next returns the first instant strictly after the given time, or the
	// zero time if there is none.
	Next(after time.Time) time.Time
}

type EventEmitter interface {
	Emit(ctx context.Context, firing domain.Firing) error
}

// MetricsSink records scheduler metrics. Implementations must not block.
type MetricsSink interface {
	EngineArmed()
	EngineDisarmed()
	FiringEmitted(lag time.Duration)
	FiringDropped()
}

type Config struct {
	// Timezone is the IANA zone schedules are evaluated in. Empty means UTC.
	Timezone string
}

type Scheduler struct {
	config  Config
	parser  CronParser
	emitter EventEmitter
	clock   func() time.Time
	log     *zap.SugaredLogger
	metrics MetricsSink
}

func New(config Config, parser CronParser, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		config:  config,
		parser:  parser,
		emitter: emitter,
		clock:   time.Now,
		log:     logging.Nop(),
	}
}

func (s *Scheduler) WithLogger(log *zap.SugaredLogger) *Scheduler {
	s.log = log
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Arm parses the job's schedule and starts its engine. The engine runs until
// Stop is called.
func (s *Scheduler) Arm(job domain.Job) (*Engine, error) {
	sched, err := s.parser.Parse(job.Schedule, s.config.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "job %s", job.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		job:     job,
		sched:   sched,
		emitter: s.emitter,
		clock:   s.clock,
		log:     s.log.With(logging.FieldJobID, job.ID),
		metrics: s.metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// The first instant is computed before Arm returns so callers can report
	// it immediately.
	e.setNext(sched.Next(e.clock()))

	if e.metrics != nil {
		e.metrics.EngineArmed()
	}
	go e.run()
	return e, nil
}

// Engine is the live trigger for one job.
type Engine struct {
	job     domain.Job
	sched   CronSchedule
	emitter EventEmitter
	clock   func() time.Time
	log     *zap.SugaredLogger
	metrics MetricsSink

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	mu   sync.Mutex
	next time.Time
}

// Stop disarms the engine and waits for its goroutine to exit. A firing that
// is already being handed off completes; no firing starts afterwards. Safe
// to call from any state and more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		<-e.done
		e.setNext(time.Time{})
		if e.metrics != nil {
			e.metrics.EngineDisarmed()
		}
		e.log.Debugw("trigger disarmed")
	})
	<-e.done
}

// Next returns the instant the engine is waiting for, or zero if it is
// stopped or its schedule can never match.
func (e *Engine) Next() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// Done is closed once the engine's goroutine has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) setNext(t time.Time) {
	e.mu.Lock()
	e.next = t
	e.mu.Unlock()
}

func (e *Engine) run() {
	defer close(e.done)

	next := e.Next()
	for {
		if next.IsZero() {
			e.log.Warnw("schedule has no future occurrence; trigger parked", logging.FieldSchedule, e.job.Schedule)
			<-e.ctx.Done()
			return
		}

		timer := time.NewTimer(next.Sub(e.clock()))
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// Stop wins over a timer that fired at the same moment.
		if e.ctx.Err() != nil {
			return
		}

		e.fire(next, e.clock())

		// Resume from the later of the fired instant and now. Occurrences
		// missed during a slow hand-off are skipped.
		after := e.clock()
		if after.Before(next) {
			after = next
		}
		next = e.sched.Next(after)
		e.setNext(next)
	}
}

func (e *Engine) fire(scheduledAt, now time.Time) {
	firing := domain.Firing{
		FiringID:    uuid.New(),
		JobID:       e.job.ID,
		JobName:     e.job.Name,
		Payload:     e.job.Payload.Clone(),
		ScheduledAt: scheduledAt.UTC(),
		FiredAt:     now.UTC(),
	}

	if err := e.emitter.Emit(e.ctx, firing); err != nil {
		if e.ctx.Err() != nil {
			return
		}
		e.log.Warnw("firing dropped",
			logging.FieldFiringID, firing.FiringID,
			logging.FieldScheduledAt, firing.ScheduledAt,
			logging.FieldError, err)
		if e.metrics != nil {
			e.metrics.FiringDropped()
		}
		return
	}

	lag := now.Sub(scheduledAt)
	if e.metrics != nil {
		e.metrics.FiringEmitted(lag)
	}
	e.log.Debugw("firing emitted",
		logging.FieldFiringID, firing.FiringID,
		logging.FieldScheduledAt, firing.ScheduledAt,
		logging.FieldLagMS, lag.Milliseconds())
}
