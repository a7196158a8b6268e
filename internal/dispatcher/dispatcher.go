// Package dispatcher performs the outbound call for each firing. Every
// firing gets at most one attempt; failures are recorded and never reach
// the trigger engine.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/logging"
	"github.com/djlord-it/cronhook/internal/metrics"
)

// ArmedChecker reports whether a job still has a live trigger.
type ArmedChecker interface {
	IsArmed(jobID uuid.UUID) bool
}

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

// AnalyticsSink receives every recorded outcome. Best effort.
type AnalyticsSink interface {
	Record(ctx context.Context, outcome domain.Outcome)
}

// OutcomeRecorder keeps recent outcomes for inspection.
type OutcomeRecorder interface {
	Record(outcome domain.Outcome)
}

// CircuitBreaker short-circuits calls to urls that keep failing.
type CircuitBreaker interface {
	Allow(url string) error
	RecordSuccess(url string)
	RecordFailure(url string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DispatchAttemptCompleted(statusClass string, duration time.Duration)
	DispatchOutcome(outcome string)
	FiringsInFlightIncr()
	FiringsInFlightDecr()
}

type WebhookRequest struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	Body        []byte
	JobID       string
	FiringID    string
	ScheduledAt time.Time
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type Config struct {
	// Timeout bounds each outbound call.
	Timeout time.Duration
	// Secret signs request bodies when non-empty.
	Secret string
	// Workers is the number of concurrent dispatch goroutines.
	Workers int
}

type Dispatcher struct {
	config    Config
	armed     ArmedChecker
	sender    WebhookSender
	log       *zap.SugaredLogger
	analytics AnalyticsSink   // optional, nil = disabled
	history   OutcomeRecorder // optional, nil = disabled
	breaker   CircuitBreaker  // optional, nil = disabled
	metrics   MetricsSink     // optional, nil = disabled
}

func New(config Config, armed ArmedChecker, sender WebhookSender) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Dispatcher{
		config: config,
		armed:  armed,
		sender: sender,
		log:    logging.Nop(),
	}
}

func (d *Dispatcher) WithLogger(log *zap.SugaredLogger) *Dispatcher {
	d.log = log
	return d
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

func (d *Dispatcher) WithHistory(h OutcomeRecorder) *Dispatcher {
	d.history = h
	return d
}

func (d *Dispatcher) WithCircuitBreaker(cb CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Run starts the worker pool and blocks until ctx is cancelled. Queued
// firings are abandoned on cancellation and in-flight calls are aborted
// through ctx.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.Firing) {
	d.log.Infow("dispatcher started", "workers", d.config.Workers, "timeout", d.config.Timeout)

	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, ch)
		}()
	}
	wg.Wait()

	d.log.Infow("dispatcher stopped", "abandoned", len(ch))
}

func (d *Dispatcher) work(ctx context.Context, ch <-chan domain.Firing) {
	for {
		select {
		case <-ctx.Done():
			return
		case firing, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			d.Dispatch(ctx, firing)
		}
	}
}

// Dispatch handles one firing and returns what happened.
func (d *Dispatcher) Dispatch(ctx context.Context, firing domain.Firing) domain.Outcome {
	if d.metrics != nil {
		d.metrics.FiringsInFlightIncr()
		defer d.metrics.FiringsInFlightDecr()
	}

	out := domain.Outcome{
		FiringID:    firing.FiringID,
		JobID:       firing.JobID,
		ScheduledAt: firing.ScheduledAt,
		FiredAt:     firing.FiredAt,
	}
	log := d.log.With(logging.FieldJobID, firing.JobID, logging.FieldFiringID, firing.FiringID)

	if !d.armed.IsArmed(firing.JobID) {
		// Deleted or shutting down after the firing was queued.
		out.Status = domain.OutcomeSkipped
		out.Error = "job no longer armed"
		log.Debugw("dropping firing for disarmed job")
		d.countOutcome(out.Status)
		return out
	}

	if !firing.Payload.HasTarget() {
		out.Status = domain.OutcomeNoop
		log.Infow("job fired without payload", logging.FieldJobName, firing.JobName)
		d.record(ctx, out)
		return out
	}

	d.send(ctx, firing, &out, log)
	d.record(ctx, out)
	return out
}

func (d *Dispatcher) send(ctx context.Context, firing domain.Firing, out *domain.Outcome, log *zap.SugaredLogger) {
	url := firing.Payload.URL

	if d.breaker != nil {
		if err := d.breaker.Allow(url); err != nil {
			out.Status = domain.OutcomeSkipped
			out.Error = err.Error()
			log.Warnw("dispatch skipped", logging.FieldURL, url, logging.FieldError, err)
			return
		}
	}

	req := WebhookRequest{
		URL:         url,
		Secret:      d.config.Secret,
		Timeout:     d.config.Timeout,
		Body:        firing.Payload.Body,
		JobID:       firing.JobID.String(),
		FiringID:    firing.FiringID.String(),
		ScheduledAt: firing.ScheduledAt,
	}

	result := d.sender.Send(ctx, req)
	out.StatusCode = result.StatusCode
	out.Duration = result.Duration

	if d.metrics != nil {
		d.metrics.DispatchAttemptCompleted(metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
	}

	if result.IsSuccess() {
		out.Status = domain.OutcomeSuccess
		if d.breaker != nil {
			d.breaker.RecordSuccess(url)
		}
		log.Infow("dispatch succeeded",
			logging.FieldStatusCode, result.StatusCode,
			logging.FieldDurationMS, result.Duration.Milliseconds())
		return
	}

	err := result.Error
	if err == nil {
		err = errors.Newf("status %d", result.StatusCode)
	}
	err = errors.Mark(err, errors.ErrDispatchFailure)
	out.Status = domain.OutcomeFailed
	out.Error = err.Error()
	if d.breaker != nil {
		d.breaker.RecordFailure(url)
	}
	log.Warnw("dispatch failed",
		logging.FieldURL, url,
		logging.FieldStatusCode, result.StatusCode,
		logging.FieldDurationMS, result.Duration.Milliseconds(),
		logging.FieldError, err)
}

// record fans an outcome out to history, analytics and metrics. None of
// these can fail the dispatch.
func (d *Dispatcher) record(ctx context.Context, out domain.Outcome) {
	d.countOutcome(out.Status)
	if d.history != nil {
		d.history.Record(out)
	}
	if d.analytics != nil {
		d.analytics.Record(context.WithoutCancel(ctx), out)
	}
}

func (d *Dispatcher) countOutcome(status domain.OutcomeStatus) {
	if d.metrics != nil {
		d.metrics.DispatchOutcome(string(status))
	}
}
