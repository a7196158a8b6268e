// Package registry owns the set of live jobs. Every mutation arms or disarms
// the job's trigger and writes a full snapshot to the store while holding a
// single lock, so callers never see a job that is registered but not armed,
// or removed but still firing.
package registry

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/logging"
)

type Store interface {
	Save(ctx context.Context, jobs []domain.Job) error
}

// Handle is a running trigger for one job.
type Handle interface {
	// Stop disarms the trigger and waits for it to exit. Safe to call more
	// than once.
	Stop()
	// Next is the instant the trigger is currently waiting for; zero if none.
	Next() time.Time
}

type Armer interface {
	Arm(job domain.Job) (Handle, error)
}

// MetricsSink records registry metrics. Implementations must not block.
type MetricsSink interface {
	JobsRegistered(count int)
	StoreSaveCompleted(duration time.Duration, err error)
}

// CreateRequest is the caller-supplied part of a new job.
type CreateRequest struct {
	Name     string
	Schedule string
	Payload  *domain.Payload
}

type entry struct {
	job    domain.Job
	handle Handle
}

type Registry struct {
	store    Store
	armer    Armer
	validate func(expr string) error
	log      *zap.SugaredLogger
	metrics  MetricsSink
	clock    func() time.Time
	newID    func() uuid.UUID

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	order   []uuid.UUID
	closed  bool
	dirty   bool
}

// New returns an empty registry. validate checks schedule expressions before
// a job is admitted.
func New(store Store, armer Armer, validate func(expr string) error) *Registry {
	return &Registry{
		store:    store,
		armer:    armer,
		validate: validate,
		log:      logging.Nop(),
		clock:    time.Now,
		newID:    uuid.New,
		entries:  make(map[uuid.UUID]*entry),
	}
}

func (r *Registry) WithLogger(log *zap.SugaredLogger) *Registry {
	r.log = log
	return r
}

// WithMetrics attaches a metrics sink to the registry.
func (r *Registry) WithMetrics(sink MetricsSink) *Registry {
	r.metrics = sink
	return r
}

// Create validates req, arms a trigger for it, and persists the new job set.
// A failed save is logged and retried by Flush; the job is still created.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (domain.Job, error) {
	job, err := r.buildJob(req)
	if err != nil {
		return domain.Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.Job{}, errors.ErrShuttingDown
	}
	for r.entries[job.ID] != nil {
		job.ID = r.newID()
	}

	handle, err := r.armer.Arm(job.Clone())
	if err != nil {
		return domain.Job{}, errors.Wrapf(err, "arm job %s", job.ID)
	}

	r.entries[job.ID] = &entry{job: job, handle: handle}
	r.order = append(r.order, job.ID)
	r.log.Infow("job created",
		logging.FieldJobID, job.ID,
		logging.FieldJobName, job.Name,
		logging.FieldSchedule, job.Schedule,
		logging.FieldNextRun, handle.Next())

	r.saveLocked(ctx)
	r.reportCountLocked()
	return job.Clone(), nil
}

func (r *Registry) buildJob(req CreateRequest) (domain.Job, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Job{}, errors.Wrap(errors.ErrInvalidInput, "name is required")
	}
	schedule := strings.TrimSpace(req.Schedule)
	if schedule == "" {
		return domain.Job{}, errors.Wrap(errors.ErrInvalidInput, "schedule is required")
	}
	if err := r.validate(schedule); err != nil {
		if errors.Is(err, errors.ErrInvalidSchedule) {
			return domain.Job{}, err
		}
		return domain.Job{}, errors.Wrap(errors.Mark(err, errors.ErrInvalidSchedule), "invalid schedule")
	}

	payload := req.Payload.Clone()
	if payload != nil {
		if err := validatePayload(payload); err != nil {
			return domain.Job{}, err
		}
	}

	return domain.Job{
		ID:        r.newID(),
		Name:      name,
		Schedule:  schedule,
		Payload:   payload,
		CreatedAt: domain.NowUTC(r.clock()),
	}, nil
}

// validatePayload checks the url when one is given and compacts the body in
// place. A payload without a url is a no-op target.
func validatePayload(p *domain.Payload) error {
	if len(p.Body) > 0 {
		body, err := domain.CompactBody(p.Body)
		if err != nil {
			return errors.Wrap(errors.ErrInvalidInput, "payload.body must be valid JSON")
		}
		p.Body = body
	}
	if p.URL == "" {
		return nil
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "invalid payload.url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Wrap(errors.ErrInvalidInput, "invalid payload.url: scheme must be http or https")
	}
	if u.Host == "" {
		return errors.Wrap(errors.ErrInvalidInput, "invalid payload.url: host is required")
	}
	return nil
}

// List returns every job in creation order.
func (r *Registry) List() []domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobsLocked()
}

func (r *Registry) Get(id uuid.UUID) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.Job{}, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	return e.job.Clone(), nil
}

// NextRun returns the instant the job's trigger is waiting for.
func (r *Registry) NextRun(id uuid.UUID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.handle == nil {
		return time.Time{}, false
	}
	next := e.handle.Next()
	return next, !next.IsZero()
}

// Delete disarms the job's trigger, removes it, and persists the job set.
// No firing starts for the job once Delete returns.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.ErrShuttingDown
	}
	e, ok := r.entries[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	if e.handle != nil {
		e.handle.Stop()
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Infow("job deleted", logging.FieldJobID, id, logging.FieldJobName, e.job.Name)

	r.saveLocked(ctx)
	r.reportCountLocked()
	return nil
}

// IsArmed reports whether id still has a live trigger. Dispatch checks this
// so firings queued before a delete or shutdown are dropped.
func (r *Registry) IsArmed(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	e, ok := r.entries[id]
	return ok && e.handle != nil
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Restore arms previously persisted jobs without saving. Jobs with an
// invalid schedule or a duplicate id are skipped and logged. Returns the
// number of jobs armed.
func (r *Registry) Restore(jobs []domain.Job) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	armed := 0
	for _, job := range jobs {
		if r.closed {
			break
		}
		if _, dup := r.entries[job.ID]; dup {
			r.log.Warnw("skipping duplicate job id", logging.FieldJobID, job.ID)
			r.dirty = true
			continue
		}
		if err := r.validate(job.Schedule); err != nil {
			r.log.Warnw("skipping job with invalid schedule",
				logging.FieldJobID, job.ID, logging.FieldSchedule, job.Schedule, logging.FieldError, err)
			r.dirty = true
			continue
		}
		if job.Payload != nil && validatePayload(job.Payload) != nil {
			r.log.Warnw("job payload is not callable; firings will be no-ops",
				logging.FieldJobID, job.ID)
		}

		job = job.Clone()
		handle, err := r.armer.Arm(job.Clone())
		if err != nil {
			r.log.Errorw("failed to arm restored job", logging.FieldJobID, job.ID, logging.FieldError, err)
			r.dirty = true
			continue
		}
		r.entries[job.ID] = &entry{job: job, handle: handle}
		r.order = append(r.order, job.ID)
		armed++
		r.log.Debugw("job restored", logging.FieldJobID, job.ID, logging.FieldNextRun, handle.Next())
	}

	r.reportCountLocked()
	return armed
}

// Shutdown disarms every trigger and writes a final snapshot. Further
// mutations fail with ErrShuttingDown. Calling it again is a no-op.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var wg sync.WaitGroup
	for _, e := range r.entries {
		if e.handle == nil {
			continue
		}
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			h.Stop()
		}(e.handle)
		e.handle = nil
	}
	wg.Wait()
	r.log.Infow("all triggers disarmed", logging.FieldCount, len(r.entries))

	return r.saveLocked(ctx)
}

// Dirty reports whether the last save failed or restored state was pruned,
// meaning the file no longer matches memory.
func (r *Registry) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// MarkDirty forces the next Flush to rewrite the file, for example after it
// was edited behind the service's back.
func (r *Registry) MarkDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.dirty = true
	}
}

// Flush writes a snapshot if the registry is dirty.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty || r.closed {
		return nil
	}
	return r.saveLocked(ctx)
}

func (r *Registry) jobsLocked() []domain.Job {
	jobs := make([]domain.Job, 0, len(r.order))
	for _, id := range r.order {
		jobs = append(jobs, r.entries[id].job.Clone())
	}
	return jobs
}

// saveLocked writes the current job set. The caller's cancellation does not
// abort a save once a mutation has been applied in memory.
func (r *Registry) saveLocked(ctx context.Context) error {
	start := r.clock()
	err := r.store.Save(context.WithoutCancel(ctx), r.jobsLocked())
	if r.metrics != nil {
		r.metrics.StoreSaveCompleted(r.clock().Sub(start), err)
	}
	if err != nil {
		r.dirty = true
		r.log.Errorw("failed to save job file; will retry", logging.FieldError, err)
		return err
	}
	r.dirty = false
	return nil
}

func (r *Registry) reportCountLocked() {
	if r.metrics != nil {
		r.metrics.JobsRegistered(len(r.entries))
	}
}
