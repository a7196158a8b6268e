// Package leaderelection decides which process owns a job file.
//
// Ownership is an exclusive advisory lock on a sibling ".lock" file. The
// lock lives as long as the open file descriptor; if the owner dies the
// kernel releases it and a waiting instance takes over. There is no renewal
// or TTL.
package leaderelection

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/logging"
)

// ErrHeld is returned by TryAcquire when another process owns the file.
var ErrHeld = errors.New("job file is owned by another process")

// DefaultRetryInterval is how often a waiting instance retries the lock.
const DefaultRetryInterval = time.Second

// LockPath is the lock file guarding storePath.
func LockPath(storePath string) string {
	return storePath + ".lock"
}

// Elector holds or waits for ownership of one job file.
type Elector struct {
	lock          *flock.Flock
	retryInterval time.Duration
	log           *zap.SugaredLogger
}

func New(storePath string, retryInterval time.Duration) *Elector {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Elector{
		lock:          flock.New(LockPath(storePath)),
		retryInterval: retryInterval,
		log:           logging.Nop(),
	}
}

func (e *Elector) WithLogger(log *zap.SugaredLogger) *Elector {
	e.log = log
	return e
}

// TryAcquire takes ownership without waiting.
func (e *Elector) TryAcquire() error {
	ok, err := e.lock.TryLock()
	if err != nil {
		return errors.Wrapf(err, "lock %s", e.lock.Path())
	}
	if !ok {
		return errors.WithHintf(ErrHeld, "stop the other instance or remove %s once it is gone", e.lock.Path())
	}
	e.log.Infow("acquired job file ownership", logging.FieldPath, e.lock.Path())
	return nil
}

// Acquire blocks until ownership is taken or ctx is done.
func (e *Elector) Acquire(ctx context.Context) error {
	ok, err := e.lock.TryLock()
	if err != nil {
		return errors.Wrapf(err, "lock %s", e.lock.Path())
	}
	if !ok {
		e.log.Infow("job file owned by another process, standing by",
			logging.FieldPath, e.lock.Path(), "retry", e.retryInterval)
		ok, err = e.lock.TryLockContext(ctx, e.retryInterval)
		if err != nil {
			return errors.Wrapf(err, "lock %s", e.lock.Path())
		}
		if !ok {
			return ctx.Err()
		}
	}
	e.log.Infow("acquired job file ownership", logging.FieldPath, e.lock.Path())
	return nil
}

// Held reports whether this process owns the file.
func (e *Elector) Held() bool {
	return e.lock.Locked()
}

// Release gives up ownership. Safe to call when not held.
func (e *Elector) Release() error {
	if !e.lock.Locked() {
		return nil
	}
	if err := e.lock.Unlock(); err != nil {
		return errors.Wrapf(err, "unlock %s", e.lock.Path())
	}
	e.log.Infow("released job file ownership", logging.FieldPath, e.lock.Path())
	return nil
}
