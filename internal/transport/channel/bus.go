// Package channel is the in-process hand-off between trigger engines and
// dispatch workers. Emit never waits longer than the configured timeout, so a
// slow or stalled dispatcher cannot hold up a job's timer.
package channel

import (
	"context"
	"time"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 100 * time.Millisecond

// ErrBufferFull is returned when no buffer space frees up within the emit
// timeout. The firing is dropped.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink records bus metrics. Implementations must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		if d > 0 {
			b.emitTimeout = d
		}
	}
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

type EventBus struct {
	ch          chan domain.Firing
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	if buffer < 1 {
		buffer = 1
	}
	b := &EventBus{
		ch:          make(chan domain.Firing, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit queues a firing. It returns ErrBufferFull after the emit timeout, or
// the context error if ctx ends first.
func (b *EventBus) Emit(ctx context.Context, firing domain.Firing) error {
	select {
	case b.ch <- firing:
		b.reportSize()
		return nil
	default:
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- firing:
		b.reportSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.Firing {
	return b.ch
}

// Len is the number of queued firings.
func (b *EventBus) Len() int {
	return len(b.ch)
}

func (b *EventBus) reportSize() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	b.metrics.BufferSaturationUpdate(float64(size) / float64(cap(b.ch)))
}
