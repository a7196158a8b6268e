package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
)

func firingFor(jobID uuid.UUID) domain.Firing {
	now := time.Now().UTC()
	return domain.Firing{
		FiringID:    uuid.New(),
		JobID:       jobID,
		JobName:     "bus",
		Payload:     &domain.Payload{URL: "http://localhost/hook"},
		ScheduledAt: now,
		FiredAt:     now,
	}
}

type recordedBusMetrics struct {
	mu         sync.Mutex
	capacity   int
	sizes      []int
	saturation []float64
	emitErrors int
}

func (m *recordedBusMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *recordedBusMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *recordedBusMetrics) BufferSaturationUpdate(saturation float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saturation = append(m.saturation, saturation)
}

func (m *recordedBusMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func TestEmit_PreservesOrderPerProducer(t *testing.T) {
	bus := NewEventBus(8)
	job := uuid.New()

	var sent []uuid.UUID
	for i := 0; i < 5; i++ {
		f := firingFor(job)
		sent = append(sent, f.FiringID)
		require.NoError(t, bus.Emit(context.Background(), f))
	}
	assert.Equal(t, 5, bus.Len())

	for _, want := range sent {
		got := <-bus.Channel()
		assert.Equal(t, want, got.FiringID)
		assert.Equal(t, job, got.JobID)
	}
	assert.Zero(t, bus.Len())
}

func TestEmit_DropsAfterTimeoutWhenFull(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(30*time.Millisecond))
	require.NoError(t, bus.Emit(context.Background(), firingFor(uuid.New())))

	start := time.Now()
	err := bus.Emit(context.Background(), firingFor(uuid.New()))

	assert.True(t, errors.Is(err, ErrBufferFull))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, bus.Len(), "dropped firing is not queued")
}

func TestEmit_WaitsForSpaceWithinTimeout(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(time.Second))
	first := firingFor(uuid.New())
	require.NoError(t, bus.Emit(context.Background(), first))

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-bus.Channel()
	}()

	second := firingFor(uuid.New())
	require.NoError(t, bus.Emit(context.Background(), second))
	assert.Equal(t, second.FiringID, (<-bus.Channel()).FiringID)
}

func TestEmit_ContextEndsFirst(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(5*time.Second))
	require.NoError(t, bus.Emit(context.Background(), firingFor(uuid.New())))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Emit(ctx, firingFor(uuid.New()))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEmit_ConcurrentProducers(t *testing.T) {
	const producers, each = 8, 50
	bus := NewEventBus(producers * each)

	var wg sync.WaitGroup
	errs := make(chan error, producers*each)
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := uuid.New()
			for j := 0; j < each; j++ {
				if err := bus.Emit(context.Background(), firingFor(job)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("emit: %v", err)
	}
	assert.Equal(t, producers*each, bus.Len())
}

func TestNewEventBus_Options(t *testing.T) {
	assert.Equal(t, 1, cap(NewEventBus(0).ch), "buffer floors at 1")
	assert.Equal(t, DefaultEmitTimeout, NewEventBus(4).emitTimeout)
	assert.Equal(t, DefaultEmitTimeout, NewEventBus(4, WithEmitTimeout(0)).emitTimeout, "non-positive timeout ignored")
	assert.Equal(t, 250*time.Millisecond, NewEventBus(4, WithEmitTimeout(250*time.Millisecond)).emitTimeout)
}

func TestMetrics_SizeAndSaturation(t *testing.T) {
	m := &recordedBusMetrics{}
	bus := NewEventBus(4, WithMetrics(m))
	assert.Equal(t, 4, m.capacity)

	require.NoError(t, bus.Emit(context.Background(), firingFor(uuid.New())))
	require.NoError(t, bus.Emit(context.Background(), firingFor(uuid.New())))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []int{1, 2}, m.sizes)
	assert.Equal(t, []float64{0.25, 0.5}, m.saturation)
	assert.Zero(t, m.emitErrors)
}

func TestMetrics_EmitErrorOnlyOnTimeout(t *testing.T) {
	m := &recordedBusMetrics{}
	bus := NewEventBus(1, WithEmitTimeout(10*time.Millisecond), WithMetrics(m))

	require.NoError(t, bus.Emit(context.Background(), firingFor(uuid.New())))
	_ = bus.Emit(context.Background(), firingFor(uuid.New()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = bus.Emit(ctx, firingFor(uuid.New()))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.emitErrors, "cancellation is not counted as a drop")
}
