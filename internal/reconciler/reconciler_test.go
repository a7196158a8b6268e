package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockRegistry struct {
	mu      sync.Mutex
	dirty   bool
	err     error
	flushes int
}

func (m *mockRegistry) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

func (m *mockRegistry) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	if m.err != nil {
		return m.err
	}
	m.dirty = false
	return nil
}

func (m *mockRegistry) setDirty(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = true
	m.err = err
}

func (m *mockRegistry) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func TestRunCycle_CleanRegistryIsLeftAlone(t *testing.T) {
	reg := &mockRegistry{}
	New(Config{}, reg).runCycle(context.Background())
	assert.Zero(t, reg.flushCount())
}

func TestRunCycle_DirtyRegistryIsFlushed(t *testing.T) {
	reg := &mockRegistry{}
	reg.setDirty(nil)

	New(Config{}, reg).WithLogger(zaptest.NewLogger(t).Sugar()).runCycle(context.Background())

	assert.Equal(t, 1, reg.flushCount())
	assert.False(t, reg.Dirty())
}

func TestRunCycle_FailedFlushRetriesNextCycle(t *testing.T) {
	reg := &mockRegistry{}
	reg.setDirty(errors.New("disk full"))
	r := New(Config{}, reg)

	r.runCycle(context.Background())
	r.runCycle(context.Background())

	assert.Equal(t, 2, reg.flushCount())
	assert.True(t, reg.Dirty())
}

func TestNew_DefaultInterval(t *testing.T) {
	r := New(Config{}, &mockRegistry{})
	assert.Equal(t, 30*time.Second, r.config.Interval)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	reg := &mockRegistry{}
	reg.setDirty(errors.New("still failing"))
	r := New(Config{Interval: 10 * time.Millisecond}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.flushCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNudge_RunsCycleImmediately(t *testing.T) {
	reg := &mockRegistry{}
	r := New(Config{Interval: time.Hour}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	reg.setDirty(nil)
	r.Nudge()
	r.Nudge() // merged, must not block

	require.Eventually(t, func() bool { return reg.flushCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, reg.Dirty())
}
