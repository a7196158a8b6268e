// Package testutil provides shared test helpers for cronhook.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/cronhook/internal/domain"
)

// FakeClock is a settable clock for components that take a func() time.Time.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext is bounded at five seconds and cancelled when the test ends.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewJob builds a persisted-shape job. An empty url leaves the payload nil.
func NewJob(name, schedule, url string) domain.Job {
	j := domain.Job{
		ID:        uuid.New(),
		Name:      name,
		Schedule:  schedule,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if url != "" {
		j.Payload = &domain.Payload{URL: url}
	}
	return j
}

// StorePath returns a job file path inside a fresh temp dir. The file does
// not exist yet.
func StorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "jobs.json")
}

// WriteJobsFile writes raw file content, for seeding corrupt or hand-edited
// files.
func WriteJobsFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadJobsFile decodes the job file at path.
func ReadJobsFile(t *testing.T, path string) []domain.Job {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var jobs []domain.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return jobs
}
