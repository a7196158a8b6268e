package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/djlord-it/cronhook/internal/domain"
)

type armedSet struct {
	mu  sync.Mutex
	ids map[uuid.UUID]bool
}

func newArmedSet(ids ...uuid.UUID) *armedSet {
	s := &armedSet{ids: make(map[uuid.UUID]bool)}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *armedSet) IsArmed(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id]
}

func (s *armedSet) disarm(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

type mockSender struct {
	mu     sync.Mutex
	calls  []WebhookRequest
	result WebhookResult
}

func (m *mockSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	return m.result
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockAnalytics struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
}

func (m *mockAnalytics) Record(ctx context.Context, o domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
}

type mockBreaker struct {
	deny      error
	successes int
	failures  int
}

func (b *mockBreaker) Allow(string) error   { return b.deny }
func (b *mockBreaker) RecordSuccess(string) { b.successes++ }
func (b *mockBreaker) RecordFailure(string) { b.failures++ }

type mockMetrics struct {
	mu       sync.Mutex
	classes  []string
	outcomes []string
	inFlight int
}

func (m *mockMetrics) DispatchAttemptCompleted(class string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes = append(m.classes, class)
}

func (m *mockMetrics) DispatchOutcome(o string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
}

func (m *mockMetrics) FiringsInFlightIncr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
}

func (m *mockMetrics) FiringsInFlightDecr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

func newFiring(jobID uuid.UUID, payload *domain.Payload) domain.Firing {
	now := time.Now().UTC()
	return domain.Firing{
		FiringID:    uuid.New(),
		JobID:       jobID,
		JobName:     "test-job",
		Payload:     payload,
		ScheduledAt: now.Truncate(time.Second),
		FiredAt:     now,
	}
}

func TestDispatch_Success(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	jobID := uuid.New()
	history := NewHistory(10)
	analytics := &mockAnalytics{}
	m := &mockMetrics{}
	d := New(Config{Timeout: time.Second}, newArmedSet(jobID), NewHTTPWebhookSender()).
		WithLogger(zaptest.NewLogger(t).Sugar()).
		WithHistory(history).
		WithAnalytics(analytics).
		WithMetrics(m)

	firing := newFiring(jobID, &domain.Payload{URL: server.URL, Body: []byte(`{"k":"v"}`)})
	out := d.Dispatch(context.Background(), firing)

	assert.Equal(t, domain.OutcomeSuccess, out.Status)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Empty(t, out.Error)
	assert.Equal(t, firing.FiringID, out.FiringID)
	assert.Equal(t, firing.ScheduledAt, out.ScheduledAt)
	assert.JSONEq(t, `{"k":"v"}`, string(gotBody))

	require.Len(t, history.ForJob(jobID, 0), 1)
	require.Len(t, analytics.outcomes, 1)
	assert.Equal(t, []string{"2xx"}, m.classes)
	assert.Equal(t, []string{"success"}, m.outcomes)
	assert.Zero(t, m.inFlight)
}

func TestDispatch_FailureIsRecordedNotReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	jobID := uuid.New()
	history := NewHistory(10)
	d := New(Config{Timeout: time.Second}, newArmedSet(jobID), NewHTTPWebhookSender()).WithHistory(history)

	out := d.Dispatch(context.Background(), newFiring(jobID, &domain.Payload{URL: server.URL}))

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
	assert.Contains(t, out.Error, "status 500")
	assert.Len(t, history.ForJob(jobID, 0), 1)
}

func TestDispatch_TransportErrorIsFailure(t *testing.T) {
	jobID := uuid.New()
	sender := &mockSender{result: WebhookResult{Error: errors.New("connection refused")}}
	d := New(Config{}, newArmedSet(jobID), sender)

	out := d.Dispatch(context.Background(), newFiring(jobID, &domain.Payload{URL: "http://127.0.0.1:1"}))

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Contains(t, out.Error, "connection refused")
}

func TestDispatch_UsesConfiguredTimeoutAndSecret(t *testing.T) {
	jobID := uuid.New()
	sender := &mockSender{result: WebhookResult{StatusCode: 200}}
	d := New(Config{Timeout: 3 * time.Second, Secret: "abc"}, newArmedSet(jobID), sender)

	firing := newFiring(jobID, &domain.Payload{URL: "http://example.com/hook", Body: []byte(`[1]`)})
	d.Dispatch(context.Background(), firing)

	require.Equal(t, 1, sender.count())
	req := sender.calls[0]
	assert.Equal(t, 3*time.Second, req.Timeout)
	assert.Equal(t, "abc", req.Secret)
	assert.Equal(t, "http://example.com/hook", req.URL)
	assert.Equal(t, []byte(`[1]`), req.Body)
	assert.Equal(t, jobID.String(), req.JobID)
	assert.Equal(t, firing.FiringID.String(), req.FiringID)
}

func TestDispatch_DefaultTimeout(t *testing.T) {
	d := New(Config{}, newArmedSet(), &mockSender{})
	assert.Equal(t, DefaultTimeout, d.config.Timeout)
	assert.Equal(t, 1, d.config.Workers)
}

func TestDispatch_NoPayloadIsNoop(t *testing.T) {
	jobID := uuid.New()
	sender := &mockSender{}
	history := NewHistory(10)
	d := New(Config{}, newArmedSet(jobID), sender).WithHistory(history)

	for _, p := range []*domain.Payload{nil, {}} {
		out := d.Dispatch(context.Background(), newFiring(jobID, p))
		assert.Equal(t, domain.OutcomeNoop, out.Status)
	}

	assert.Zero(t, sender.count())
	assert.Len(t, history.ForJob(jobID, 0), 2)
}

func TestDispatch_DisarmedJobIsSkipped(t *testing.T) {
	jobID := uuid.New()
	sender := &mockSender{result: WebhookResult{StatusCode: 200}}
	history := NewHistory(10)
	m := &mockMetrics{}
	d := New(Config{}, newArmedSet(), sender).WithHistory(history).WithMetrics(m)

	out := d.Dispatch(context.Background(), newFiring(jobID, &domain.Payload{URL: "http://example.com"}))

	assert.Equal(t, domain.OutcomeSkipped, out.Status)
	assert.Zero(t, sender.count())
	assert.Empty(t, history.ForJob(jobID, 0), "skipped firings of deleted jobs are not kept")
	assert.Equal(t, []string{"skipped"}, m.outcomes)
}

func TestDispatch_CircuitBreaker(t *testing.T) {
	jobID := uuid.New()

	t.Run("open circuit skips the call", func(t *testing.T) {
		sender := &mockSender{}
		cb := &mockBreaker{deny: errors.New("circuit open")}
		d := New(Config{}, newArmedSet(jobID), sender).WithCircuitBreaker(cb)

		out := d.Dispatch(context.Background(), newFiring(jobID, &domain.Payload{URL: "http://example.com"}))

		assert.Equal(t, domain.OutcomeSkipped, out.Status)
		assert.Equal(t, "circuit open", out.Error)
		assert.Zero(t, sender.count())
	})

	t.Run("results feed the breaker", func(t *testing.T) {
		sender := &mockSender{result: WebhookResult{StatusCode: 200}}
		cb := &mockBreaker{}
		d := New(Config{}, newArmedSet(jobID), sender).WithCircuitBreaker(cb)
		firing := newFiring(jobID, &domain.Payload{URL: "http://example.com"})

		d.Dispatch(context.Background(), firing)
		sender.result = WebhookResult{StatusCode: 503}
		d.Dispatch(context.Background(), firing)

		assert.Equal(t, 1, cb.successes)
		assert.Equal(t, 1, cb.failures)
	})
}

func TestRun_WorkersDrainChannel(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	jobID := uuid.New()
	d := New(Config{Workers: 4, Timeout: time.Second}, newArmedSet(jobID), NewHTTPWebhookSender())

	ch := make(chan domain.Firing, 10)
	for i := 0; i < 10; i++ {
		ch <- newFiring(jobID, &domain.Payload{URL: server.URL})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, ch)
		close(done)
	}()

	require.Eventually(t, func() bool { return hits.Load() == 10 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ReturnsWhenChannelClosed(t *testing.T) {
	d := New(Config{Workers: 2}, newArmedSet(), &mockSender{})
	ch := make(chan domain.Firing)
	close(ch)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
}

func TestRun_CancelAbortsInFlightCall(t *testing.T) {
	started := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer server.Close()

	jobID := uuid.New()
	armed := newArmedSet(jobID)
	d := New(Config{Workers: 1, Timeout: time.Minute}, armed, NewHTTPWebhookSender())

	ch := make(chan domain.Firing, 2)
	ch <- newFiring(jobID, &domain.Payload{URL: server.URL})
	ch <- newFiring(jobID, &domain.Payload{URL: server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, ch)
		close(done)
	}()

	<-started
	armed.disarm(jobID)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.LessOrEqual(t, len(ch), 1)
}
