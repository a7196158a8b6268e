// Package analytics counts dispatch outcomes per job in Redis, bucketed by
// the minute the firing was scheduled for.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/logging"
)

const (
	DefaultRetention = 24 * time.Hour
	DefaultWindow    = time.Minute

	writeTimeout = 2 * time.Second
)

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
	window    time.Duration
	log       *zap.SugaredLogger
}

func NewRedisSink(client redis.Cmdable, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{
		client:    client,
		retention: retention,
		window:    DefaultWindow,
		log:       logging.Nop(),
	}
}

func (s *RedisSink) WithLogger(log *zap.SugaredLogger) *RedisSink {
	s.log = log
	return s
}

// WithWindow sets the bucket width. Only 1m, 5m and 1h are distinct; anything
// else buckets by minute.
func (s *RedisSink) WithWindow(window time.Duration) *RedisSink {
	s.window = window
	return s
}

// Record writes the outcome and logs failures. It never blocks longer than
// the internal write timeout.
func (s *RedisSink) Record(ctx context.Context, outcome domain.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.Write(ctx, outcome); err != nil {
		s.log.Warnw("analytics write failed",
			logging.FieldJobID, outcome.JobID,
			logging.FieldOutcome, outcome.Status,
			logging.FieldError, err)
	}
}

// Write increments the counter for the outcome's job, status and bucket.
func (s *RedisSink) Write(ctx context.Context, outcome domain.Outcome) error {
	at := outcome.ScheduledAt
	if at.IsZero() {
		at = outcome.FiredAt
	}
	key := buildKey(outcome.JobID.String(), string(outcome.Status), at, s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline")
	}
	return nil
}

// Counts reads the per-status counters of one bucket for a job.
func (s *RedisSink) Counts(ctx context.Context, jobID string, at time.Time) (map[string]int64, error) {
	statuses := []domain.OutcomeStatus{
		domain.OutcomeSuccess, domain.OutcomeFailed, domain.OutcomeNoop, domain.OutcomeSkipped,
	}
	keys := make([]string, len(statuses))
	for i, st := range statuses {
		keys[i] = buildKey(jobID, string(st), at, s.window)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}

	out := make(map[string]int64, len(statuses))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var n int64
		if _, err := fmt.Sscan(str, &n); err == nil {
			out[string(statuses[i])] = n
		}
	}
	return out, nil
}

func buildKey(jobID, status string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("cronhook:j:%s:%s:%s", jobID, status, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
