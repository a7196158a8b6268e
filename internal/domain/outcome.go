package domain

import (
	"time"

	"github.com/google/uuid"
)

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeNoop    OutcomeStatus = "noop"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome records what happened when a firing was dispatched. There is at
// most one attempt per firing.
type Outcome struct {
	FiringID uuid.UUID `json:"firingId"`
	JobID    uuid.UUID `json:"jobId"`

	Status     OutcomeStatus `json:"status"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`

	ScheduledAt time.Time     `json:"scheduledAt"`
	FiredAt     time.Time     `json:"firedAt"`
	Duration    time.Duration `json:"-"`
}
