package domain

import (
	"time"

	"github.com/google/uuid"
)

// Firing is emitted by a job's trigger engine each time its schedule comes
// due. It carries a snapshot of the payload so dispatch never reads the
// registry.
type Firing struct {
	FiringID uuid.UUID
	JobID    uuid.UUID
	JobName  string
	Payload  *Payload

	ScheduledAt time.Time // instant the schedule named (UTC)
	FiredAt     time.Time // actual emission time
}
