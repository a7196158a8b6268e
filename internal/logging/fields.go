package logging

// Standard field names for structured logging. Use these instead of raw
// strings so log queries stay consistent between components.
const (
	FieldJobID     = "job_id"
	FieldJobName   = "job_name"
	FieldFiringID  = "firing_id"
	FieldSchedule  = "schedule"
	FieldComponent = "component"

	FieldScheduledAt = "scheduled_at"
	FieldNextRun     = "next_run"
	FieldDurationMS  = "duration_ms"
	FieldLagMS       = "lag_ms"

	FieldURL        = "url"
	FieldStatusCode = "status_code"
	FieldOutcome    = "outcome"

	FieldError = "error"
	FieldCount = "count"
	FieldPath  = "path"
	FieldAddr  = "addr"
)
