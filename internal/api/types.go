package api

import (
	"encoding/json"
	"time"

	"github.com/djlord-it/cronhook/internal/domain"
)

type CreateJobRequest struct {
	Name     string          `json:"name"`
	Schedule string          `json:"schedule"`
	Payload  *PayloadRequest `json:"payload,omitempty"`
}

// PayloadRequest is the outbound call made on each firing. Body may be any
// JSON value and is sent as-is.
type PayloadRequest struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body,omitempty"`
}

type JobResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Schedule  string          `json:"schedule"`
	Payload   *domain.Payload `json:"payload"`
	CreatedAt string          `json:"createdAt"`
	NextRunAt string          `json:"nextRunAt,omitempty"`
}

type ExecutionResponse struct {
	FiringID    string `json:"firingId"`
	Status      string `json:"status"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Error       string `json:"error,omitempty"`
	ScheduledAt string `json:"scheduledAt"`
	FiredAt     string `json:"firedAt"`
	DurationMS  int64  `json:"durationMs"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

type DeleteResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Jobs       *int              `json:"jobs,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toJobResponse(job domain.Job, next time.Time) JobResponse {
	resp := JobResponse{
		ID:        job.ID.String(),
		Name:      job.Name,
		Schedule:  job.Schedule,
		Payload:   job.Payload,
		CreatedAt: formatTime(job.CreatedAt),
	}
	if !next.IsZero() {
		resp.NextRunAt = formatTime(next)
	}
	return resp
}

func toExecutionResponse(o domain.Outcome) ExecutionResponse {
	return ExecutionResponse{
		FiringID:    o.FiringID.String(),
		Status:      string(o.Status),
		StatusCode:  o.StatusCode,
		Error:       o.Error,
		ScheduledAt: formatTime(o.ScheduledAt),
		FiredAt:     formatTime(o.FiredAt),
		DurationMS:  o.Duration.Milliseconds(),
	}
}
