// Package api serves the job HTTP interface on top of the registry.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/logging"
	"github.com/djlord-it/cronhook/internal/registry"
)

type Registry interface {
	Create(ctx context.Context, req registry.CreateRequest) (domain.Job, error)
	List() []domain.Job
	Get(id uuid.UUID) (domain.Job, error)
	NextRun(id uuid.UUID) (time.Time, bool)
	Delete(ctx context.Context, id uuid.UUID) error
	Count() int
	Dirty() bool
}

// History provides recent dispatch outcomes for /jobs/{id}/executions.
type History interface {
	ForJob(jobID uuid.UUID, limit int) []domain.Outcome
}

type Handler struct {
	registry Registry
	history  History
	static   http.Handler
	log      *zap.SugaredLogger
}

func NewHandler(reg Registry) *Handler {
	return &Handler{registry: reg, log: logging.Nop()}
}

func (h *Handler) WithLogger(log *zap.SugaredLogger) *Handler {
	h.log = log
	return h
}

// WithHistory enables the executions endpoint. Without it the endpoint
// returns an empty list.
func (h *Handler) WithHistory(history History) *Handler {
	h.history = history
	return h
}

// WithStaticDir serves files from dir for any GET that is not an API route.
// An empty dir disables static serving.
func (h *Handler) WithStaticDir(dir string) *Handler {
	if dir == "" {
		h.static = nil
		return h
	}
	h.static = http.FileServer(http.Dir(dir))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	switch {
	case path == "/health":
		if !h.allow(w, r, http.MethodGet) {
			return
		}
		h.health(w, r)

	case path == "/jobs":
		switch r.Method {
		case http.MethodPost:
			h.createJob(w, r)
		case http.MethodGet:
			h.listJobs(w, r)
		default:
			h.methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}

	case len(parts) == 2 && parts[0] == "jobs":
		switch r.Method {
		case http.MethodGet:
			h.getJob(w, r, parts[1])
		case http.MethodDelete:
			h.deleteJob(w, r, parts[1])
		default:
			h.methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		}

	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "executions":
		if !h.allow(w, r, http.MethodGet) {
			return
		}
		h.listExecutions(w, r, parts[1])

	case h.static != nil && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		h.static.ServeHTTP(w, r)

	default:
		h.writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verbose") != "true" {
		h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	count := h.registry.Count()
	resp := HealthResponse{
		Status:     "ok",
		Jobs:       &count,
		Components: map[string]string{"store": "healthy"},
	}
	if h.registry.Dirty() {
		resp.Status = "degraded"
		resp.Components["store"] = "unhealthy: job file out of date"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, statusCode, resp)
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateJob(w, r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeRegistryError(w, err)
		return
	}

	job, err := h.registry.Create(r.Context(), req)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	next, _ := h.registry.NextRun(job.ID)
	h.writeJSON(w, http.StatusCreated, toJobResponse(job, next))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.registry.List()
	resp := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		next, _ := h.registry.NextRun(job.ID)
		resp[i] = toJobResponse(job, next)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := h.parseJobID(w, rawID)
	if !ok {
		return
	}
	job, err := h.registry.Get(id)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	next, _ := h.registry.NextRun(id)
	h.writeJSON(w, http.StatusOK, toJobResponse(job, next))
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := h.parseJobID(w, rawID)
	if !ok {
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, DeleteResponse{OK: true, Message: "job deleted"})
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := h.parseJobID(w, rawID)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	if _, err := h.registry.Get(id); err != nil {
		h.writeRegistryError(w, err)
		return
	}

	resp := ListExecutionsResponse{Executions: []ExecutionResponse{}}
	if h.history != nil {
		for _, o := range h.history.ForJob(id, limit) {
			resp.Executions = append(resp.Executions, toExecutionResponse(o))
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// parseJobID writes a 404 for ids that cannot name a job.
func (h *Handler) parseJobID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "job not found")
		return uuid.Nil, false
	}
	return id, true
}

// writeRegistryError maps the error taxonomy onto status codes.
func (h *Handler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, errors.ErrShuttingDown):
		h.writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		h.log.Errorw("request failed", logging.FieldError, err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	h.methodNotAllowed(w, method)
	return false
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, methods ...string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnw("json encode error", logging.FieldError, err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}
