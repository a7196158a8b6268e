package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/registry"
)

// Execution history limits.
const (
	DefaultExecutionLimit = 50
	MaxExecutionLimit     = 500
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// decodeCreateJob reads a create request. Field-level checks (required
// fields, schedule syntax, payload url) are left to the registry so the
// same rules apply to every caller.
func decodeCreateJob(w http.ResponseWriter, r *http.Request) (registry.CreateRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return registry.CreateRequest{}, errBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return registry.CreateRequest{}, errors.Wrap(errors.ErrInvalidInput, "request body is empty")
		}
		return registry.CreateRequest{}, errors.Wrap(errors.ErrInvalidInput, "invalid json")
	}

	out := registry.CreateRequest{Name: req.Name, Schedule: req.Schedule}
	if req.Payload != nil {
		out.Payload = &domain.Payload{URL: req.Payload.URL}
		if body := bytes.TrimSpace(req.Payload.Body); len(body) > 0 && !bytes.Equal(body, []byte("null")) {
			out.Payload.Body = body
		}
	}
	return out, nil
}

// parseLimit reads the optional limit query parameter.
func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return DefaultExecutionLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 0 {
		return 0, errors.Wrap(errors.ErrInvalidInput, "limit must be a non-negative integer")
	}
	if limit > MaxExecutionLimit {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "limit exceeds maximum of %d", MaxExecutionLimit)
	}
	if limit == 0 {
		limit = DefaultExecutionLimit
	}
	return limit, nil
}
