package dispatcher

import (
	"sync"

	"github.com/google/uuid"

	"github.com/djlord-it/cronhook/internal/domain"
)

// DefaultHistorySize is the number of outcomes kept when no size is given.
const DefaultHistorySize = 500

// History is a fixed-size ring of the most recent outcomes across all jobs.
// It is process memory only and starts empty on every run.
type History struct {
	mu   sync.Mutex
	buf  []domain.Outcome
	next int
	full bool
}

func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]domain.Outcome, size)}
}

func (h *History) Record(o domain.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = o
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// ForJob returns up to limit outcomes for jobID, newest first. limit <= 0
// returns all retained outcomes.
func (h *History) ForJob(jobID uuid.UUID, limit int) []domain.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.buf)
	}

	out := []domain.Outcome{}
	for i := 1; i <= n; i++ {
		o := h.buf[(h.next-i+len(h.buf))%len(h.buf)]
		if o.JobID != jobID {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len is the number of retained outcomes.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}
