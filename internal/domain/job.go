package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is a named recurring job. This is both the persisted record and the
// public API shape; the live trigger handle is kept by the registry.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Payload   *Payload  `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Payload describes the outbound call made on each firing. A job without a
// payload fires as a logged no-op.
type Payload struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body,omitempty"`
}

// UnmarshalJSON stores the body compacted. The job file is indented as a
// whole, so a compact body is the only form that survives a save and load
// unchanged.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type plain Payload
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	body, err := CompactBody(v.Body)
	if err != nil {
		return err
	}
	v.Body = body
	*p = Payload(v)
	return nil
}

// CompactBody returns b with insignificant whitespace removed.
func CompactBody(b json.RawMessage) (json.RawMessage, error) {
	if len(b) == 0 {
		return b, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Clone returns a copy that shares no mutable memory with j.
func (j Job) Clone() Job {
	j.Payload = j.Payload.Clone()
	return j
}

func (p *Payload) Clone() *Payload {
	if p == nil {
		return nil
	}
	c := &Payload{URL: p.URL}
	if p.Body != nil {
		c.Body = append(json.RawMessage(nil), p.Body...)
	}
	return c
}

// HasTarget reports whether the payload names a url to call.
func (p *Payload) HasTarget() bool {
	return p != nil && p.URL != ""
}

// Equal compares two payloads, treating JSON bodies byte-for-byte after
// compaction.
func (p *Payload) Equal(o *Payload) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.URL != o.URL {
		return false
	}
	return compactJSON(p.Body) == compactJSON(o.Body)
}

func compactJSON(b json.RawMessage) string {
	c, err := CompactBody(b)
	if err != nil {
		return string(b)
	}
	return string(c)
}

// NowUTC is the timestamp format jobs carry: UTC, millisecond precision.
func NowUTC(now time.Time) time.Time {
	return now.UTC().Truncate(time.Millisecond)
}
