package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeStatus_Values(t *testing.T) {
	tests := []struct {
		status OutcomeStatus
		want   string
	}{
		{OutcomeSuccess, "success"},
		{OutcomeFailed, "failed"},
		{OutcomeNoop, "noop"},
		{OutcomeSkipped, "skipped"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestJobJSONShape(t *testing.T) {
	job := Job{
		ID:        uuid.MustParse("6f1c0c2e-5b7f-4a53-9a57-0f1b9b0d3c11"),
		Name:      "nightly report",
		Schedule:  "0 2 * * *",
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 123000000, time.UTC),
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "6f1c0c2e-5b7f-4a53-9a57-0f1b9b0d3c11",
		"name": "nightly report",
		"schedule": "0 2 * * *",
		"payload": null,
		"createdAt": "2024-03-01T12:00:00.123Z"
	}`, string(data))

	job.Payload = &Payload{URL: "https://example.com/hook", Body: json.RawMessage(`{"a":1}`)}
	data, err = json.Marshal(job)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":{"url":"https://example.com/hook","body":{"a":1}}`)
}

func TestJobCloneIsDeep(t *testing.T) {
	job := Job{Payload: &Payload{URL: "http://x", Body: json.RawMessage(`[1]`)}}
	c := job.Clone()
	c.Payload.Body[1] = '2'
	c.Payload.URL = "http://y"

	assert.Equal(t, `[1]`, string(job.Payload.Body))
	assert.Equal(t, "http://x", job.Payload.URL)
}

func TestPayloadEqual(t *testing.T) {
	a := &Payload{URL: "http://x", Body: json.RawMessage(`{ "a": 1 }`)}
	b := &Payload{URL: "http://x", Body: json.RawMessage(`{"a":1}`)}
	assert.True(t, a.Equal(b))
	assert.True(t, (*Payload)(nil).Equal(nil))
	assert.False(t, a.Equal(nil))
	assert.False(t, a.Equal(&Payload{URL: "http://y", Body: b.Body}))
}

func TestPayloadUnmarshalCompactsBody(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{
		"url": "http://x",
		"body": {
			"a": 1,
			"b": [1, 2]
		}
	}`), &p))
	assert.Equal(t, "http://x", p.URL)
	assert.Equal(t, `{"a":1,"b":[1,2]}`, string(p.Body))

	var empty Payload
	require.NoError(t, json.Unmarshal([]byte(`{"url":"http://x"}`), &empty))
	assert.Nil(t, empty.Body)
}

func TestNowUTCTruncatesToMillis(t *testing.T) {
	in := time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.FixedZone("x", 3600))
	got := NowUTC(in)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123000000, got.Nanosecond())
}
