package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "jobs.json"), zaptest.NewLogger(t).Sugar())
}

func sampleJobs() []domain.Job {
	created := time.Date(2024, 2, 3, 4, 5, 6, 7000000, time.UTC)
	return []domain.Job{
		{
			ID:        uuid.New(),
			Name:      "ping",
			Schedule:  "* * * * *",
			Payload:   &domain.Payload{URL: "http://localhost:9000/hook", Body: json.RawMessage(`{"hello":"world"}`)},
			CreatedAt: created,
		},
		{
			ID:        uuid.New(),
			Name:      "quiet",
			Schedule:  "0 3 * * MON",
			CreatedAt: created.Add(time.Minute),
		},
	}
}

func TestLoad_MissingFileCreatesEmptyArray(t *testing.T) {
	s := newTestStore(t)

	jobs, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))
}

func TestLoad_CreatesParentDirectory(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "dir", "jobs.json"), nil)

	_, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, s.Path())
}

func TestLoad_EmptyFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("  \n"), 0o600))

	jobs, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := sampleJobs()

	require.NoError(t, s.Save(ctx, want))

	got, err := New(s.Path(), nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.Equal(t, want[i].Schedule, got[i].Schedule)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
		if want[i].Payload == nil {
			assert.Nil(t, got[i].Payload)
			continue
		}
		require.NotNil(t, got[i].Payload)
		assert.Equal(t, want[i].Payload.URL, got[i].Payload.URL)
		assert.Equal(t, string(want[i].Payload.Body), string(got[i].Payload.Body))
	}
}

func TestSaveLoad_NestedBodyBytesStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := sampleJobs()[0]
	job.Payload.Body = json.RawMessage(`{"a":1,"b":[1,2],"c":{"d":"x y"}}`)

	require.NoError(t, s.Save(ctx, []domain.Job{job}))
	first, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	loaded, err := New(s.Path(), nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, string(job.Payload.Body), string(loaded[0].Payload.Body))

	require.NoError(t, s.Save(ctx, loaded))
	second, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestSave_PrettyPrinted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), sampleJobs()[:1]))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[\n  {\n    \"id\": "), string(data))
	assert.NotContains(t, string(data), "handle")
}

func TestSave_NilWritesEmptyArray(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), nil))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), sampleJobs()))
	require.NoError(t, s.Save(context.Background(), sampleJobs()[:1]))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "jobs.json", entries[0].Name())
}

func TestSave_ConcurrentSnapshotsStayValid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobs := sampleJobs()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Save(ctx, jobs[:i%2+1]))
		}(i)
	}
	wg.Wait()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestSave_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	s := New(filepath.Join(blocker, "jobs.json"), nil)
	err := s.Save(context.Background(), sampleJobs())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreWriteFailure))
}

func TestSave_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, sampleJobs())
	assert.True(t, errors.Is(err, errors.ErrStoreWriteFailure))
	assert.NoFileExists(t, s.Path())
}

func TestLoad_CorruptFileIsQuarantined(t *testing.T) {
	s := newTestStore(t)
	s.clock = func() time.Time { return time.Unix(1700000000, 0) }
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"not":"an array"`), 0o600))

	jobs, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreCorrupt))
	assert.Empty(t, jobs)

	assert.NoFileExists(t, s.Path())
	moved, readErr := os.ReadFile(s.Path() + ".corrupt-1700000000")
	require.NoError(t, readErr)
	assert.Equal(t, `{"not":"an array"`, string(moved))
}

func TestLoad_UnreadableFileIsCorrupt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.Mkdir(s.Path(), 0o755))

	jobs, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreCorrupt))
	assert.Empty(t, jobs)
	assert.Equal(t, 1, strings.Count(err.Error(), s.Path()), err.Error())
	assert.DirExists(t, s.Path(), "unreadable path is left in place")
}

func TestLoad_SkipsBadRecords(t *testing.T) {
	s := newTestStore(t)
	good := sampleJobs()[0]
	goodJSON, err := json.Marshal(good)
	require.NoError(t, err)

	content := "[" + string(goodJSON) + `,
		{"id": "not-a-uuid", "name": "x", "schedule": "* * * * *"},
		{"id": "` + uuid.NewString() + `", "name": "no schedule"},
		42
	]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o600))

	jobs, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreCorrupt))
	assert.Contains(t, err.Error(), "3 of 4 records skipped")
	require.Len(t, jobs, 1)
	assert.Equal(t, good.ID, jobs[0].ID)
	assert.FileExists(t, s.Path())
}

func TestLastWriteDigest(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.LastWriteDigest()
	assert.False(t, ok)

	require.NoError(t, s.Save(context.Background(), sampleJobs()))
	first, ok := s.LastWriteDigest()
	require.True(t, ok)

	require.NoError(t, s.Save(context.Background(), nil))
	second, _ := s.LastWriteDigest()
	assert.NotEqual(t, first, second)
}
