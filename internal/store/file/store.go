// Package file persists job definitions as a single pretty-printed JSON
// array. Every save rewrites the whole file through a temp file and rename,
// so readers never observe a half-written snapshot.
package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/domain"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/logging"
)

type Store struct {
	path  string
	log   *zap.SugaredLogger
	clock func() time.Time

	mu        sync.Mutex
	digest    [sha256.Size]byte
	hasDigest bool
}

// New returns a store for path. The file is not touched until Load or Save.
func New(path string, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{
		path:  filepath.Clean(path),
		log:   log,
		clock: time.Now,
	}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads every persisted job.
//
// A missing file is created empty. A file that cannot be read is reported as
// ErrStoreCorrupt with no jobs. A file that is not a JSON array is moved
// aside and ErrStoreCorrupt is returned with no jobs. Records that cannot be
// decoded are skipped; the rest are returned together with an error wrapping
// ErrStoreCorrupt.
func (s *Store) Load(ctx context.Context) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.writeLocked([]byte("[]\n")); err != nil {
			return nil, err
		}
		s.log.Infow("created empty job file", logging.FieldPath, s.path)
		return []domain.Job{}, nil
	}
	if err != nil {
		// Left in place: the next save either replaces it or keeps failing.
		return nil, errors.Wrap(errors.Mark(err, errors.ErrStoreCorrupt), "read job file")
	}
	s.setDigestLocked(data)

	if len(bytes.TrimSpace(data)) == 0 {
		return []domain.Job{}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		moved := s.quarantineLocked()
		return nil, errors.WithDetailf(
			errors.Wrapf(errors.ErrStoreCorrupt, "decode %s: %v", s.path, err),
			"original contents moved to %s", moved)
	}

	jobs := make([]domain.Job, 0, len(raw))
	skipped := 0
	for i, rec := range raw {
		var job domain.Job
		if err := json.Unmarshal(rec, &job); err != nil {
			s.log.Warnw("skipping unreadable job record", "index", i, logging.FieldError, err)
			skipped++
			continue
		}
		if job.ID == uuid.Nil || job.Schedule == "" {
			s.log.Warnw("skipping job record without id or schedule", "index", i)
			skipped++
			continue
		}
		jobs = append(jobs, job)
	}

	if skipped > 0 {
		return jobs, errors.Wrapf(errors.ErrStoreCorrupt, "%d of %d records skipped", skipped, len(raw))
	}
	return jobs, nil
}

// Save overwrites the file with a snapshot of jobs.
func (s *Store) Save(ctx context.Context, jobs []domain.Job) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrStoreWriteFailure, err.Error())
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return errors.Wrapf(errors.ErrStoreWriteFailure, "encode: %v", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(data)
}

// LastWriteDigest returns the sha256 of the bytes most recently written or
// loaded by this process.
func (s *Store) LastWriteDigest() ([sha256.Size]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digest, s.hasDigest
}

func (s *Store) writeLocked(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(errors.ErrStoreWriteFailure, "mkdir %s: %v", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(errors.ErrStoreWriteFailure, "create temp: %v", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStoreWriteFailure, "write temp: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStoreWriteFailure, "sync temp: %v", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStoreWriteFailure, "close temp: %v", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStoreWriteFailure, "rename: %v", err)
	}

	s.setDigestLocked(data)
	return nil
}

func (s *Store) setDigestLocked(data []byte) {
	s.digest = sha256.Sum256(data)
	s.hasDigest = true
}

// quarantineLocked moves an undecodable file out of the way so the next save
// does not destroy it. Returns the new path, or "" if the move failed.
func (s *Store) quarantineLocked() string {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, s.clock().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		s.log.Errorw("failed to move corrupt job file aside", logging.FieldPath, s.path, logging.FieldError, err)
		return ""
	}
	s.hasDigest = false
	s.log.Warnw("moved corrupt job file aside", logging.FieldPath, dst)
	return dst
}
