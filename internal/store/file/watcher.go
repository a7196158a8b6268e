package file

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/logging"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reports edits to the job file made by other processes. The
// registry owns the job set while running, so such edits are never loaded;
// the owner is told so it can write memory back over them.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	log      *zap.SugaredLogger
	debounce time.Duration
	onChange func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the directory holding the store's file. Watching the
// directory rather than the file survives the rename on every save.
func NewWatcher(store *Store, log *zap.SugaredLogger) (*Watcher, error) {
	if log == nil {
		log = logging.Nop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	dir := filepath.Dir(store.Path())
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, errors.Wrapf(err, "watch %s", dir)
	}
	return &Watcher{
		store:    store,
		watcher:  fw,
		log:      log,
		debounce: defaultDebounce,
	}, nil
}

// OnExternalChange registers fn to run after each detected foreign edit.
// Must be called before Run.
func (w *Watcher) OnExternalChange(fn func()) {
	w.onChange = fn
}

// Run processes file events until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.watcher.Close()
	}()

	target := w.store.Path()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("job file watcher error", logging.FieldError, err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.check)
}

func (w *Watcher) check() {
	data, err := os.ReadFile(w.store.Path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.log.Warnw("job file unreadable after change", logging.FieldPath, w.store.Path(), logging.FieldError, err)
		}
		return
	}

	last, ok := w.store.LastWriteDigest()
	if ok && sha256.Sum256(data) == last {
		return
	}

	w.log.Warnw("job file changed outside cronhook; the edit is not loaded and will be overwritten",
		logging.FieldPath, w.store.Path())
	if w.onChange != nil {
		w.onChange()
	}
}
