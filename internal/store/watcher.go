package store

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// selfWriteWindow is how recently the store itself must have written for a
// filesystem event to be attributed to our own atomic replace rather than an
// out-of-process editor.
const selfWriteWindow = 750 * time.Millisecond

// debounceWindow coalesces bursts of events (an external sync tool rewriting
// many record artifacts) into a single invalidation.
const debounceWindow = 500 * time.Millisecond

// Watcher invalidates the store caches when another process modifies the
// artifacts on disk. Records live under dataDir/memories and the index and
// embeddings artifacts at the top level, so both directories are watched.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	log     zerolog.Logger
	done    chan struct{}
}

// NewWatcher starts watching the store's data directory. Call Close to stop.
func NewWatcher(s *Store, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(s.dataDir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Join(s.dataDir, "memories")); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{store: s, watcher: fw, log: log, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("artifact watcher error")
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, func() {
				w.log.Info().Str("path", ev.Name).Msg("external artifact change, reloading")
				w.store.Invalidate()
			})
		}
	}
}

// relevant filters out temp files from our own atomic writes and any event
// that lands inside the self-write window.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
		return false
	}
	last := w.store.lastWrite.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < selfWriteWindow {
		return false
	}
	return true
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
