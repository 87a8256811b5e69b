package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/logging"
)

// DefaultDebounce groups the bursts of events editors produce for one save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports changes to a fixed set of settings files. The parent directories
// are watched so files that do not exist yet, or are replaced by rename, are seen.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	onChange func(path string)

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	done   chan struct{}
}

// NewWatcher starts watching files. onChange runs once per burst of events, with
// the path of the last file touched.
func NewWatcher(files []string, debounce time.Duration, onChange func(path string)) (*Watcher, error) {
	logger := logging.For(logging.TagSession)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create settings watcher: %w", err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		fsw:      fsw,
		files:    make(map[string]bool),
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, file := range files {
		if file == "" {
			continue
		}
		file = filepath.Clean(file)
		w.files[file] = true

		dir := filepath.Dir(file)
		if dirs[dir] {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			logger.Debug().Str("dir", dir).Msg("Settings directory does not exist, not watching")
			continue
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	logger.Debug().Int("files", len(w.files)).Int("dirs", len(dirs)).Msg("Watching settings files")

	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	logger := logging.For(logging.TagSession)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Settings file changed")
				w.schedule(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("Settings watcher error")
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			w.onChange(path)
		}
	})
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.done)
	w.mu.Unlock()

	return w.fsw.Close()
}
