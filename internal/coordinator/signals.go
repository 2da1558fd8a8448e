package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names recognized in the signals directory.
const (
	// SignalPause pauses task admission for the live run.
	SignalPause = "pause"
	// SignalResume resumes admission after a pause.
	SignalResume = "resume"
	// SignalStop stops the live run before the next admission.
	SignalStop = "stop"
)

// SignalWatcher turns marker files in a signals directory into pause
// controller actions, so another process can pause, resume, or stop a
// live run. Each marker is consumed (removed) after handling so a later
// run does not replay it.
type SignalWatcher struct {
	dir     string
	pause   *PauseController
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalWatcher creates the signals directory if needed, handles any
// markers already present, and starts watching for new ones.
func NewSignalWatcher(dir string, pause *PauseController) (*SignalWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create signal watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch signals directory: %w", err)
	}

	w := &SignalWatcher{
		dir:     dir,
		pause:   pause,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	// Markers written before the watcher started still count.
	w.sweep()

	go w.watch()
	return w, nil
}

// watch monitors the signals directory for marker files.
func (w *SignalWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 {
				w.handle(filepath.Base(event.Name))
			}
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// sweep handles markers already sitting in the directory.
func (w *SignalWatcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		w.handle(entry.Name())
	}
}

// handle applies one signal and consumes the marker file. Unknown file
// names are left alone.
func (w *SignalWatcher) handle(name string) {
	switch name {
	case SignalPause:
		w.pause.Pause()
	case SignalResume:
		w.pause.Resume()
	case SignalStop:
		w.pause.Stop()
	default:
		return
	}
	debugLog("[signals] handled %s", name)
	os.Remove(filepath.Join(w.dir, name))
}

// Close stops the watcher. The pause controller keeps its last state.
func (w *SignalWatcher) Close() {
	close(w.done)
	w.watcher.Close()
}

// Signal writes a marker file into a signals directory. Another process
// uses it to control a live run; the run's watcher consumes the marker.
func Signal(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
		return fmt.Errorf("write signal %s: %w", name, err)
	}
	return nil
}
