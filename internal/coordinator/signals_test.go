package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSignalWatcherPauseResumeStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	pause := NewPauseController()

	watcher, err := NewSignalWatcher(dir, pause)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer watcher.Close()

	if err := Signal(dir, SignalPause); err != nil {
		t.Fatalf("failed to send pause: %v", err)
	}
	waitFor(t, "pause signal", pause.IsPaused)

	// The marker is consumed after handling.
	waitFor(t, "pause marker removal", func() bool {
		_, err := os.Stat(filepath.Join(dir, SignalPause))
		return os.IsNotExist(err)
	})

	if err := Signal(dir, SignalResume); err != nil {
		t.Fatalf("failed to send resume: %v", err)
	}
	waitFor(t, "resume signal", func() bool { return !pause.IsPaused() })

	if err := Signal(dir, SignalStop); err != nil {
		t.Fatalf("failed to send stop: %v", err)
	}
	waitFor(t, "stop signal", pause.IsStopped)
}

func TestSignalWatcherHandlesExistingMarkers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	if err := Signal(dir, SignalPause); err != nil {
		t.Fatalf("failed to write marker: %v", err)
	}

	pause := NewPauseController()
	watcher, err := NewSignalWatcher(dir, pause)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer watcher.Close()

	// The constructor sweeps markers already present.
	if !pause.IsPaused() {
		t.Error("expected pre-existing pause marker to be applied")
	}
	if _, err := os.Stat(filepath.Join(dir, SignalPause)); !os.IsNotExist(err) {
		t.Error("expected pre-existing marker to be consumed")
	}
}

func TestSignalWatcherIgnoresUnknownMarkers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	pause := NewPauseController()

	watcher, err := NewSignalWatcher(dir, pause)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer watcher.Close()

	if err := Signal(dir, "unrelated"); err != nil {
		t.Fatalf("failed to write marker: %v", err)
	}
	// A recognized signal after the unknown one proves the watcher kept
	// going.
	if err := Signal(dir, SignalPause); err != nil {
		t.Fatalf("failed to send pause: %v", err)
	}
	waitFor(t, "pause signal", pause.IsPaused)

	if _, err := os.Stat(filepath.Join(dir, "unrelated")); err != nil {
		t.Errorf("expected unknown marker to be left alone, stat: %v", err)
	}
	if pause.IsStopped() {
		t.Error("expected unknown marker to have no effect on run state")
	}
}

func TestSignalCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deep", "signals")

	if err := Signal(dir, SignalStop); err != nil {
		t.Fatalf("failed to signal into missing directory: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, SignalStop))
	if err != nil {
		t.Fatalf("failed to read marker: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected marker to carry a timestamp")
	}
}
