package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/visionaid-ai/visionaid/internal/config"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "wake:\n  phrase: hey vision\n")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Wake.Phrase; got != "hey vision" {
		t.Fatalf("Current().Wake.Phrase = %q", got)
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "memory:\n  persist: true\n")

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher accepted invalid config")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "voice:\n  id: alloy\n")

	var mu sync.Mutex
	var got *config.Config
	onChange := func(_, new *config.Config) {
		mu.Lock()
		got = new
		mu.Unlock()
	}

	w, err := config.NewWatcher(path, onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdated mtime guarantees the poller sees a change even on coarse
	// filesystem clocks.
	writeConfigFile(t, path, "voice:\n  id: nova\n")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := got != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("onChange never fired")
	}
	if got.Voice.ID != "nova" {
		t.Fatalf("reloaded Voice.ID = %q, want nova", got.Voice.ID)
	}
	if w.Current().Voice.ID != "nova" {
		t.Fatalf("Current() not updated after reload")
	}
}

func TestWatcherKeepsOldConfigOnInvalidReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "voice:\n  id: alloy\n")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, "voice:\n  speed: 9.9\n")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Voice.ID; got != "alloy" {
		t.Fatalf("Current().Voice.ID = %q, want the last valid config retained", got)
	}
}
