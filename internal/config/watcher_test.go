package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func watcherLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeWatchedConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestConfigWatcher_BasicReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeWatchedConfig(t, path, "[capture]\nprefix = \"scan\"\n")

	received := make(chan Settings, 1)
	watcher := NewConfigWatcher(
		path,
		LoadSettings,
		watcherLogger(),
		WithDebounce[Settings](50*time.Millisecond),
	)

	watcher.OnReload(func(s Settings) {
		select {
		case received <- s:
		default:
		}
	})

	if err := watcher.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	}()

	// Let the watcher settle before modifying the file.
	time.Sleep(100 * time.Millisecond)
	writeWatchedConfig(t, path, "[capture]\nprefix = \"invoice\"\n")

	select {
	case s := <-received:
		if s.Prefix != "invoice" {
			t.Errorf("got prefix %q, want invoice", s.Prefix)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_DebouncesRapidWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeWatchedConfig(t, path, "[capture]\nprefix = \"p0\"\n")

	var count atomic.Int32
	var last atomic.Value
	watcher := NewConfigWatcher(
		path,
		LoadSettings,
		watcherLogger(),
		WithDebounce[Settings](200*time.Millisecond),
	)

	watcher.OnReload(func(s Settings) {
		count.Add(1)
		last.Store(s.Prefix)
	})

	if err := watcher.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	for i := 1; i <= 5; i++ {
		writeWatchedConfig(t, path, fmt.Sprintf("[capture]\nprefix = \"p%d\"\n", i))
		time.Sleep(50 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := last.Load(); got != "p5" {
		t.Errorf("expected final prefix p5, got %v", got)
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeWatchedConfig(t, path, "[capture]\nprefix = \"scan\"\n")

	errorReceived := make(chan error, 1)
	configReceived := make(chan Settings, 1)

	watcher := NewConfigWatcher(
		path,
		LoadSettings,
		watcherLogger(),
		WithDebounce[Settings](50*time.Millisecond),
		WithErrorHandler[Settings](func(err error) {
			select {
			case errorReceived <- err:
			default:
			}
		}),
	)

	watcher.OnReload(func(s Settings) {
		select {
		case configReceived <- s:
		default:
		}
	})

	if err := watcher.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	writeWatchedConfig(t, path, "invalid toml [[[")

	select {
	case <-errorReceived:
		// Expected
	case <-configReceived:
		t.Fatal("config handler should not be called on error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeWatchedConfig(t, path, "[capture]\nprefix = \"scan\"\n")

	var count1, count2 atomic.Int32
	watcher := NewConfigWatcher(
		path,
		LoadSettings,
		watcherLogger(),
		WithDebounce[Settings](50*time.Millisecond),
	)

	watcher.OnReload(func(Settings) { count1.Add(1) })
	unsub := watcher.OnReload(func(Settings) { count2.Add(1) })

	if err := watcher.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	writeWatchedConfig(t, path, "[capture]\nprefix = \"a\"\n")
	time.Sleep(300 * time.Millisecond)

	unsub()

	writeWatchedConfig(t, path, "[capture]\nprefix = \"b\"\n")
	time.Sleep(300 * time.Millisecond)

	if got := count1.Load(); got != 2 {
		t.Errorf("handler1: expected 2 calls, got %d", got)
	}
	if got := count2.Load(); got != 1 {
		t.Errorf("handler2: expected 1 call, got %d", got)
	}
}

func TestConfigWatcher_StopSilencesHandlers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeWatchedConfig(t, path, "[capture]\nprefix = \"scan\"\n")

	var count atomic.Int32
	watcher := NewConfigWatcher(
		path,
		LoadSettings,
		watcherLogger(),
		WithDebounce[Settings](50*time.Millisecond),
	)

	watcher.OnReload(func(Settings) { count.Add(1) })

	if err := watcher.Start(); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := watcher.Stop(); err != nil {
		t.Fatal(err)
	}

	writeWatchedConfig(t, path, "[capture]\nprefix = \"late\"\n")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after stop, got %d", got)
	}
}
