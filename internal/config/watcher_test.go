package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes yaml to path with an mtime bump so the watcher's cheap
// modification check always fires.
func writeConfig(t *testing.T, path, yaml string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	future := time.Now().Add(time.Duration(len(yaml)) * time.Millisecond)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("bump mtime: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxgate.yaml")
	writeConfig(t, path, validYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	defer w.Stop()

	if got := w.Current().Session.Greeting; got != "Hello, thanks for calling!" {
		t.Errorf("greeting = %q", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxgate.yaml")
	writeConfig(t, path, "not: [valid")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Error("NewWatcher() = nil for an invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxgate.yaml")
	writeConfig(t, path, validYAML)

	changes := make(chan ConfigDiff, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		select {
		case changes <- Diff(old, new):
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	defer w.Stop()

	updated := strings.Replace(validYAML,
		`greeting: "Hello, thanks for calling!"`,
		`greeting: "Welcome aboard!"`, 1)
	if updated == validYAML {
		t.Fatal("greeting line not found in fixture")
	}
	writeConfig(t, path, updated)

	select {
	case d := <-changes:
		if !d.GreetingChanged || d.NewGreeting != "Welcome aboard!" {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("change never observed")
	}

	if got := w.Current().Session.Greeting; got != "Welcome aboard!" {
		t.Errorf("Current() greeting = %q", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidUpdate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxgate.yaml")
	writeConfig(t, path, validYAML)

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(_, _ *Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "asr:\n  provider: azure\n") // fails validation

	select {
	case <-called:
		t.Fatal("onChange fired for an invalid config")
	case <-time.After(100 * time.Millisecond):
	}

	if got := w.Current().ASR.Provider; got != "azure" {
		t.Errorf("Current() asr.provider = %q, want the last valid config", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxgate.yaml")
	writeConfig(t, path, validYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	w.Stop()
	w.Stop()
}
