package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestRulesWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var reloads atomic.Int32
	w, err := NewRulesWatcher(path, func(string) error {
		reloads.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher a moment to start consuming events.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("rules: []\n# updated\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for reloads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reload callback never fired after a file write")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRulesWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var reloads atomic.Int32
	w, err := NewRulesWatcher(path, func(string) error {
		reloads.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	if n := reloads.Load(); n != 0 {
		t.Errorf("reloads = %d, sibling file changes must be ignored", n)
	}
}
