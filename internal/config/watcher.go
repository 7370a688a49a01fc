package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RulesWatcher watches a rules file and invokes a reload callback when the
// file changes. Editors and config management tools often replace the file
// (rename + create) rather than writing in place, so the watch is on the
// parent directory.
type RulesWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	reload  func(path string) error

	// debounce collapses the write bursts some editors produce.
	debounce time.Duration
}

// NewRulesWatcher creates a watcher for the given rules file.
func NewRulesWatcher(path string, reload func(path string) error) (*RulesWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rules path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	return &RulesWatcher{
		path:     absPath,
		watcher:  watcher,
		reload:   reload,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Run processes file events until the context is canceled. A failed reload
// is logged and the previous rule set stays in effect.
func (w *RulesWatcher) Run(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config: rules watcher error: %v", err)
		case <-pending:
			if err := w.reload(w.path); err != nil {
				log.Printf("config: rules reload failed, keeping previous rules: %v", err)
			} else {
				log.Printf("config: rules reloaded from %s", w.path)
			}
		}
	}
}

// Close stops the watcher.
func (w *RulesWatcher) Close() error {
	return w.watcher.Close()
}
