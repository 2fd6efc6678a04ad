package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/kaelbrook/episodeid/pkg/log"
)

// Store holds the current validated Snapshot behind an atomic pointer:
// a reload validates first, then swaps; an existing snapshot is never
// mutated. An fsnotify watch on the file's directory drives reloads.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Load reads and validates path once, without starting a watch. Use
// NewStore for hot-reloading callers.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// NewStore loads path, validates it, and starts watching its directory
// for changes. Readers call Current() for a consistent point-in-time
// snapshot; a write that fails to parse/validate is logged and ignored,
// leaving the previously active snapshot in place.
func NewStore(path string) (*Store, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	s := &Store{path: path, watcher: watcher, done: make(chan struct{})}
	s.current.Store(snap)

	go s.watchLoop()
	return s, nil
}

// Current returns the currently active Snapshot. Safe for concurrent use.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Close stops the watch goroutine.
func (s *Store) Close() error {
	close(s.done)
	return s.watcher.Close()
}

func (s *Store) watchLoop() {
	base := filepath.Base(s.path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watch error: %v", err)
		}
	}
}

func (s *Store) reload() {
	snap, err := Load(s.path)
	if err != nil {
		log.Warn("config reload rejected, keeping previous snapshot: %v", err)
		return
	}
	if snap.ConcurrencyWarning != "" {
		log.Warn("%s", snap.ConcurrencyWarning)
	}
	s.current.Store(snap)
	log.Info("config reloaded from %s", s.path)
}
