package signals

import (
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns filesystem events in the signals directory into wake-ups for
// Checkers. It only shortens waits; missing an event delays a signal by at
// most one poll interval.
type Watcher struct {
	watcher *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
}

// Watch starts watching the store's directory and its process subdirectories.
// When fsnotify is unavailable a Watcher with a nil channel is returned and
// callers fall back to plain polling.
func Watch(store *Store) *Watcher {
	w := &Watcher{done: make(chan struct{})}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[signals] fsnotify unavailable, polling only: %v", err)
		return w
	}
	if err := fw.Add(store.Dir()); err != nil {
		log.Printf("[signals] watch %s: %v", store.Dir(), err)
		fw.Close()
		return w
	}
	if entries, err := os.ReadDir(store.Dir()); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = fw.Add(filepath.Join(store.Dir(), e.Name()))
			}
		}
	}
	w.watcher = fw
	w.wake = make(chan struct{}, 1)
	go w.run()
	return w
}

// C returns the wake-up channel, nil when not watching.
func (w *Watcher) C() <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.wake
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil || w.watcher == nil {
		return nil
	}
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
