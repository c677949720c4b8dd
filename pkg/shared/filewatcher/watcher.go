// Package filewatcher notifies listeners when a single file changes on disk.
package filewatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent describes one (debounced) change of the watched file.
type ChangeEvent struct {
	Path      string
	Timestamp time.Time
	Error     error // set when the underlying watcher reported an error
}

// ChangeListener receives change notifications.
type ChangeListener interface {
	OnFileChange(event ChangeEvent)
}

// Watcher watches the directory containing a file and reports changes to
// that file only. Watching the directory instead of the file keeps working
// when editors or Kubernetes ConfigMaps replace the file by rename.
type Watcher struct {
	fs        *fsnotify.Watcher
	path      string
	debounce  time.Duration
	mu        sync.RWMutex
	listeners []ChangeListener
}

// NewWatcher creates a watcher for filePath. Bursts of events within
// debounce are collapsed into one notification.
func NewWatcher(filePath string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("filewatcher: failed to resolve %s: %w", filePath, err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatcher: failed to create watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("filewatcher: failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{fs: fs, path: abs, debounce: debounce}, nil
}

// AddListener registers a listener.
func (w *Watcher) AddListener(l ChangeListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// Start blocks until ctx is cancelled or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) error {
	var (
		timer   *time.Timer
		pending = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pending:
			w.notify(ChangeEvent{Path: w.path, Timestamp: time.Now()})

		case ev, ok := <-w.fs.Events:
			if !ok {
				return errors.New("filewatcher: event channel closed")
			}
			if !w.relevant(ev) {
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

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("filewatcher: error channel closed")
			}
			w.notify(ChangeEvent{Path: w.path, Timestamp: time.Now(), Error: err})
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	name, err := filepath.Abs(ev.Name)
	if err != nil || name != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// notify delivers an event to every listener on its own goroutine so a slow
// reload never stalls the watch loop.
func (w *Watcher) notify(ev ChangeEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, l := range w.listeners {
		go l.OnFileChange(ev)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
