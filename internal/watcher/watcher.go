package watcher

import (
	"errors"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/logging"
)

// Watcher errors.
var (
	// ErrClosed indicates the watcher has been closed.
	ErrClosed = errors.New("watcher closed")

	// ErrAlreadyWatching indicates the path is already watched.
	ErrAlreadyWatching = errors.New("already watching path")
)

// Event reports an external modification of a watched file.
type Event struct {
	// Path is the absolute file path that changed.
	Path string

	// At is when the (debounced) event fired.
	At time.Time
}

// Watcher observes the files backing open documents and reports external
// modifications. Rapid write bursts (editors often write in several chunks,
// or save via rename) are debounced per path so one logical save yields one
// event.
type Watcher struct {
	fsw   *fsnotify.Watcher
	delay time.Duration
	log   *logging.Logger

	mu      gosync.Mutex
	paths   map[string]bool
	pending map[string]*time.Timer
	closed  bool

	events  chan Event
	errors  chan error
	closeCh chan struct{}
	done    gosync.WaitGroup
}

// New creates a watcher with the given debounce delay.
func New(delay time.Duration, log *logging.Logger) (*Watcher, error) {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		delay:   delay,
		log:     log.WithComponent("watcher"),
		paths:   make(map[string]bool),
		pending: make(map[string]*time.Timer),
		events:  make(chan Event, 64),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}

	w.done.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch starts watching a file. The containing directory is registered with
// fsnotify so saves performed via rename (write temp, rename over target)
// are still observed.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.paths[abs] {
		return ErrAlreadyWatching
	}
	if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	w.paths[abs] = true
	return nil
}

// Unwatch stops watching a file.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.paths, abs)
	if t, ok := w.pending[abs]; ok {
		t.Stop()
		delete(w.pending, abs)
	}
	// The directory watch stays: other files in it may still be watched,
	// and fsnotify tolerates redundant watches.
}

// Events returns the debounced event channel.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.done.Wait()
	close(w.events)
	close(w.errors)
	return err
}

// processLoop consumes raw fsnotify events.
func (w *Watcher) processLoop() {
	defer w.done.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				// Channel full, drop error
			}
		}
	}
}

// handleEvent debounces a raw event for a watched file.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.paths[abs] {
		return
	}

	if t, ok := w.pending[abs]; ok {
		t.Reset(w.delay)
		return
	}
	w.pending[abs] = time.AfterFunc(w.delay, func() {
		w.fireEvent(abs)
	})
}

// fireEvent delivers a debounced event.
func (w *Watcher) fireEvent(path string) {
	w.mu.Lock()
	if _, ok := w.pending[path]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	closed := w.closed
	w.mu.Unlock()

	if closed {
		return
	}

	select {
	case w.events <- Event{Path: path, At: time.Now()}:
	case <-w.closeCh:
	default:
		w.log.Warn("event channel full, dropping change for %s", path)
	}
}
