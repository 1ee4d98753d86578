// Package storage defines the key/value contract the session layer
// persists credentials through. Backends are pluggable; they must
// notify watchers on every change so reactive session state stays
// consistent when another writer (e.g. a second browsing context)
// touches the same key.
package storage

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// CancelFunc unregisters a watcher. Safe to call more than once.
type CancelFunc func()

// Store is a string key/value store with change notification.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Watch registers fn to be called after every change to key.
	// ok is false when the key was deleted.
	Watch(key string, fn func(value string, ok bool)) CancelFunc
}

// WatchSet tracks per-key watchers for Store implementations.
// The zero value is ready to use.
type WatchSet struct {
	mu      sync.Mutex
	nextID  int
	entries map[string]map[int]func(string, bool)
}

// Add registers fn for key and returns a cancel function.
func (w *WatchSet) Add(key string, fn func(value string, ok bool)) CancelFunc {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.entries == nil {
		w.entries = make(map[string]map[int]func(string, bool))
	}
	if w.entries[key] == nil {
		w.entries[key] = make(map[int]func(string, bool))
	}
	id := w.nextID
	w.nextID++
	w.entries[key][id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.entries[key], id)
	}
}

// Notify invokes every watcher registered for key. Watchers run on the
// caller's goroutine, outside any backend lock.
func (w *WatchSet) Notify(key, value string, ok bool) {
	w.mu.Lock()
	fns := make([]func(string, bool), 0, len(w.entries[key]))
	for _, fn := range w.entries[key] {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(value, ok)
	}
}
