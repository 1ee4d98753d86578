// Package memory provides a thread-safe in-memory implementation of
// storage.Store. It is the default backend; credentials do not survive
// process restart.
package memory

import (
	"sync"

	"github.com/jmcleod/webseal/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
type Store struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers storage.WatchSet
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()

	s.watchers.Notify(key, value, true)
	return nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()

	if existed {
		s.watchers.Notify(key, "", false)
	}
	return nil
}

func (s *Store) Watch(key string, fn func(value string, ok bool)) storage.CancelFunc {
	return s.watchers.Add(key, fn)
}
