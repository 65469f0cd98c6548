// Package store provides an in-process SharedStore. Values handed to Compute
// callbacks must not be mutated in place.
package store

import (
	"sync"

	"github.com/winlab/sdnproxy/state"
)

type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

var _ state.SharedStore[string, int] = (*Map[string, int])(nil)

func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

func (s *Map[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Compute replaces the value of key with fn(old) while holding the write lock.
func (s *Map[K, V]) Compute(key K, fn func(old V, ok bool) V) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.m[key]
	v := fn(old, ok)
	s.m[key] = v
	return v
}

func (s *Map[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// Range iterates over a snapshot, so fn may call back into the map.
func (s *Map[K, V]) Range(fn func(key K, value V) bool) {
	s.mu.RLock()
	snapshot := make([]state.Pair[K, V], 0, len(s.m))
	for k, v := range s.m {
		snapshot = append(snapshot, state.Pair[K, V]{V1: k, V2: v})
	}
	s.mu.RUnlock()
	for _, p := range snapshot {
		if !fn(p.V1, p.V2) {
			return
		}
	}
}

func (s *Map[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
