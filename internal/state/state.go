package state

import (
	"container/list"
	"sync"
	"time"
)

// Store is a scoped key/value map with per-entry TTL and a per-scope LRU cap.
// It backs the dedupe and rate-limit records; all operations are atomic with
// respect to each other on the same instance.
type Store struct {
	mu     sync.Mutex
	scopes map[string]*scope
}

type scope struct {
	entries map[string]*list.Element
	order   *list.List // front = most recently saved/touched
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{scopes: make(map[string]*scope)}
}

func (s *Store) scopeFor(name string) *scope {
	sc, ok := s.scopes[name]
	if !ok {
		sc = &scope{entries: make(map[string]*list.Element), order: list.New()}
		s.scopes[name] = sc
	}
	return sc
}

// Load returns the value for (scope, key) if present and not expired.
// Stale entries are dropped at read.
func (s *Store) Load(scopeName, key string, now time.Time) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[scopeName]
	if !ok {
		return nil, false
	}
	el, ok := sc.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
		sc.order.Remove(el)
		delete(sc.entries, key)
		return nil, false
	}
	return e.value, true
}

// Save writes (scope, key) with an absolute expiry, enforcing the per-scope
// LRU cap by recency of save. maxEntries <= 0 means unbounded.
func (s *Store) Save(scopeName, key string, value any, expiresAt time.Time, maxEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc := s.scopeFor(scopeName)
	if el, ok := sc.entries[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		sc.order.MoveToFront(el)
	} else {
		el := sc.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
		sc.entries[key] = el
	}

	if maxEntries > 0 {
		for len(sc.entries) > maxEntries {
			oldest := sc.order.Back()
			if oldest == nil {
				break
			}
			e := oldest.Value.(*entry)
			sc.order.Remove(oldest)
			delete(sc.entries, e.key)
		}
	}
}

// Touch moves (scope, key) to the most-recently-used position without
// changing its value or expiry.
func (s *Store) Touch(scopeName, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc, ok := s.scopes[scopeName]; ok {
		if el, ok := sc.entries[key]; ok {
			sc.order.MoveToFront(el)
		}
	}
}

// Delete removes (scope, key) if present.
func (s *Store) Delete(scopeName, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc, ok := s.scopes[scopeName]; ok {
		if el, ok := sc.entries[key]; ok {
			sc.order.Remove(el)
			delete(sc.entries, key)
		}
	}
}

// Clear drops a whole scope.
func (s *Store) Clear(scopeName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, scopeName)
}

// Len reports the number of live entries in a scope.
func (s *Store) Len(scopeName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scopes[scopeName]; ok {
		return len(sc.entries)
	}
	return 0
}
