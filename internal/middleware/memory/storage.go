// Package memory is an in-process TTL key/value store for the response cache.
package memory

import (
	"strings"
	"sync"
	"time"
)

type item struct {
	content   []byte
	expiresAt time.Time
}

// Storage is safe for concurrent use. Expired entries are evicted lazily on Get.
type Storage struct {
	mu    sync.RWMutex
	items map[string]item
}

// NewStorage ...
func NewStorage() *Storage {
	return &Storage{
		items: make(map[string]item),
	}
}

// Get returns the stored content or nil when the key is absent or stale.
func (s *Storage) Get(key string) []byte {
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	if time.Now().After(it.expiresAt) {
		s.mu.Lock()
		// re-check, a writer could have replaced the entry meanwhile
		if it, ok := s.items[key]; ok && time.Now().After(it.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil
	}

	return it.content
}

// Set unconditionally overwrites any entry for key.
func (s *Storage) Set(key string, content []byte, duration time.Duration) {
	s.mu.Lock()
	s.items[key] = item{
		content:   content,
		expiresAt: time.Now().Add(duration),
	}
	s.mu.Unlock()
}

// DeleteMatching removes every entry whose key contains pattern.
func (s *Storage) DeleteMatching(pattern string) {
	s.mu.Lock()
	for k := range s.items {
		if strings.Contains(k, pattern) {
			delete(s.items, k)
		}
	}
	s.mu.Unlock()
}

// Clear drops all entries.
func (s *Storage) Clear() {
	s.mu.Lock()
	s.items = make(map[string]item)
	s.mu.Unlock()
}
