package session

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Manager keeps sessions by id. With an idle TTL, sessions untouched for that
// long are evicted and handed to the eviction callback first.
type Manager struct {
	mu      sync.Mutex
	cache   *cache.Cache
	idleTTL time.Duration
}

// NewManager creates a registry. idleTTL <= 0 keeps sessions for the process lifetime.
func NewManager(idleTTL time.Duration, onEvict func(*Session)) *Manager {
	ttl := cache.NoExpiration
	var cleanup time.Duration
	if idleTTL > 0 {
		ttl = idleTTL
		cleanup = max(idleTTL/2, time.Second)
	}

	c := cache.New(ttl, cleanup)
	if onEvict != nil {
		c.OnEvicted(func(_ string, v any) {
			if s, ok := v.(*Session); ok {
				onEvict(s)
			}
		})
	}
	return &Manager{cache: c, idleTTL: idleTTL}
}

// Get returns the session for id, creating it on first use, and refreshes its idle timer.
func (m *Manager) Get(id string) *Session {
	if id == "" {
		id = DefaultID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.Get(id); ok {
		s := v.(*Session)
		m.cache.SetDefault(id, s)
		return s
	}
	// An expired entry still sitting in the cache must go through the eviction
	// callback before a fresh session replaces it.
	if m.idleTTL > 0 {
		m.cache.DeleteExpired()
	}
	s := New(id)
	m.cache.SetDefault(id, s)
	return s
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.cache.ItemCount()
}

// Each calls fn for every live session.
func (m *Manager) Each(fn func(*Session)) {
	for _, item := range m.cache.Items() {
		if s, ok := item.Object.(*Session); ok {
			fn(s)
		}
	}
}

// Evict removes a session, running the eviction callback.
func (m *Manager) Evict(id string) {
	m.cache.Delete(id)
}

// Sweep evicts expired sessions now instead of waiting for the janitor.
func (m *Manager) Sweep() {
	m.cache.DeleteExpired()
}
