package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCache no cache is registered under the requested name
var ErrUnknownCache = errors.New("unknown cache")

// Registry holds the named caches that can be cleared administratively.
type Registry struct {
	lock   sync.RWMutex
	caches map[string]*Cache
}

// NewRegistry returns a Registry holding caches.
func NewRegistry(caches ...*Cache) *Registry {
	r := &Registry{caches: map[string]*Cache{}}
	for _, c := range caches {
		r.Register(c)
	}
	return r
}

// Register adds c under its name, replacing any cache of the same name.
func (r *Registry) Register(c *Cache) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.caches[c.Name()] = c
}

// Get looks up a cache by name.
func (r *Registry) Get(name string) (*Cache, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	c, ok := r.caches[name]
	return c, ok
}

// Clear evicts every entry of the named cache.
func (r *Registry) Clear(name string) error {
	c, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("clear [%v]: %w", name, ErrUnknownCache)
	}
	c.Clear()
	return nil
}

// Names the registered cache names, sorted
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
