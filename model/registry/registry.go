package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Keyed is implemented by everything a Registry holds.
type Keyed interface {
	Key() string
}

// Registry is a catalog of definitions keyed case-insensitively by name.
// Registries are filled at startup and read concurrently afterwards.
type Registry[T Keyed] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New returns an empty registry.
func New[T Keyed]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register adds item to the registry. Names must be unique.
func (r *Registry[T]) Register(item T) error {
	name := strings.ToLower(item.Key())
	if name == "" {
		return fmt.Errorf("registry: you must provide a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[string]T)
	}
	if _, dup := r.items[name]; dup {
		return fmt.Errorf("registry: %s is already registered", item.Key())
	}
	r.items[name] = item
	return nil
}

// Get returns the item registered under name, ignoring case.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[strings.ToLower(name)]
	return item, ok
}

// All returns every registered item sorted by name.
func (r *Registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]T, 0, len(r.items))
	for _, item := range r.items {
		list = append(list, item)
	}
	sort.Slice(list, func(i, j int) bool {
		return strings.ToLower(list[i].Key()) < strings.ToLower(list[j].Key())
	})
	return list
}

// Reset removes every item.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]T)
}
