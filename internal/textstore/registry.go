package textstore

import "sync"

// StoreID is a weak reference to a TextStore. Deferred work holds the ID and
// resolves it through the Registry, so a destroyed store is simply not found.
type StoreID uint64

// Registry maps live stores to their IDs.
type Registry struct {
	mu     sync.RWMutex
	next   StoreID
	stores map[StoreID]*TextStore
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[StoreID]*TextStore)}
}

func (r *Registry) register(s *TextStore) StoreID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.stores[r.next] = s
	return r.next
}

func (r *Registry) unregister(id StoreID) {
	r.mu.Lock()
	delete(r.stores, id)
	r.mu.Unlock()
}

// Lookup returns the store registered under id, or nil.
func (r *Registry) Lookup(id StoreID) *TextStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores[id]
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}
