package cache

import (
	"maps"
	"slices"
	"sync"
)

// NoOpStore is a store that doesn't keep any items. It is used when caching is disabled.
// Scopes are still tracked so that unknown scopes fail the same way they do with a real store.
type NoOpStore[K comparable, V any] struct { // Implements Store.
	mux    sync.RWMutex
	scopes map[string]struct{}
}

var _ Store[int, int] = (*NoOpStore[int, int])(nil)

// NewNoOpStore returns a store that drops every item.
func NewNoOpStore[K comparable, V any]() *NoOpStore[K, V] {
	return &NoOpStore[K, V]{scopes: make(map[string]struct{})}
}

func (n *NoOpStore[K, V]) checkScope(scope string) error {
	n.mux.RLock()
	defer n.mux.RUnlock()
	if _, exists := n.scopes[scope]; !exists {
		return invalidScope(scope)
	}
	return nil
}

func (n *NoOpStore[K, V]) HasScope(name string) bool {
	return n.checkScope(name) == nil
}

func (n *NoOpStore[K, V]) Scopes() []string {
	n.mux.RLock()
	defer n.mux.RUnlock()
	return slices.Sorted(maps.Keys(n.scopes))
}

func (n *NoOpStore[K, V]) AddScope(name string, _ int) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	if _, exists := n.scopes[name]; exists {
		return invalidScope(name)
	}
	n.scopes[name] = struct{}{}
	return nil
}

func (n *NoOpStore[K, V]) RemoveScope(name string) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	if _, exists := n.scopes[name]; !exists {
		return invalidScope(name)
	}
	delete(n.scopes, name)
	return nil
}

// Size is always zero.
func (n *NoOpStore[K, V]) Size(scope string) (int, error) {
	return 0, n.checkScope(scope)
}

// Keys always returns nil, as there are no keys stored.
func (n *NoOpStore[K, V]) Keys(scope string) ([]K, error) {
	return nil, n.checkScope(scope)
}

func (n *NoOpStore[K, V]) HasKey(scope string, _ K) (bool, error) {
	return false, n.checkScope(scope)
}

// Get always misses.
func (n *NoOpStore[K, V]) Get(scope string, _ K) (*Item[K, V], bool, error) {
	return nil, false, n.checkScope(scope)
}

func (n *NoOpStore[K, V]) Peek(scope string, _ K) (*Item[K, V], bool, error) {
	return nil, false, n.checkScope(scope)
}

// Put validates the scope and drops the item.
func (n *NoOpStore[K, V]) Put(item *Item[K, V]) error {
	return n.checkScope(item.Scope())
}

func (n *NoOpStore[K, V]) Remove(scope string, _ K) (bool, error) {
	return false, n.checkScope(scope)
}

func (n *NoOpStore[K, V]) RemoveItem(item *Item[K, V]) (bool, error) {
	return false, n.checkScope(item.Scope())
}

func (n *NoOpStore[K, V]) Clear(scope string) error {
	return n.checkScope(scope)
}

// ClearAll does nothing, as there are no items to remove.
func (n *NoOpStore[K, V]) ClearAll() error {
	return nil
}

func (n *NoOpStore[K, V]) Statistics(scope string) (Statistics, error) {
	if err := n.checkScope(scope); err != nil {
		return Statistics{}, err
	}
	return Statistics{Size: 0, Counters: map[string]int64{}}, nil
}
