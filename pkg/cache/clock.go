// This module implements the clock store, a bounded store keeping every scope under its max item count.
// Eviction Policy (CLOCK Algorithm):
// Each scope keeps a circular ring of entries and a "hand" that sweeps over them. When the scope is full and a new
// item needs to be added, the hand checks the entry it's pointing to:
//   - If the entry's reference bit is 'true', it sets it to 'false' and moves to the next entry.
//     This gives the entry a "second chance".
//   - If the entry's reference bit is 'false', it evicts that entry and replaces it with the new one.
//
// Expiration is not handled here; the engine expires items in tick sweeps and removes them explicitly.

package cache

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nobletooth/tickcache/pkg/utils"
)

// clockEntry represents a single slot of the ring.
type clockEntry[K comparable, V any] struct {
	item *Item[K, V]
	// ref is the reference bit for the CLOCK algorithm. A value of 'true' indicates the entry has been recently
	// accessed and should be given a "second chance" before eviction. It's atomic since Get flips it under a
	// read lock.
	ref atomic.Bool
}

// clockScope is a fixed-capacity CLOCK cache holding the items of one scope.
type clockScope[K comparable, V any] struct {
	capacity int
	mux      sync.RWMutex
	removed  bool // Set once the scope is removed from the store; guarded by mux.
	// hand is the "clock hand" that points to the next candidate for eviction in the ring.
	hand  *ringNode[*clockEntry[K, V]]
	index map[K]*ringNode[*clockEntry[K, V]] // Provides lookup for an entry by its key.
	ring  clockRing[*clockEntry[K, V]]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func newClockScope[K comparable, V any](capacity int) *clockScope[K, V] {
	return &clockScope[K, V]{capacity: capacity, index: make(map[K]*ringNode[*clockEntry[K, V]], capacity)}
}

// get marks the entry as referenced when found.
func (s *clockScope[K, V]) get(key K) (*Item[K, V], bool, bool /*removed*/) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if s.removed {
		return nil, false, true
	}
	node, found := s.index[key]
	if !found {
		s.misses.Add(1)
		return nil, false, false
	}
	node.Value.ref.Store(true)
	s.hits.Add(1)
	return node.Value.item, true, false
}

// put inserts or replaces an item. It returns the evicted item if the scope was full.
func (s *clockScope[K, V]) put(item *Item[K, V]) *Item[K, V] {
	// Update existing entry.
	if node, found := s.index[item.Key()]; found {
		node.Value.item = item
		node.Value.ref.Store(false)
		return nil
	}

	// Add new entry (if scope is not full).
	if s.ring.Len() < s.capacity {
		s.index[item.Key()] = s.ring.PushBack(&clockEntry[K, V]{item: item})
		// Initialize clock hand if it's the first element.
		if s.hand == nil {
			s.hand = s.ring.Front()
		}
		return nil
	}

	// Eviction loop (if scope is full). This loop implements the CLOCK (Second-Chance) algorithm.
	for {
		node := s.hand
		entry := node.Value
		if !entry.ref.Load() {
			// Evict this entry and reuse its slot for the new item.
			evicted := entry.item
			delete(s.index, evicted.Key())
			entry.item = item
			entry.ref.Store(false)
			s.index[item.Key()] = node
			s.hand = s.ring.Next(node)
			s.evictions.Add(1)
			return evicted
		}
		// If the entry was referenced, give it a second chance by clearing its reference bit.
		entry.ref.Store(false)
		s.hand = s.ring.Next(node)
	}
}

func (s *clockScope[K, V]) remove(key K) bool {
	node, found := s.index[key]
	if !found {
		return false
	}
	delete(s.index, key)
	next := s.ring.Remove(node)
	// The hand must never point to a removed node.
	if s.hand == node {
		s.hand = next
	}
	return true
}

func (s *clockScope[K, V]) clear() {
	s.ring = clockRing[*clockEntry[K, V]]{}
	s.index = make(map[K]*ringNode[*clockEntry[K, V]], s.capacity)
	s.hand = nil
}

// ClockStore is a bounded store: every scope holds at most its max item count, evicting with the CLOCK algorithm.
type ClockStore[K comparable, V any] struct { // Implements Store.
	defaultCapacity int // Used for scopes added without a max item count.
	mux             sync.RWMutex
	scopes          map[string]*clockScope[K, V]
}

var _ Store[string, int] = (*ClockStore[string, int])(nil)

// NewClockStore is the constructor for ClockStore.
func NewClockStore[K comparable, V any](defaultCapacity int) *ClockStore[K, V] {
	if defaultCapacity <= 0 {
		utils.RaiseInvariant("clock_store", "non_positive_capacity",
			"Invalid default capacity has been given to clock store.", "capacity", defaultCapacity)
		defaultCapacity = 1
	}
	return &ClockStore[K, V]{defaultCapacity: defaultCapacity, scopes: make(map[string]*clockScope[K, V])}
}

func (c *ClockStore[K, V]) getScope(name string) (*clockScope[K, V], error) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	scope, exists := c.scopes[name]
	if !exists {
		return nil, invalidScope(name)
	}
	return scope, nil
}

// withScope runs `fn` under the write lock of the scope.
func (c *ClockStore[K, V]) withScope(name string, fn func(scope *clockScope[K, V])) error {
	scope, err := c.getScope(name)
	if err != nil {
		return err
	}
	scope.mux.Lock()
	defer scope.mux.Unlock()
	if scope.removed {
		return invalidScope(name)
	}
	fn(scope)
	return nil
}

// withScopeRead runs `fn` under the read lock of the scope.
func (c *ClockStore[K, V]) withScopeRead(name string, fn func(scope *clockScope[K, V])) error {
	scope, err := c.getScope(name)
	if err != nil {
		return err
	}
	scope.mux.RLock()
	defer scope.mux.RUnlock()
	if scope.removed {
		return invalidScope(name)
	}
	fn(scope)
	return nil
}

func (c *ClockStore[K, V]) HasScope(name string) bool {
	_, err := c.getScope(name)
	return err == nil
}

func (c *ClockStore[K, V]) Scopes() []string {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return slices.Sorted(maps.Keys(c.scopes))
}

func (c *ClockStore[K, V]) AddScope(name string, maxItems int) error {
	capacity := maxItems
	if capacity <= 0 {
		capacity = c.defaultCapacity
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	if _, exists := c.scopes[name]; exists {
		return fmt.Errorf("%w: scope %q already exists", ErrInvalidScope, name)
	}
	c.scopes[name] = newClockScope[K, V](capacity)
	return nil
}

func (c *ClockStore[K, V]) RemoveScope(name string) error {
	c.mux.Lock()
	scope, exists := c.scopes[name]
	delete(c.scopes, name)
	c.mux.Unlock()
	if !exists {
		return invalidScope(name)
	}
	scope.mux.Lock()
	defer scope.mux.Unlock()
	scope.removed = true
	scope.clear()
	return nil
}

func (c *ClockStore[K, V]) Size(scope string) (int, error) {
	size := 0
	err := c.withScopeRead(scope, func(s *clockScope[K, V]) { size = s.ring.Len() })
	return size, err
}

// Keys lists the keys in ring order, oldest slot first.
func (c *ClockStore[K, V]) Keys(scope string) ([]K, error) {
	var keys []K
	err := c.withScopeRead(scope, func(s *clockScope[K, V]) {
		entries := s.ring.Values()
		keys = make([]K, 0, len(entries))
		for _, entry := range entries {
			keys = append(keys, entry.item.Key())
		}
	})
	return keys, err
}

// HasKey doesn't count as an access; it neither sets the reference bit nor moves the hit counters.
func (c *ClockStore[K, V]) HasKey(scope string, key K) (bool, error) {
	found := false
	err := c.withScopeRead(scope, func(s *clockScope[K, V]) { _, found = s.index[key] })
	return found, err
}

func (c *ClockStore[K, V]) Get(scopeName string, key K) (*Item[K, V], bool, error) {
	scope, err := c.getScope(scopeName)
	if err != nil {
		return nil, false, err
	}
	item, found, removed := scope.get(key)
	if removed {
		return nil, false, invalidScope(scopeName)
	}
	return item, found, nil
}

// Peek doesn't count as an access, just like HasKey.
func (c *ClockStore[K, V]) Peek(scope string, key K) (*Item[K, V], bool, error) {
	var item *Item[K, V]
	found := false
	err := c.withScopeRead(scope, func(s *clockScope[K, V]) {
		if node, exists := s.index[key]; exists {
			item, found = node.Value.item, true
		}
	})
	return item, found, err
}

func (c *ClockStore[K, V]) Put(item *Item[K, V]) error {
	var evicted *Item[K, V]
	if err := c.withScope(item.Scope(), func(s *clockScope[K, V]) { evicted = s.put(item) }); err != nil {
		return err
	}
	if evicted != nil {
		storeEvictions.WithLabelValues(string(BackendClock)).Inc()
		slog.Debug("Clock store evicted an item.", "scope", evicted.Scope(), "key", evicted.Key())
	}
	return nil
}

func (c *ClockStore[K, V]) Remove(scope string, key K) (bool, error) {
	removed := false
	err := c.withScope(scope, func(s *clockScope[K, V]) { removed = s.remove(key) })
	return removed, err
}

func (c *ClockStore[K, V]) RemoveItem(item *Item[K, V]) (bool, error) {
	removed := false
	err := c.withScope(item.Scope(), func(s *clockScope[K, V]) {
		if node, exists := s.index[item.Key()]; exists && node.Value.item == item {
			removed = s.remove(item.Key())
		}
	})
	return removed, err
}

func (c *ClockStore[K, V]) Clear(scope string) error {
	return c.withScope(scope, func(s *clockScope[K, V]) { s.clear() })
}

func (c *ClockStore[K, V]) ClearAll() error {
	for _, name := range c.Scopes() {
		// A scope removed since the listing has nothing left to clear.
		_ = c.Clear(name)
	}
	return nil
}

func (c *ClockStore[K, V]) Statistics(scope string) (Statistics, error) {
	var stats Statistics
	err := c.withScopeRead(scope, func(s *clockScope[K, V]) {
		stats = Statistics{Size: s.ring.Len(), Counters: map[string]int64{
			"capacity":  int64(s.capacity),
			"hits":      s.hits.Load(),
			"misses":    s.misses.Load(),
			"evictions": s.evictions.Load(),
		}}
	})
	return stats, err
}
