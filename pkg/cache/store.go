// Tickcache keeps derived values (parsed documents, merged descriptors, lookups) in named scopes.
// This module defines the storage contract behind the engine, so that a plain map, a bounded CLOCK cache and a
// disabled cache all look the same to the engine.

package cache

import (
	"flag"
	"fmt"
	"runtime"
)

// Store is a scoped key-value storage for cache items. Stores own concurrency and eviction-by-size; they know
// nothing about ticks. Implementations must be safe for concurrent use without external locking.
type Store[K comparable, V any] interface {
	HasScope(name string) bool
	Scopes() []string // Sorted scope names.
	// AddScope registers a new scope. Adding an existing scope fails with ErrInvalidScope.
	AddScope(name string, maxItems int) error
	// RemoveScope drops a scope along with all of its items.
	RemoveScope(name string) error
	Size(scope string) (int, error)
	Keys(scope string) ([]K, error)
	HasKey(scope string, key K) (bool, error)
	// Get returns the item stored under (scope, key) and whether it was found. Get counts as an access.
	Get(scope string, key K) (*Item[K, V], bool, error)
	// Peek is Get without counting as an access: no hit/miss counters, no recency for the eviction policy.
	Peek(scope string, key K) (*Item[K, V], bool, error)
	// Put stores or overwrites the item at (item.Scope(), item.Key()).
	Put(item *Item[K, V]) error
	// Remove returns true if an item was actually removed.
	Remove(scope string, key K) (bool, error)
	// RemoveItem removes `item` only if it is still the item stored under its key; a replaced item stays.
	RemoveItem(item *Item[K, V]) (bool, error)
	Clear(scope string) error
	// ClearAll drops the items of every scope; the scopes themselves remain registered.
	ClearAll() error
	Statistics(scope string) (Statistics, error)
}

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory Backend = "memory" // Sharded maps, no eviction.
	BackendClock  Backend = "clock"  // Bounded CLOCK cache per scope.
	BackendNoOp   Backend = "noop"   // Caching disabled.
)

var (
	backendFlag = flag.String("cache_backend", string(BackendClock),
		"Cache storage backend: memory/clock/noop.")
	shardCountFlag = flag.Int("store_shard_count", runtime.NumCPU(),
		"The number of shards per scope in the memory store.")
	defaultCapacityFlag = flag.Int("clock_store_default_capacity", 10_000,
		"The capacity of clock store scopes that are added without a max item count.")
)

// NewStore builds the store selected by `backend`.
func NewStore[K comparable, V any](backend Backend) (Store[K, V], error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore[K, V](*shardCountFlag), nil
	case BackendClock:
		return NewClockStore[K, V](*defaultCapacityFlag), nil
	case BackendNoOp:
		return NewNoOpStore[K, V](), nil
	default:
		return nil, fmt.Errorf("unknown cache backend '%s'", backend)
	}
}

// NewConfiguredStore builds the store selected by the --cache_backend flag.
func NewConfiguredStore[K comparable, V any]() (Store[K, V], error) {
	return NewStore[K, V](Backend(*backendFlag))
}
