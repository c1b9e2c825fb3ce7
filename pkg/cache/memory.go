// This module implements the memory store: every scope is a set of map shards. Since each shard has its own mutex,
// concurrent callers touching different keys of the same scope rarely wait on each other. The memory store has no
// eviction policy; the max item count of a scope is advisory only.

package cache

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/tickcache/pkg/utils"
)

// memoryShard is a plain map guarded by its own lock.
type memoryShard[K comparable, V any] struct {
	mux   sync.RWMutex
	items map[K]*Item[K, V]
}

// memoryScope distributes the keys of a single scope across shards.
type memoryScope[K comparable, V any] struct {
	maxItems int
	shards   []*memoryShard[K, V]
	hash     func(key K) uint64 // Helps choose the shard index.
	// removed is flipped while every shard lock is held, so a reader holding any shard lock sees a stable value.
	removed bool
}

func newMemoryScope[K comparable, V any](maxItems, shardCount int, hash func(K) uint64) *memoryScope[K, V] {
	scope := &memoryScope[K, V]{maxItems: maxItems, shards: make([]*memoryShard[K, V], shardCount), hash: hash}
	for i := range shardCount {
		scope.shards[i] = &memoryShard[K, V]{items: make(map[K]*Item[K, V])}
	}
	return scope
}

// getShard hashes the key and maps the hash to a shard index.
func (s *memoryScope[K, V]) getShard(key K) *memoryShard[K, V] {
	return s.shards[s.hash(key)%uint64(len(s.shards))]
}

// markRemoved flags the scope as removed and drops its items.
func (s *memoryScope[K, V]) markRemoved() {
	for _, shard := range s.shards {
		shard.mux.Lock()
	}
	s.removed = true
	for _, shard := range s.shards {
		shard.items = make(map[K]*Item[K, V])
		shard.mux.Unlock()
	}
}

// newKeyHasher picks a hash function for the key type once, to avoid type switches on every lookup.
func newKeyHasher[K comparable]() func(key K) uint64 {
	switch any(*new(K)).(type) {
	case string:
		return func(key K) uint64 {
			return xxhash.Sum64String(any(key).(string))
		}
	case int:
		return func(key K) uint64 {
			var b [8]byte
			// Since int's size is architecture-dependent, we should cast it to a fixed-size type before hashing.
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int)))
			return xxhash.Sum64(b[:])
		}
	case int32:
		return func(key K) uint64 {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(any(key).(int32)))
			return xxhash.Sum64(b[:])
		}
	case uint32:
		return func(key K) uint64 {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], any(key).(uint32))
			return xxhash.Sum64(b[:])
		}
	case int64:
		return func(key K) uint64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int64)))
			return xxhash.Sum64(b[:])
		}
	case uint64:
		return func(key K) uint64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], any(key).(uint64))
			return xxhash.Sum64(b[:])
		}
	default:
		return func(key K) uint64 {
			// Composite keys (structs, arrays, interfaces) are hashed field by field.
			digest := xxhash.New()
			hashValue(digest, reflect.ValueOf(&key).Elem())
			return digest.Sum64()
		}
	}
}

// hashValue feeds `v` into `digest` such that values equal under == produce the same hash.
func hashValue(digest *xxhash.Digest, v reflect.Value) {
	var buf [8]byte
	writeUint := func(u uint64) {
		binary.LittleEndian.PutUint64(buf[:], u)
		_, _ = digest.Write(buf[:])
	}
	// Adding zero turns -0 into +0, which compare equal.
	writeFloat := func(f float64) { writeUint(math.Float64bits(f + 0)) }

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			writeUint(1)
		} else {
			writeUint(0)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeUint(uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		writeUint(v.Uint())
	case reflect.Float32, reflect.Float64:
		writeFloat(v.Float())
	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		writeFloat(real(c))
		writeFloat(imag(c))
	case reflect.String:
		writeUint(uint64(v.Len()))
		_, _ = digest.WriteString(v.String())
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		writeUint(uint64(v.Pointer()))
	case reflect.Array:
		for i := range v.Len() {
			hashValue(digest, v.Index(i))
		}
	case reflect.Struct:
		for i := range v.NumField() {
			if v.Type().Field(i).Name == "_" { // Blank fields are ignored by ==.
				continue
			}
			hashValue(digest, v.Field(i))
		}
	case reflect.Interface:
		if v.IsNil() {
			writeUint(0)
			return
		}
		// Interface values are only equal when their dynamic types are identical.
		_, _ = digest.WriteString(v.Elem().Type().String())
		hashValue(digest, v.Elem())
	default:
		// Slices, maps and funcs are not comparable, so they can't be map keys in the first place.
		utils.RaiseInvariant("memory_store", "unhashable_key", "Got an incomparable key kind.", "kind", v.Kind())
	}
}

// MemoryStore keeps every item in memory until it's removed. It never evicts.
type MemoryStore[K comparable, V any] struct { // Implements Store.
	shardCount int
	hash       func(key K) uint64
	mux        sync.RWMutex // Guards the scope registry only; items are guarded by shard locks.
	scopes     map[string]*memoryScope[K, V]
}

var _ Store[string, int] = (*MemoryStore[string, int])(nil)

// NewMemoryStore is the constructor for MemoryStore. Each scope gets `shardCount` shards.
func NewMemoryStore[K comparable, V any](shardCount int) *MemoryStore[K, V] {
	// Ensure there is at least one shard.
	if shardCount <= 0 {
		utils.RaiseInvariant("memory_store", "non_positive_shard_count",
			"Invalid shard count has been given to memory store.", "shardCount", shardCount)
		shardCount = 1
	}
	return &MemoryStore[K, V]{
		shardCount: shardCount,
		hash:       newKeyHasher[K](),
		scopes:     make(map[string]*memoryScope[K, V]),
	}
}

func (m *MemoryStore[K, V]) getScope(name string) (*memoryScope[K, V], error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	scope, exists := m.scopes[name]
	if !exists {
		return nil, invalidScope(name)
	}
	return scope, nil
}

func (m *MemoryStore[K, V]) HasScope(name string) bool {
	_, err := m.getScope(name)
	return err == nil
}

func (m *MemoryStore[K, V]) Scopes() []string {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return slices.Sorted(maps.Keys(m.scopes))
}

func (m *MemoryStore[K, V]) AddScope(name string, maxItems int) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, exists := m.scopes[name]; exists {
		return fmt.Errorf("%w: scope %q already exists", ErrInvalidScope, name)
	}
	m.scopes[name] = newMemoryScope[K, V](maxItems, m.shardCount, m.hash)
	return nil
}

func (m *MemoryStore[K, V]) RemoveScope(name string) error {
	m.mux.Lock()
	scope, exists := m.scopes[name]
	delete(m.scopes, name)
	m.mux.Unlock()
	if !exists {
		return invalidScope(name)
	}
	scope.markRemoved()
	return nil
}

func (m *MemoryStore[K, V]) Size(scopeName string) (int, error) {
	scope, err := m.getScope(scopeName)
	if err != nil {
		return 0, err
	}
	size := 0
	for _, shard := range scope.shards {
		shard.mux.RLock()
		if scope.removed {
			shard.mux.RUnlock()
			return 0, invalidScope(scopeName)
		}
		size += len(shard.items)
		shard.mux.RUnlock()
	}
	return size, nil
}

// Keys aggregates the keys from all shards into a single slice.
func (m *MemoryStore[K, V]) Keys(scopeName string) ([]K, error) {
	scope, err := m.getScope(scopeName)
	if err != nil {
		return nil, err
	}
	keys := make([]K, 0)
	for _, shard := range scope.shards {
		shard.mux.RLock()
		if scope.removed {
			shard.mux.RUnlock()
			return nil, invalidScope(scopeName)
		}
		keys = slices.AppendSeq(keys, maps.Keys(shard.items))
		shard.mux.RUnlock()
	}
	return keys, nil
}

func (m *MemoryStore[K, V]) HasKey(scope string, key K) (bool, error) {
	_, found, err := m.Get(scope, key)
	return found, err
}

func (m *MemoryStore[K, V]) Get(scopeName string, key K) (*Item[K, V], bool, error) {
	scope, err := m.getScope(scopeName)
	if err != nil {
		return nil, false, err
	}
	shard := scope.getShard(key)
	shard.mux.RLock()
	defer shard.mux.RUnlock()
	if scope.removed {
		return nil, false, invalidScope(scopeName)
	}
	item, found := shard.items[key]
	return item, found, nil
}

// Peek is the same as Get; the memory store doesn't track accesses.
func (m *MemoryStore[K, V]) Peek(scope string, key K) (*Item[K, V], bool, error) {
	return m.Get(scope, key)
}

func (m *MemoryStore[K, V]) Put(item *Item[K, V]) error {
	scope, err := m.getScope(item.Scope())
	if err != nil {
		return err
	}
	shard := scope.getShard(item.Key())
	shard.mux.Lock()
	defer shard.mux.Unlock()
	if scope.removed {
		return invalidScope(item.Scope())
	}
	shard.items[item.Key()] = item
	return nil
}

func (m *MemoryStore[K, V]) Remove(scopeName string, key K) (bool, error) {
	scope, err := m.getScope(scopeName)
	if err != nil {
		return false, err
	}
	shard := scope.getShard(key)
	shard.mux.Lock()
	defer shard.mux.Unlock()
	if scope.removed {
		return false, invalidScope(scopeName)
	}
	_, found := shard.items[key]
	delete(shard.items, key)
	return found, nil
}

func (m *MemoryStore[K, V]) RemoveItem(item *Item[K, V]) (bool, error) {
	scope, err := m.getScope(item.Scope())
	if err != nil {
		return false, err
	}
	shard := scope.getShard(item.Key())
	shard.mux.Lock()
	defer shard.mux.Unlock()
	if scope.removed {
		return false, invalidScope(item.Scope())
	}
	if current, found := shard.items[item.Key()]; !found || current != item {
		return false, nil
	}
	delete(shard.items, item.Key())
	return true, nil
}

func (m *MemoryStore[K, V]) Clear(scopeName string) error {
	scope, err := m.getScope(scopeName)
	if err != nil {
		return err
	}
	scope.clear()
	return nil
}

func (m *MemoryStore[K, V]) ClearAll() error {
	m.mux.RLock()
	scopes := slices.Collect(maps.Values(m.scopes))
	m.mux.RUnlock()
	for _, scope := range scopes {
		scope.clear()
	}
	return nil
}

func (s *memoryScope[K, V]) clear() {
	for _, shard := range s.shards {
		shard.mux.Lock()
		clear(shard.items)
		shard.mux.Unlock()
	}
}

func (m *MemoryStore[K, V]) Statistics(scopeName string) (Statistics, error) {
	size, err := m.Size(scopeName)
	if err != nil {
		return Statistics{}, err
	}
	scope, err := m.getScope(scopeName)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{Size: size, Counters: map[string]int64{
		"shards":    int64(len(scope.shards)),
		"max_items": int64(scope.maxItems),
	}}, nil
}
