package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/nobletooth/tickcache/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClockStore(t *testing.T, capacity int) *ClockStore[int, string] {
	t.Helper()
	store := NewClockStore[int, string](100 /*defaultCapacity*/)
	require.NoError(t, store.AddScope("scope", capacity))
	return store
}

func putInt(t *testing.T, store Store[int, string], key int, value string) {
	t.Helper()
	item, err := NewItem("scope", key, value, 0 /*now*/, Forever[int, string]())
	require.NoError(t, err)
	require.NoError(t, store.Put(item))
}

func hasInt(t *testing.T, store Store[int, string], key int) bool {
	t.Helper()
	found, err := store.HasKey("scope", key)
	require.NoError(t, err)
	return found
}

func TestClockStore_UpdateKey(t *testing.T) {
	store := newTestClockStore(t, 2 /*capacity*/)
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")
	putInt(t, store, 1, "uno")

	item, found, err := store.Get("scope", 1)
	require.NoError(t, err)
	assert.True(t, found, "Key should be present after update")
	assert.Equal(t, "uno", item.Value(), "Value should be the updated value")
	assert.True(t, hasInt(t, store, 2), "Other key should not be affected by an update")
	stats, err := store.Statistics("scope")
	require.NoError(t, err)
	evictions, _ := stats.Counter("evictions")
	assert.Zero(t, evictions, "Should not evict on update")
}

func TestClockStore_EvictionPolicy(t *testing.T) {
	store := newTestClockStore(t, 2 /*capacity*/)
	evictionsBefore := utils.CounterValue(storeEvictions.WithLabelValues(string(BackendClock)))

	// Fill the scope.
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")

	// Add a third item, which should trigger an eviction since the scope is full.
	putInt(t, store, 3, "three")
	_, found, err := store.Get("scope", 1)
	require.NoError(t, err)
	assert.False(t, found, "Item 1 should have been evicted")
	_, found, err = store.Get("scope", 2)
	require.NoError(t, err)
	assert.True(t, found, "Item 2 should not be evicted")
	item, found, err := store.Get("scope", 3)
	require.NoError(t, err)
	assert.True(t, found, "Item 3 should be in the scope")
	assert.Equal(t, "three", item.Value())

	// Both items are referenced now; the hand clears their bits and evicts the first one it sees twice.
	putInt(t, store, 4, "four")
	assert.False(t, hasInt(t, store, 2), "Item 2 should have been evicted")
	assert.True(t, hasInt(t, store, 3), "Item 3 should not be evicted")
	assert.True(t, hasInt(t, store, 4), "Item 4 should be in the scope")

	size, err := store.Size("scope")
	require.NoError(t, err)
	assert.Equal(t, 2, size)
	assert.Equal(t, evictionsBefore+2, utils.CounterValue(storeEvictions.WithLabelValues(string(BackendClock))))
}

func TestClockStore_SecondChance(t *testing.T) {
	store := newTestClockStore(t, 3 /*capacity*/)
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")
	putInt(t, store, 3, "three")

	// Referencing item 1 protects it from the next eviction.
	_, _, err := store.Get("scope", 1)
	require.NoError(t, err)
	putInt(t, store, 4, "four")
	assert.True(t, hasInt(t, store, 1), "Referenced item should get a second chance")
	assert.False(t, hasInt(t, store, 2), "First unreferenced item should be evicted")
	assert.True(t, hasInt(t, store, 3))
	assert.True(t, hasInt(t, store, 4))
}

func TestClockStore_HasKeyIsNotAnAccess(t *testing.T) {
	store := newTestClockStore(t, 2 /*capacity*/)
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")
	assert.True(t, hasInt(t, store, 1))

	putInt(t, store, 3, "three")
	assert.False(t, hasInt(t, store, 1), "HasKey shouldn't set the reference bit")

	stats, err := store.Statistics("scope")
	require.NoError(t, err)
	hits, _ := stats.Counter("hits")
	misses, _ := stats.Counter("misses")
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestClockStore_PeekIsNotAnAccess(t *testing.T) {
	store := newTestClockStore(t, 2 /*capacity*/)
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")
	item, found, err := store.Peek("scope", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "one", item.Value())

	putInt(t, store, 3, "three")
	assert.False(t, hasInt(t, store, 1), "Peek shouldn't set the reference bit")
	stats, err := store.Statistics("scope")
	require.NoError(t, err)
	hits, _ := stats.Counter("hits")
	assert.Zero(t, hits)
}

func TestClockStore_TickIsNotAnAccess(t *testing.T) {
	store := NewClockStore[string, string](100 /*defaultCapacity*/)
	engine := NewEngine[string, string](store, NewOrderedRefresher[string, string]())
	require.NoError(t, engine.AddScope("s", 2 /*maxItems*/))
	require.NoError(t, engine.Put("s", "hot", "v"))
	require.NoError(t, engine.Put("s", "cold", "v"))
	_, found, err := engine.Get("s", "hot")
	require.NoError(t, err)
	require.True(t, found)

	report := engine.Tick(context.Background())
	assert.Equal(t, 2, report.Swept)
	stats, err := engine.Statistics("s")
	require.NoError(t, err)
	hits, _ := stats.Counter("hits")
	assert.Equal(t, int64(1), hits, "Sweeping shouldn't count as hits")

	require.NoError(t, engine.Put("s", "new", "v"))
	hasHot, err := engine.HasKey("s", "hot")
	require.NoError(t, err)
	hasCold, err := engine.HasKey("s", "cold")
	require.NoError(t, err)
	assert.True(t, hasHot, "The item read by a caller should survive the eviction")
	assert.False(t, hasCold, "The unread item should be evicted")
}

func TestClockStore_RemoveMovesHand(t *testing.T) {
	store := newTestClockStore(t, 2 /*capacity*/)
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")
	putInt(t, store, 3, "three") // Evicts 1; the hand now points at 2.

	removed, err := store.Remove("scope", 2)
	require.NoError(t, err)
	assert.True(t, removed)

	putInt(t, store, 4, "four") // There is room again, nothing is evicted.
	assert.True(t, hasInt(t, store, 3))
	assert.True(t, hasInt(t, store, 4))

	putInt(t, store, 5, "five")
	assert.False(t, hasInt(t, store, 3), "The hand should have moved on to item 3")
	assert.True(t, hasInt(t, store, 4))
	assert.True(t, hasInt(t, store, 5))
}

func TestClockStore_RemoveLastItem(t *testing.T) {
	store := newTestClockStore(t, 1 /*capacity*/)
	putInt(t, store, 1, "one")
	removed, err := store.Remove("scope", 1)
	require.NoError(t, err)
	assert.True(t, removed)

	putInt(t, store, 2, "two")
	putInt(t, store, 3, "three")
	assert.False(t, hasInt(t, store, 2))
	assert.True(t, hasInt(t, store, 3))
}

func TestClockStore_ClearResetsRing(t *testing.T) {
	store := newTestClockStore(t, 2 /*capacity*/)
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")
	require.NoError(t, store.Clear("scope"))

	putInt(t, store, 3, "three")
	putInt(t, store, 4, "four")
	assert.True(t, hasInt(t, store, 3))
	assert.True(t, hasInt(t, store, 4))
	size, err := store.Size("scope")
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestClockStore_Statistics(t *testing.T) {
	store := newTestClockStore(t, 2 /*capacity*/)
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")
	putInt(t, store, 3, "three")
	_, _, err := store.Get("scope", 1) // Miss.
	require.NoError(t, err)
	_, _, err = store.Get("scope", 3) // Hit.
	require.NoError(t, err)

	stats, err := store.Statistics("scope")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, map[string]int64{"capacity": 2, "hits": 1, "misses": 1, "evictions": 1}, stats.Counters)
}

func TestClockStore_DefaultCapacity(t *testing.T) {
	store := NewClockStore[int, string](3 /*defaultCapacity*/)
	require.NoError(t, store.AddScope("scope", 0 /*maxItems*/))
	for i := range 10 {
		putInt(t, store, i, fmt.Sprint(i))
	}
	size, err := store.Size("scope")
	require.NoError(t, err)
	assert.Equal(t, 3, size, "Scopes without a max item count should get the default capacity")
}

func TestClockStore_InvalidDefaultCapacity(t *testing.T) {
	before := utils.GetMetricValue("clock_store" /*module*/, "non_positive_capacity" /*invariantType*/)
	store := NewClockStore[int, string](0 /*defaultCapacity*/)
	assert.Equal(t, before+1, utils.GetMetricValue("clock_store", "non_positive_capacity"))
	require.NoError(t, store.AddScope("scope", 0 /*maxItems*/))
	putInt(t, store, 1, "one")
	putInt(t, store, 2, "two")
	size, err := store.Size("scope")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestClockStore_ConcurrentEviction(t *testing.T) {
	capacity := 50
	store := newTestClockStore(t, capacity)
	numGoroutines, opsPerGoroutine := 10, 200
	var wg sync.WaitGroup
	for g := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range opsPerGoroutine {
				key := g*opsPerGoroutine + i
				item, err := NewItem("scope", key, fmt.Sprint(key), 0 /*now*/, Forever[int, string]())
				assert.NoError(t, err)
				assert.NoError(t, store.Put(item))
				if got, found, err := store.Get("scope", key); assert.NoError(t, err) && found {
					assert.Equal(t, fmt.Sprint(key), got.Value())
				}
			}
		}()
	}
	wg.Wait()
	size, err := store.Size("scope")
	require.NoError(t, err)
	assert.Equal(t, capacity, size, "The scope should stay full but never exceed its capacity")
	keys, err := store.Keys("scope")
	require.NoError(t, err)
	assert.Len(t, keys, capacity)
}

func TestClockStore_KeysFollowTheRing(t *testing.T) {
	store := NewClockStore[string, int](3 /*defaultCapacity*/)
	require.NoError(t, store.AddScope("scope", 0 /*maxItems*/))
	for i, key := range []string{"a", "b", "c"} {
		item, err := NewItem("scope", key, i, 0 /*now*/, Forever[string, int]())
		require.NoError(t, err)
		require.NoError(t, store.Put(item))
	}
	keys, err := store.Keys("scope")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	// "d" takes over the slot of "a", the first unreferenced entry under the hand.
	item, err := NewItem("scope", "d", 3, 0 /*now*/, Forever[string, int]())
	require.NoError(t, err)
	require.NoError(t, store.Put(item))
	keys, err = store.Keys("scope")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b", "c"}, keys)

	removed, err := store.Remove("scope", "d")
	require.NoError(t, err)
	require.True(t, removed)
	keys, err = store.Keys("scope")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, keys)
}
