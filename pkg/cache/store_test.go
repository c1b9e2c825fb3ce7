package cache

import (
	"testing"

	"github.com/nobletooth/tickcache/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		backend Backend
		want    any
	}{
		{backend: BackendMemory, want: &MemoryStore[string, int]{}},
		{backend: BackendClock, want: &ClockStore[string, int]{}},
		{backend: BackendNoOp, want: &NoOpStore[string, int]{}},
	}
	for _, test := range tests {
		t.Run(string(test.backend), func(t *testing.T) {
			store, err := NewStore[string, int](test.backend)
			require.NoError(t, err)
			assert.IsType(t, test.want, store)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := NewStore[string, int]("redis")
		assert.ErrorContains(t, err, "unknown cache backend 'redis'")
	})
}

func TestNewConfiguredStore(t *testing.T) {
	utils.SetTestFlags(t, map[string]string{
		"cache_backend":                "clock",
		"clock_store_default_capacity": "2",
	})
	store, err := NewConfiguredStore[string, string]()
	require.NoError(t, err)
	require.NoError(t, store.AddScope("scope", 0 /*maxItems*/))
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(newTestItem(t, "scope", key, key)))
	}
	stats, err := store.Statistics("scope")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Size)

	utils.SetTestFlags(t, map[string]string{"cache_backend": "memory", "store_shard_count": "3"})
	store, err = NewConfiguredStore[string, string]()
	require.NoError(t, err)
	require.NoError(t, store.AddScope("scope", 0 /*maxItems*/))
	stats, err = store.Statistics("scope")
	require.NoError(t, err)
	shards, _ := stats.Counter("shards")
	assert.Equal(t, int64(3), shards)
}
