package batchverify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockCacheInsertRejectsOutOfOrder(t *testing.T) {
	cache := NewBlockCache()
	require.NoError(t, cache.Insert(5, CachedBlock{}))
	require.NoError(t, cache.Insert(6, CachedBlock{}))
	require.Error(t, cache.Insert(8, CachedBlock{}))
}

func TestBlockCacheGetAndRemoveBelow(t *testing.T) {
	cache := NewBlockCache()
	require.NoError(t, cache.Insert(5, CachedBlock{}))
	require.NoError(t, cache.Insert(6, CachedBlock{}))
	require.NoError(t, cache.Insert(7, CachedBlock{}))

	_, ok := cache.Get(6)
	require.True(t, ok)

	cache.RemoveBelow(7)
	_, ok = cache.Get(5)
	require.False(t, ok)
	_, ok = cache.Get(6)
	require.False(t, ok)
	_, ok = cache.Get(7)
	require.True(t, ok)
}
