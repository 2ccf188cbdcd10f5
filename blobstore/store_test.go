package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfs "github.com/hupe1980/nodedb/internal/fs"
)

func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		_, err := store.Open(ctx, "missing.sdb")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put and read", func(t *testing.T) {
		data := []byte("hello world, this is a test blob for nodedb")
		require.NoError(t, store.Put(ctx, BlockName(1, 7), data))

		blob, err := store.Open(ctx, BlockName(1, 7))
		require.NoError(t, err)
		defer blob.Close()
		require.Equal(t, int64(len(data)), blob.Size())

		buf := make([]byte, 5)
		n, err := blob.ReadAt(buf, 6)
		require.NoError(t, err)
		require.Equal(t, 5, n)
		assert.Equal(t, "world", string(buf))

		all, err := ReadAll(ctx, store, BlockName(1, 7))
		require.NoError(t, err)
		assert.Equal(t, data, all)
	})

	t.Run("put replaces", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, CommonName, []byte("v1")))
		require.NoError(t, store.Put(ctx, CommonName, []byte("version two")))
		all, err := ReadAll(ctx, store, CommonName)
		require.NoError(t, err)
		assert.Equal(t, "version two", string(all))
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, BlockName(1, 2), []byte("x")))
		require.NoError(t, store.Put(ctx, BlockName(2, 0), []byte("y")))

		names, err := store.List(ctx, TypePrefix(1))
		require.NoError(t, err)
		assert.Equal(t, []string{"t1/b2.sdb", "t1/b7.sdb"}, names)

		names, err = store.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{CommonName, "t1/b2.sdb", "t1/b7.sdb", "t2/b0.sdb"}, names)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, BlockName(2, 0)))
		require.NoError(t, store.Delete(ctx, BlockName(2, 0)))
		_, err := store.Open(ctx, BlockName(2, 0))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	testStoreContract(t, NewLocalStore(dir))

	_, err := os.Stat(filepath.Join(dir, "t1", "b7.sdb"))
	require.NoError(t, err)
}

func TestLocalStore_FailedPutKeepsOldBlob(t *testing.T) {
	dir := t.TempDir()
	ffs := nfs.NewFaultyFS(nil)
	store := NewLocalStoreFS(dir, ffs)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, CommonName, []byte("good")))
	ffs.AddRule(CommonName, nfs.Fault{FailAfterBytes: -1, FailOnSync: true})

	err := store.Put(ctx, CommonName, []byte("bad content"))
	assert.ErrorIs(t, err, nfs.ErrInjected)

	all, err := ReadAll(ctx, store, CommonName)
	require.NoError(t, err)
	assert.Equal(t, "good", string(all))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{CommonName}, names)
}

func TestCachingStore(t *testing.T) {
	testStoreContract(t, NewCachingStore(NewMemoryStore(), 1<<20, nil))

	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCachingStore(inner, 1<<20, nil)
	require.NoError(t, store.Put(ctx, "a", []byte("first")))

	for range 3 {
		data, err := ReadAll(ctx, store, "a")
		require.NoError(t, err)
		assert.Equal(t, "first", string(data))
	}
	hits, misses := store.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(5), store.CachedBytes())

	require.NoError(t, store.Put(ctx, "a", []byte("second")))
	data, err := ReadAll(ctx, store, "a")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestBlockNames(t *testing.T) {
	name := BlockName(12, 345)
	assert.Equal(t, "t12/b345.sdb", name)

	typ, idx, ok := ParseBlockName(name)
	require.True(t, ok)
	assert.Equal(t, uint16(12), typ)
	assert.Equal(t, uint32(345), idx)

	for _, bad := range []string{CommonName, "t1/b.sdb", "tx/b1.sdb", "t1/b1.bin", "t70000/b1.sdb"} {
		_, _, ok := ParseBlockName(bad)
		assert.False(t, ok, bad)
	}
}

func TestMemoryStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "x", []byte{0x00}))
	assert.True(t, store.Corrupt("x", 0))
	assert.False(t, store.Corrupt("x", 1))
	data, err := ReadAll(ctx, store, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, data)
	assert.Equal(t, 1, store.Puts())
}
