package nodedb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/nodedb/blobstore"
	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/sdb"
)

func TestCheckpointRestore(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	db := newGraphDB(t, WithStore(store), WithCompression(sdb.CompressionZstd), WithCheckpointWorkers(2))
	upsertPerson(t, db, 5, "early")
	upsertPerson(t, db, 150, "late")
	upsertPerson(t, db, 420, "later")
	_, err := db.AddReference(ctx, typePerson, 5, pFriends, 150)
	require.NoError(t, err)

	require.NoError(t, db.Checkpoint(ctx))
	assert.Zero(t, db.Stats().Dirty)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		blobstore.CommonName,
		blobstore.BlockName(uint16(typePerson), 0),
		blobstore.BlockName(uint16(typePerson), 1),
		blobstore.BlockName(uint16(typePerson), 4),
	}, names)

	// Nothing dirty: only the common dump is rewritten.
	puts := store.Puts()
	require.NoError(t, db.Checkpoint(ctx))
	assert.Equal(t, puts+1, store.Puts())

	restored := newDB(t, WithStore(store))
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, db.ID(), restored.ID())
	s := restored.Stats()
	assert.Equal(t, uint64(3), s.Nodes)
	assert.Zero(t, s.Resident)
	assert.Equal(t, 3, s.OnDisk)

	n, err := restored.FindNode(ctx, typePerson, 150)
	require.NoError(t, err)
	v, _ := n.String(pName)
	assert.Equal(t, "late", v)
	assert.Equal(t, []node.ID{5}, refs(t, restored, 150, pFriends))
	assert.Equal(t, 1, restored.Stats().InMemory)

	// Upsert into a block that is only in the store loads it first.
	_, created, err := restored.UpsertNode(ctx, typePerson, 6)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint64(4), restored.Stats().Nodes)
	assert.Equal(t, []node.ID{150}, refs(t, restored, 5, pFriends))

	require.NoError(t, restored.Preload(ctx, typePerson))
	assert.Equal(t, 3, restored.Stats().InMemory)
}

func TestCheckpointErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("NoStore", func(t *testing.T) {
		db := newGraphDB(t)
		assert.ErrorIs(t, db.Checkpoint(ctx), ErrNoStore)
		assert.ErrorIs(t, db.Restore(ctx), ErrNoStore)
	})

	t.Run("EmptyStore", func(t *testing.T) {
		db := newGraphDB(t, WithStore(blobstore.NewMemoryStore()))
		assert.ErrorIs(t, db.Restore(ctx), ErrNotFound)
	})

	t.Run("Cancelled", func(t *testing.T) {
		db := newGraphDB(t, WithStore(blobstore.NewMemoryStore()))
		upsertPerson(t, db, 1, "a")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, db.Checkpoint(cctx), context.Canceled)
		assert.Equal(t, 1, db.Stats().Dirty)
	})

	t.Run("CorruptBlockInStore", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		db := newGraphDB(t, WithStore(store))
		upsertPerson(t, db, 1, "a")
		require.NoError(t, db.Checkpoint(ctx))

		require.True(t, store.Corrupt(blobstore.BlockName(uint16(typePerson), 0), sdb.HeaderSize+40))

		restored := newDB(t, WithStore(store))
		require.NoError(t, restored.Restore(ctx))
		_, err := restored.FindNode(ctx, typePerson, 1)
		var le *sdb.LoadError
		assert.ErrorAs(t, err, &le)
		assert.Equal(t, 1, restored.LoadErrors().Len())
	})
}

func TestEviction(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	mc := &BasicMetricsCollector{}

	db := newGraphDB(t, WithStore(store), WithMetricsCollector(mc), WithMemoryLimit(1), WithSlabSize(4096))
	for id := node.ID(1); id <= 500; id += 50 {
		upsertPerson(t, db, id, "p")
	}
	// Dirty blocks are never evicted.
	assert.Zero(t, db.Evict(ctx))
	assert.Equal(t, uint64(10), db.Stats().Resident)

	require.NoError(t, db.Checkpoint(ctx))
	evicted := db.Evict(ctx)
	assert.Equal(t, 5, evicted)
	assert.Zero(t, db.Stats().Resident)
	assert.Equal(t, int64(5), mc.GetStats().EvictedBlocks)

	n, err := db.FindNode(ctx, typePerson, 101)
	require.NoError(t, err)
	v, _ := n.String(pName)
	assert.Equal(t, "p", v)

	t.Run("EvictBlock", func(t *testing.T) {
		dropped, err := db.EvictBlock(typePerson, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, dropped)

		upsertPerson(t, db, 201, "dirty")
		_, err = db.EvictBlock(typePerson, 2)
		assert.ErrorIs(t, err, node.ErrBlockDirty)
	})
}

func TestStoreCache(t *testing.T) {
	ctx := context.Background()
	db := newGraphDB(t, WithStore(blobstore.NewMemoryStore()), WithStoreCache(1<<20))
	cs, ok := db.opts.store.(*blobstore.CachingStore)
	require.True(t, ok)

	upsertPerson(t, db, 101, "cached")
	require.NoError(t, db.Checkpoint(ctx))

	for range 2 {
		_, err := db.EvictBlock(typePerson, 1)
		require.NoError(t, err)
		n, err := db.FindNode(ctx, typePerson, 101)
		require.NoError(t, err)
		v, _ := n.String(pName)
		assert.Equal(t, "cached", v)
	}
	hits, misses := cs.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
