package node

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/nodedb/schema"
)

func newTestType(t *testing.T, b *schema.Builder) *Type {
	t.Helper()
	s, err := schema.Compile(b.MustBuild())
	require.NoError(t, err)
	typ := NewType(1, s, Options{SlabSize: 4096})
	t.Cleanup(typ.Destroy)
	return typ
}

func mustUpsert(t *testing.T, typ *Type, id ID) *Node {
	t.Helper()
	n, _, err := typ.Upsert(id)
	require.NoError(t, err)
	return n
}

func TestType_UpsertFind(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(100).String(8, "x"))

	n, created, err := typ.Upsert(5)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ID(5), n.ID())

	again, created, err := typ.Upsert(5)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, n, again)

	got, st := typ.Find(5)
	assert.Same(t, n, got)
	assert.True(t, st.InMemory())
	assert.True(t, st.Dirty())

	s, err := n.String(0)
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	got, st = typ.Find(6)
	assert.Nil(t, got)
	assert.True(t, st.InMemory())

	got, st = typ.Find(500)
	assert.Nil(t, got)
	assert.Equal(t, Status(0), st)

	_, _, err = typ.Upsert(0)
	assert.ErrorIs(t, err, ErrInvalidNodeID)
	_, _, err = typ.Upsert(schema.MaxNodeID + 1)
	assert.ErrorIs(t, err, ErrInvalidNodeID)
	got, _ = typ.Find(0)
	assert.Nil(t, got)

	assert.Equal(t, uint64(1), typ.Count())
}

func collectForward(typ *Type) []ID {
	var ids []ID
	for n := typ.Min(); n != nil; n = typ.Next(n) {
		ids = append(ids, n.ID())
	}
	return ids
}

func collectBackward(typ *Type) []ID {
	var ids []ID
	for n := typ.Max(); n != nil; n = typ.Prev(n) {
		ids = append(ids, n.ID())
	}
	return ids
}

func TestType_InsertOrderEquivalence(t *testing.T) {
	ids := make([]ID, 0, 300)
	for i := ID(1); i <= 1000; i += 3 {
		ids = append(ids, i)
	}

	sorted := newTestType(t, schema.NewBuilder(50).String(4, ""))
	for _, id := range ids {
		mustUpsert(t, sorted, id)
	}

	shuffled := newTestType(t, schema.NewBuilder(50).String(4, ""))
	perm := append([]ID(nil), ids...)
	rand.New(rand.NewPCG(7, 7)).Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	for _, id := range perm {
		mustUpsert(t, shuffled, id)
	}

	assert.Equal(t, ids, collectForward(sorted))
	assert.Equal(t, collectForward(sorted), collectForward(shuffled))
	assert.Equal(t, collectBackward(sorted), collectBackward(shuffled))
	assert.Equal(t, sorted.Max().ID(), shuffled.Max().ID())

	var all []ID
	for n := range shuffled.All() {
		all = append(all, n.ID())
	}
	assert.Equal(t, ids, all)
}

func TestType_TraversalAcrossEmptyBlocks(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(10).String(4, ""))
	for _, id := range []ID{3, 55, 56, 999} {
		mustUpsert(t, typ, id)
	}

	assert.Equal(t, []ID{3, 55, 56, 999}, collectForward(typ))
	assert.Equal(t, []ID{999, 56, 55, 3}, collectBackward(typ))

	n, _ := typ.NFind(4)
	require.NotNil(t, n)
	assert.Equal(t, ID(55), n.ID())
	n, _ = typ.NFind(56)
	assert.Equal(t, ID(56), n.ID())
	n, _ = typ.NFind(1000)
	assert.Nil(t, n)
}

func TestType_BlockIsolation(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(10).String(4, ""))
	for id := ID(1); id <= 30; id++ {
		n := mustUpsert(t, typ, id)
		require.NoError(t, n.SetString(0, "v"))
	}
	for idx := uint32(0); idx < 3; idx++ {
		typ.MarkSaved(idx, uint64(idx))
	}

	// Delete everything in block 1.
	for id := ID(11); id <= 20; id++ {
		n, _ := typ.Find(id)
		typ.Delete(n)
	}
	assert.Equal(t, StatusInMemory|StatusOnDisk|StatusDirty, typ.BlockStatus(1))
	for _, idx := range []uint32{0, 2} {
		assert.Equal(t, StatusInMemory|StatusOnDisk, typ.BlockStatus(idx))
		assert.Equal(t, 10, typ.Block(idx).Len())
	}

	// Unload block 2.
	dropped, err := typ.UnloadBlock(2)
	require.NoError(t, err)
	assert.Equal(t, 10, dropped)
	assert.Equal(t, StatusOnDisk, typ.BlockStatus(2))
	assert.Equal(t, StatusInMemory|StatusOnDisk, typ.BlockStatus(0))
	assert.Equal(t, 10, typ.Block(0).Len())
	assert.Equal(t, uint32(10), typ.Block(2).Count())
	assert.Equal(t, uint64(20), typ.Count())
	assert.Equal(t, uint64(10), typ.Resident())

	n, _ := typ.Find(5)
	s, err := n.String(0)
	require.NoError(t, err)
	assert.Equal(t, "v", s)
	assert.Equal(t, ID(10), typ.Max().ID())
}

func TestType_LoadLifecycle(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(10).String(4, ""))

	typ.SetOnDisk(0, 3, 42)
	assert.Equal(t, StatusOnDisk, typ.BlockStatus(0))
	assert.Equal(t, uint64(3), typ.Count())

	_, _, err := typ.Upsert(1)
	assert.ErrorIs(t, err, ErrBlockNotLoaded)
	n, st := typ.Find(1)
	assert.Nil(t, n)
	assert.True(t, st.NeedsLoad())
	n, st = typ.NFind(1)
	assert.Nil(t, n)
	assert.True(t, st.NeedsLoad())

	t.Run("abort", func(t *testing.T) {
		typ.BeginLoad(0)
		mustUpsert(t, typ, 1)
		mustUpsert(t, typ, 2)
		typ.AbortLoad(0)

		assert.Equal(t, StatusOnDisk, typ.BlockStatus(0))
		assert.Equal(t, uint64(3), typ.Count())
		assert.Zero(t, typ.Resident())
		assert.Nil(t, typ.Min())
	})

	t.Run("complete", func(t *testing.T) {
		typ.BeginLoad(0)
		for id := ID(1); id <= 3; id++ {
			mustUpsert(t, typ, id)
		}
		typ.EndLoad(0)

		assert.Equal(t, StatusInMemory|StatusOnDisk, typ.BlockStatus(0))
		assert.Equal(t, uint64(3), typ.Count())
		assert.Equal(t, uint64(42), typ.Block(0).DiskHash())
	})

	t.Run("abort restores unused block", func(t *testing.T) {
		typ.BeginLoad(5)
		mustUpsert(t, typ, 51)
		typ.AbortLoad(5)

		assert.Equal(t, Status(0), typ.BlockStatus(5))
		assert.Equal(t, uint64(3), typ.Count())
		n, created, err := typ.Upsert(52)
		require.NoError(t, err)
		assert.True(t, created)
		typ.Delete(n)
	})

	t.Run("dirty block refuses unload", func(t *testing.T) {
		require.NoError(t, typ.MarkDirty(2))
		_, err := typ.UnloadBlock(0)
		assert.ErrorIs(t, err, ErrBlockDirty)
	})
}

func TestNode_Fields(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(10).
		MicroBuffer(4, []byte{9, 9, 9, 9}).
		String(6, "").
		Reference(2, schema.NoInverse, 0).
		String(0, "def").
		Text().
		Alias())
	n := mustUpsert(t, typ, 1)

	t.Run("micro buffer", func(t *testing.T) {
		v, err := n.MicroBuffer(0)
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 9, 9, 9}, v)

		require.NoError(t, n.SetMicroBuffer(0, []byte{1, 2}))
		v, _ = n.MicroBuffer(0)
		assert.Equal(t, []byte{1, 2}, v)
		assert.ErrorIs(t, n.SetMicroBuffer(0, make([]byte, 5)), ErrValueTooLarge)

		require.NoError(t, n.DeleteField(0))
		v, _ = n.MicroBuffer(0)
		assert.Equal(t, []byte{9, 9, 9, 9}, v)
	})

	t.Run("fixed string", func(t *testing.T) {
		require.NoError(t, n.SetString(1, "abc"))
		s, _ := n.String(1)
		assert.Equal(t, "abc", s)
		assert.ErrorIs(t, n.SetString(1, "toolong"), ErrValueTooLarge)
		require.NoError(t, n.DeleteField(1))
		s, _ = n.String(1)
		assert.Empty(t, s)
	})

	t.Run("reference", func(t *testing.T) {
		prev, err := n.SetReference(2, 7)
		require.NoError(t, err)
		assert.Zero(t, prev)
		dst, _ := n.Reference(2)
		assert.Equal(t, ID(7), dst)
		val, _ := n.Value(2)
		assert.Len(t, val, 8)
	})

	t.Run("dynamic string and text", func(t *testing.T) {
		s, _ := n.String(3)
		assert.Equal(t, "def", s)
		assert.False(t, n.IsSet(3))

		require.NoError(t, n.SetString(3, "hello"))
		require.NoError(t, n.SetText(4, "some longer text"))
		require.NoError(t, n.SetString(3, "a much longer value that relocates"))
		s, _ = n.String(3)
		assert.Equal(t, "a much longer value that relocates", s)
		txt, _ := n.Text(4)
		assert.Equal(t, "some longer text", txt)

		require.NoError(t, n.DeleteField(3))
		assert.False(t, n.IsSet(3))
		s, _ = n.String(3)
		assert.Equal(t, "def", s)

		n.compact()
		txt, _ = n.Text(4)
		assert.Equal(t, "some longer text", txt)
		assert.Equal(t, regionHeader+align8(len(txt)), n.DynamicSize())
	})

	t.Run("type errors", func(t *testing.T) {
		_, err := n.Text(0)
		assert.ErrorIs(t, err, ErrFieldType)
		_, err = n.String(99)
		assert.ErrorIs(t, err, ErrNoField)
		_, err = n.Value(5)
		assert.ErrorIs(t, err, ErrFieldType)
	})

	t.Run("value round trip", func(t *testing.T) {
		other := mustUpsert(t, typ, 2)
		for i := 0; i < 5; i++ {
			if !n.IsSet(i) {
				continue
			}
			v, err := n.Value(i)
			require.NoError(t, err)
			require.NoError(t, other.SetValue(i, v))
			w, _ := other.Value(i)
			assert.Equal(t, v, w, "field %d", i)
		}
	})
}

func TestNode_References(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(10).
		References(1, schema.NoInverse, 0, 3).
		References(1, schema.NoInverse, schema.EdgeArray, 0))
	n := mustUpsert(t, typ, 1)

	for _, id := range []ID{5, 2, 9} {
		added, err := n.AddReference(0, id)
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := n.AddReference(0, 5)
	require.NoError(t, err)
	assert.False(t, added)

	refs, _ := n.References(0)
	assert.Equal(t, []ID{2, 5, 9}, refs)

	_, err = n.AddReference(0, 11)
	assert.ErrorIs(t, err, ErrCapacity)
	_, err = n.AddReference(0, 0)
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	removed, _ := n.RemoveReference(0, 5)
	assert.True(t, removed)
	has, _ := n.HasReference(0, 5)
	assert.False(t, has)

	for _, id := range []ID{4, 4, 1} {
		_, err := n.AddReference(1, id)
		require.NoError(t, err)
	}
	refs, _ = n.References(1)
	assert.Equal(t, []ID{4, 4, 1}, refs)
	removed, _ = n.RemoveReference(1, 4)
	assert.True(t, removed)
	refs, _ = n.References(1)
	assert.Equal(t, []ID{4, 1}, refs)

	// Set field is untouched by growth of its neighbour.
	refs, _ = n.References(0)
	assert.Equal(t, []ID{2, 9}, refs)
}

func TestNode_SharedFields(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(10).Text())
	n := mustUpsert(t, typ, 1)
	require.NoError(t, n.SetText(0, "before"))

	shared := n.ShareFields()
	assert.True(t, n.SharedFields())
	assert.Equal(t, int32(2), shared.Refs())
	snapshot := append([]byte(nil), shared.Bytes()...)

	require.NoError(t, n.SetText(0, "after!"))
	assert.False(t, n.SharedFields())
	assert.Equal(t, snapshot, shared.Bytes())
	txt, _ := n.Text(0)
	assert.Equal(t, "after!", txt)
	assert.Equal(t, int32(1), shared.Refs())
	shared.Release()

	// Sole holder takes the buffer back without copying.
	s2 := n.ShareFields()
	s2.Release()
	require.NoError(t, n.SetText(0, "again!"))
	assert.False(t, n.SharedFields())
}

func TestNode_Visit(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(10).Text())
	n := mustUpsert(t, typ, 1)
	assert.True(t, n.Visit(1))
	assert.False(t, n.Visit(1))
	assert.True(t, n.Visit(2))
	assert.Equal(t, uint64(2), n.Label())
}

func TestType_Aliases(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(10).Text().Alias().Aliases())
	mustUpsert(t, typ, 1)
	mustUpsert(t, typ, 2)

	require.NoError(t, typ.SetAlias(1, "one", 1))
	require.NoError(t, typ.SetAlias(1, "uno", 1)) // replaces "one"
	_, ok := typ.ResolveAlias(1, "one")
	assert.False(t, ok)
	id, ok := typ.ResolveAlias(1, "uno")
	assert.True(t, ok)
	assert.Equal(t, ID(1), id)

	require.NoError(t, typ.SetAlias(2, "b", 2))
	require.NoError(t, typ.SetAlias(2, "a", 2))
	assert.Equal(t, []string{"a", "b"}, typ.AliasesOf(2, 2))
	assert.ErrorIs(t, typ.SetAlias(2, "a", 1), ErrAliasTaken)
	assert.ErrorIs(t, typ.SetAlias(2, "", 1), ErrInvalidAlias)
	assert.ErrorIs(t, typ.SetAlias(2, "z", 3), ErrNodeNotFound)
	assert.ErrorIs(t, typ.SetAlias(0, "z", 1), ErrFieldType)

	id, ok = typ.ResolveAnyAlias("a")
	assert.True(t, ok)
	assert.Equal(t, ID(2), id)

	removed, err := typ.DelAlias(2, "b")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"a"}, typ.AliasesOf(2, 2))

	n, _ := typ.Find(2)
	assert.True(t, n.IsSet(2))
	typ.Delete(n)
	_, ok = typ.ResolveAlias(2, "a")
	assert.False(t, ok)
	assert.Equal(t, 1, typ.AliasCount(1))
}

func TestType_Colvec(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(4).Text().Colvec(2, 2, []byte{1, 1, 1, 1}))

	v, err := typ.ColvecGet(1, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 1, 1}, v)

	require.NoError(t, typ.ColvecSet(1, 6, []byte{1, 2, 3, 4}))
	v, _ = typ.ColvecGet(1, 6)
	assert.Equal(t, []byte{1, 2, 3, 4}, v)
	v, _ = typ.ColvecGet(1, 5)
	assert.Equal(t, []byte{1, 1, 1, 1}, v)

	slab := typ.ColvecSlab(1, 1)
	require.Len(t, slab, typ.SlabSize(1))
	assert.Equal(t, []byte{1, 2, 3, 4}, slab[4:8])
	assert.Nil(t, typ.ColvecSlab(1, 0))
	assert.True(t, typ.Block(1).HasColvec())

	assert.ErrorIs(t, typ.ColvecSet(1, 6, []byte{1}), ErrFieldType)
	assert.ErrorIs(t, typ.ColvecSet(0, 6, []byte{1, 2, 3, 4}), ErrFieldType)
	assert.NotEqual(t, StatusDirty, typ.BlockStatus(1)&StatusDirty)
	require.NoError(t, typ.MarkDirty(6))
	assert.True(t, typ.BlockStatus(1).Dirty())

	n := mustUpsert(t, typ, 6)
	require.NoError(t, n.DeleteField(1))
	v, _ = typ.ColvecGet(1, 6)
	assert.Equal(t, []byte{1, 1, 1, 1}, v)

	require.NoError(t, typ.LoadColvecSlab(1, 2, make([]byte, typ.SlabSize(1))))
	v, _ = typ.ColvecGet(1, 9)
	assert.Equal(t, []byte{0, 0, 0, 0}, v)
}

func TestType_Defrag(t *testing.T) {
	typ := newTestType(t, schema.NewBuilder(1000).String(16, ""))

	rng := rand.New(rand.NewPCG(3, 4))
	ids := rng.Perm(600)
	for _, i := range ids {
		n := mustUpsert(t, typ, ID(i+1))
		require.NoError(t, n.SetString(0, string(rune('a'+i%26))))
	}
	for id := ID(1); id <= 600; id += 2 {
		n, _ := typ.Find(id)
		typ.Delete(n)
	}

	moved := typ.Defrag()
	assert.Positive(t, moved)
	for id := ID(2); id <= 600; id += 2 {
		n, _ := typ.Find(id)
		require.NotNil(t, n)
		s, err := n.String(0)
		require.NoError(t, err)
		assert.Equal(t, string(rune('a'+int(id-1)%26)), s)
	}
	assert.GreaterOrEqual(t, typ.GC(), 0)
	assert.Equal(t, uint64(300), typ.Stats().Nodes)
}
