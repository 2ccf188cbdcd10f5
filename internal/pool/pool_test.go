package pool

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackerFunc func(int64)

func (f trackerFunc) Track(delta int64) { f(delta) }

func TestPool_GetPut(t *testing.T) {
	p := New(Options{ObjectSize: 24})
	defer p.Free()

	r := p.Get()
	require.False(t, r.IsNil())
	assert.Len(t, p.Bytes(r), 24)
	assert.True(t, p.InUse(r))

	copy(p.Bytes(r), "hello")
	p.Put(r)
	assert.False(t, p.InUse(r))

	// LIFO reuse hands back a zeroed chunk.
	r2 := p.Get()
	assert.Equal(t, r, r2)
	assert.Equal(t, make([]byte, 24), p.Bytes(r2))

	assert.Panics(t, func() { p.Put(Ref{Slab: 99}) })
	p.Put(r2)
	assert.Panics(t, func() { p.Put(r2) })
}

func TestPool_Alignment(t *testing.T) {
	p := New(Options{ObjectSize: 10, Alignment: 16, SlabSize: 4096})
	defer p.Free()

	assert.Equal(t, 4096/16, p.PerSlab())
	a, b := p.Get(), p.Get()
	assert.Equal(t, uint32(0), a.Slot)
	assert.Equal(t, uint32(1), b.Slot)
}

func TestPool_Conservation(t *testing.T) {
	p := New(Options{ObjectSize: 40, SlabSize: 4096})
	defer p.Free()

	rng := rand.New(rand.NewPCG(1, 2))
	var held []Ref
	for i := 0; i < 5000; i++ {
		if len(held) > 0 && rng.IntN(3) == 0 {
			j := rng.IntN(len(held))
			p.Put(held[j])
			held[j] = held[len(held)-1]
			held = held[:len(held)-1]
		} else {
			held = append(held, p.Get())
		}
		require.Equal(t, p.Capacity(), p.FreeCount()+p.Outstanding(), "step %d", i)
	}
	assert.Equal(t, len(held), p.Outstanding())
}

func TestPool_GC(t *testing.T) {
	var mapped int64
	p := New(Options{
		ObjectSize: 512,
		SlabSize:   4096,
		Memory:     trackerFunc(func(d int64) { mapped += d }),
	})
	defer p.Free()

	per := p.PerSlab()
	refs := make([]Ref, 0, per*3)
	for i := 0; i < per*3; i++ {
		refs = append(refs, p.Get())
	}
	assert.Equal(t, 3, p.Stats().Slabs)
	assert.Equal(t, int64(3*p.SlabSize()), mapped)

	// Free the middle slab entirely and one object of the first.
	for _, r := range refs[per : 2*per] {
		p.Put(r)
	}
	p.Put(refs[0])

	assert.Equal(t, 1, p.GC())
	st := p.Stats()
	assert.Equal(t, 2, st.Slabs)
	assert.Equal(t, 1, st.Free)
	assert.Equal(t, int64(2*p.SlabSize()), mapped)
	assert.Equal(t, p.Capacity(), p.FreeCount()+p.Outstanding())

	// Next slab reuses the released id.
	for i := 0; i < per+1; i++ {
		p.Get()
	}
	assert.Equal(t, 3, p.Stats().Slabs)

	p.Free()
	assert.Zero(t, mapped)
}

func TestPool_Prealloc(t *testing.T) {
	p := New(Options{ObjectSize: 64, SlabSize: 4096})
	defer p.Free()

	p.Prealloc(200)
	assert.GreaterOrEqual(t, p.FreeCount(), 200)
	slabs := p.Stats().Slabs
	for i := 0; i < 200; i++ {
		p.Get()
	}
	assert.Equal(t, slabs, p.Stats().Slabs)
}

func TestPool_Defrag(t *testing.T) {
	p := New(Options{ObjectSize: 8, SlabSize: 4096})
	defer p.Free()

	per := p.PerSlab()
	refs := make([]Ref, per*2)
	for i := range refs {
		refs[i] = p.Get()
		binary.LittleEndian.PutUint64(p.Bytes(refs[i]), uint64(len(refs)-i))
	}
	// Keep every third object.
	var keep []Ref
	for i, r := range refs {
		if i%3 == 0 {
			keep = append(keep, r)
		} else {
			p.Put(r)
		}
	}

	key := func(r Ref) uint64 { return binary.LittleEndian.Uint64(p.Bytes(r)) }
	want := make(map[uint64]bool)
	for _, r := range keep {
		want[key(r)] = true
	}

	moves := p.Defrag(func(a, b Ref) int {
		ka, kb := key(a), key(b)
		switch {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})

	// Re-index the way owners do.
	for i, r := range keep {
		if nr, ok := moves[r]; ok {
			keep[i] = nr
		}
	}

	got := make(map[uint64]bool)
	for _, r := range keep {
		require.True(t, p.InUse(r))
		got[key(r)] = true
	}
	assert.Equal(t, want, got)

	// Live objects are packed in ascending key order from slot 0.
	var prev uint64
	for slot := 0; slot < len(keep); slot++ {
		r := Ref{Slab: 1, Slot: uint32(slot)}
		require.True(t, p.InUse(r))
		k := key(r)
		assert.Greater(t, k, prev)
		prev = k
	}
	assert.Equal(t, p.Capacity(), p.FreeCount()+p.Outstanding())

	assert.Equal(t, 1, p.GC())
	assert.False(t, bytes.Equal(p.Bytes(Ref{Slab: 1, Slot: 0}), make([]byte, 8)))
}
