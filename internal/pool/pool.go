package pool

import (
	"fmt"
	"os"
	"slices"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/nodedb/internal/mmap"
)

// DefaultSlabSize is used when Options.SlabSize is zero.
const DefaultSlabSize = 64 << 10

// hugePageSize is the slab size floor when huge pages are requested.
const hugePageSize = 2 << 20

// Ref names one object: a slab id and a slot within it.
// The zero Ref names nothing; slab ids start at 1.
type Ref struct {
	Slab uint32
	Slot uint32
}

// IsNil reports whether r is the zero Ref.
func (r Ref) IsNil() bool { return r.Slab == 0 }

func (r Ref) String() string { return fmt.Sprintf("%d:%d", r.Slab, r.Slot) }

// MemoryTracker receives mapped-byte deltas as slabs come and go.
type MemoryTracker interface {
	Track(delta int64)
}

// Options configure a Pool.
type Options struct {
	// SlabSize is the size of one mapping. Rounded up to a multiple of the
	// page size and to at least one object.
	SlabSize int
	// ObjectSize is the fixed size of every object.
	ObjectSize int
	// Alignment of every object; 0 means 8.
	Alignment int
	// Advice is applied to every new slab.
	Advice mmap.AccessPattern
	// HugePages requests transparent huge pages for slabs.
	HugePages bool
	// Memory, if set, is told about every slab mapped or unmapped.
	Memory MemoryTracker
}

// Stats describe a pool's occupancy.
type Stats struct {
	Slabs       int
	Capacity    int
	InUse       int
	Free        int
	MappedBytes int64
}

type slab struct {
	id    uint32
	m     *mmap.Mapping
	data  []byte
	used  *bitset.BitSet
	inUse int
}

// Pool is a slab allocator for objects of one size.
type Pool struct {
	opts    Options
	stride  int
	perSlab int

	slabs  []*slab // indexed by slab id; slot 0 unused
	live   int     // number of mapped slabs
	free   []Ref   // LIFO free list
	inUse  int
	mapped int64
}

// New creates an empty pool. It panics on a non-positive object size.
func New(opts Options) *Pool {
	if opts.ObjectSize <= 0 {
		panic(fmt.Sprintf("pool: invalid object size %d", opts.ObjectSize))
	}
	if opts.Alignment <= 0 {
		opts.Alignment = 8
	}
	if opts.SlabSize <= 0 {
		opts.SlabSize = DefaultSlabSize
	}

	stride := roundUp(opts.ObjectSize, opts.Alignment)
	slabSize := max(opts.SlabSize, stride)
	if opts.HugePages {
		slabSize = max(slabSize, hugePageSize)
	}
	slabSize = roundUp(slabSize, os.Getpagesize())
	opts.SlabSize = slabSize

	return &Pool{
		opts:    opts,
		stride:  stride,
		perSlab: slabSize / stride,
		slabs:   []*slab{nil},
	}
}

// ObjectSize returns the usable size of each object.
func (p *Pool) ObjectSize() int { return p.opts.ObjectSize }

// SlabSize returns the mapped size of one slab.
func (p *Pool) SlabSize() int { return p.opts.SlabSize }

// PerSlab returns the number of objects in one slab.
func (p *Pool) PerSlab() int { return p.perSlab }

// Get returns a zeroed object, mapping a new slab if the free list is empty.
// It panics if the mapping fails.
func (p *Pool) Get() Ref {
	if len(p.free) == 0 {
		p.grow()
	}
	r := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := p.slabs[r.Slab]
	s.used.Set(uint(r.Slot))
	s.inUse++
	p.inUse++

	clear(p.Bytes(r))
	return r
}

// Put returns r to the free list. The slab stays mapped.
// Returning a free or unknown Ref panics.
func (p *Pool) Put(r Ref) {
	s := p.slabOf(r)
	if !s.used.Test(uint(r.Slot)) {
		panic(fmt.Sprintf("pool: double free of %s", r))
	}
	s.used.Clear(uint(r.Slot))
	s.inUse--
	p.inUse--
	p.free = append(p.free, r)
}

// Bytes returns the object memory for r. The slice stays valid until the
// object is moved by Defrag or its slab is released.
func (p *Pool) Bytes(r Ref) []byte {
	s := p.slabOf(r)
	off := int(r.Slot) * p.stride
	return s.data[off : off+p.opts.ObjectSize : off+p.opts.ObjectSize]
}

// InUse reports whether r is currently allocated.
func (p *Pool) InUse(r Ref) bool {
	if r.Slab == 0 || int(r.Slab) >= len(p.slabs) || p.slabs[r.Slab] == nil {
		return false
	}
	return p.slabs[r.Slab].used.Test(uint(r.Slot))
}

// Prealloc maps enough slabs that n further Gets need no mapping.
func (p *Pool) Prealloc(n int) {
	for len(p.free) < n {
		p.grow()
	}
}

// GC unmaps every slab whose objects are all free and returns how many
// slabs were released.
func (p *Pool) GC() int {
	released := 0
	for id, s := range p.slabs {
		if s == nil || s.inUse != 0 {
			continue
		}
		p.release(s)
		p.slabs[id] = nil
		released++
	}
	if released == 0 {
		return 0
	}
	p.free = slices.DeleteFunc(p.free, func(r Ref) bool {
		return p.slabs[r.Slab] == nil
	})
	return released
}

// Defrag packs live objects into the lowest slots of the lowest slabs in the
// order given by cmp, rebuilds the free list, and returns every object that
// moved keyed by its old Ref. All Bytes slices obtained before are invalid.
func (p *Pool) Defrag(cmp func(a, b Ref) int) map[Ref]Ref {
	refs := make([]Ref, 0, p.inUse)
	for _, s := range p.slabs {
		if s == nil {
			continue
		}
		for i, ok := s.used.NextSet(0); ok; i, ok = s.used.NextSet(i + 1) {
			refs = append(refs, Ref{Slab: s.id, Slot: uint32(i)}) //nolint:gosec // i < perSlab
		}
	}
	if cmp != nil {
		slices.SortStableFunc(refs, cmp)
	}

	scratch := make([]byte, len(refs)*p.opts.ObjectSize)
	for i, r := range refs {
		copy(scratch[i*p.opts.ObjectSize:], p.Bytes(r))
	}

	for _, s := range p.slabs {
		if s != nil {
			s.used.ClearAll()
			s.inUse = 0
		}
	}

	moves := make(map[Ref]Ref)
	dst := p.slotIter()
	for i, old := range refs {
		r := dst()
		s := p.slabs[r.Slab]
		s.used.Set(uint(r.Slot))
		s.inUse++
		copy(p.Bytes(r), scratch[i*p.opts.ObjectSize:(i+1)*p.opts.ObjectSize])
		if r != old {
			moves[old] = r
		}
	}

	for _, s := range p.slabs {
		if s != nil {
			p.trim(s)
		}
	}
	p.rebuildFree()
	return moves
}

// trim hands the pages past the last live object of a packed slab back to
// the OS. They read as zero on next touch.
func (p *Pool) trim(s *slab) {
	off := roundUp(s.inUse*p.stride, os.Getpagesize())
	if off < len(s.data) {
		_ = s.m.AdviseRange(off, len(s.data)-off, mmap.AccessDontNeed)
	}
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Slabs:       p.live,
		Capacity:    p.live * p.perSlab,
		InUse:       p.inUse,
		Free:        len(p.free),
		MappedBytes: p.mapped,
	}
}

// FreeCount returns the length of the free list.
func (p *Pool) FreeCount() int { return len(p.free) }

// Outstanding returns the number of objects handed out and not returned.
func (p *Pool) Outstanding() int { return p.inUse }

// Capacity returns the number of objects across all mapped slabs.
func (p *Pool) Capacity() int { return p.live * p.perSlab }

// Free unmaps every slab. All Refs become invalid.
func (p *Pool) Free() {
	for id, s := range p.slabs {
		if s != nil {
			p.release(s)
			p.slabs[id] = nil
		}
	}
	p.slabs = p.slabs[:1]
	p.free = nil
	p.inUse = 0
}

func (p *Pool) grow() {
	advice := []mmap.AccessPattern{p.opts.Advice}
	if p.opts.HugePages {
		advice = append(advice, mmap.AccessHugePage)
	}
	m, err := mmap.MapAnon(p.opts.SlabSize, advice...)
	if err != nil {
		panic(fmt.Sprintf("pool: map %d byte slab: %v", p.opts.SlabSize, err))
	}

	id := p.freeSlabID()
	s := &slab{
		id:   id,
		m:    m,
		data: m.Bytes(),
		used: bitset.New(uint(p.perSlab)),
	}
	if int(id) == len(p.slabs) {
		p.slabs = append(p.slabs, s)
	} else {
		p.slabs[id] = s
	}
	p.live++
	p.mapped += int64(p.opts.SlabSize)
	if p.opts.Memory != nil {
		p.opts.Memory.Track(int64(p.opts.SlabSize))
	}

	// Push in reverse so the lowest slot is handed out first.
	for i := p.perSlab - 1; i >= 0; i-- {
		p.free = append(p.free, Ref{Slab: id, Slot: uint32(i)}) //nolint:gosec // i < perSlab
	}
}

func (p *Pool) release(s *slab) {
	_ = s.m.Close()
	p.live--
	p.mapped -= int64(p.opts.SlabSize)
	p.inUse -= s.inUse
	if p.opts.Memory != nil {
		p.opts.Memory.Track(-int64(p.opts.SlabSize))
	}
}

func (p *Pool) freeSlabID() uint32 {
	for id := 1; id < len(p.slabs); id++ {
		if p.slabs[id] == nil {
			return uint32(id) //nolint:gosec // bounded by slab count
		}
	}
	return uint32(len(p.slabs)) //nolint:gosec // bounded by slab count
}

func (p *Pool) slabOf(r Ref) *slab {
	if r.Slab == 0 || int(r.Slab) >= len(p.slabs) || p.slabs[r.Slab] == nil || int(r.Slot) >= p.perSlab {
		panic(fmt.Sprintf("pool: invalid ref %s", r))
	}
	return p.slabs[r.Slab]
}

// slotIter yields slots in ascending (slab, slot) order.
func (p *Pool) slotIter() func() Ref {
	id, slot := 1, 0
	return func() Ref {
		for p.slabs[id] == nil || slot >= p.perSlab {
			id++
			slot = 0
		}
		r := Ref{Slab: uint32(id), Slot: uint32(slot)} //nolint:gosec // bounded
		slot++
		return r
	}
}

func (p *Pool) rebuildFree() {
	p.free = p.free[:0]
	for id := len(p.slabs) - 1; id >= 1; id-- {
		s := p.slabs[id]
		if s == nil {
			continue
		}
		for i := p.perSlab - 1; i >= 0; i-- {
			if !s.used.Test(uint(i)) {
				p.free = append(p.free, Ref{Slab: s.id, Slot: uint32(i)}) //nolint:gosec // i < perSlab
			}
		}
	}
}

func roundUp(n, to int) int {
	return (n + to - 1) / to * to
}
