package sdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

// maxValueLen bounds a field payload on load.
const maxValueLen = 1 << 30

// WriteBlock writes the body of a dump of block idx of t. The block must be
// resident. It returns the block's node count and content hash.
func WriteBlock(w *Writer, t *node.Type, idx uint32, dbID uuid.UUID) (BlockInfo, error) {
	b := t.Block(idx)
	info := BlockInfo{Index: idx}
	if b != nil && b.Status().NeedsLoad() {
		return info, fmt.Errorf("%w: type %d block %d", node.ErrBlockNotLoaded, t.ID(), idx)
	}
	s := t.Schema()

	resident := 0
	if b != nil {
		resident = b.Len()
	}
	w.PutMagic(magicBlock)
	w.PutU16(uint16(t.ID()))
	w.PutU32(idx)
	w.PutRaw(dbID[:])
	w.PutU32(uint32(resident)) //nolint:gosec // <= BlockCapacity

	digest := newBlockDigest()
	if b != nil {
		for n := range b.Nodes() {
			writeNode(w, s, n)
			digest.add(nodeHash(n, w.Version() >= FormatV2))
		}
	}

	writeAliases(w, t, b)
	if w.Version() >= FormatV2 {
		writeColvecs(w, t, idx)
	}

	info.Count = uint32(resident) //nolint:gosec // <= BlockCapacity
	info.Hash = digest.sum()
	w.PutMagic(magicBlockHash)
	w.PutU64(info.Hash)
	w.PutMagic(magicSection)
	return info, w.Err()
}

func writeNode(w *Writer, s *schema.Schema, n *node.Node) {
	type rec struct {
		idx int
		typ schema.FieldType
		val []byte
	}
	recs := make([]rec, 0, s.NrFixed+s.NrDynamic)
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Class() == schema.ClassVirtual || !n.IsSet(i) {
			continue
		}
		v, err := n.Value(i)
		if err != nil {
			continue
		}
		typ, val := f.Type, v
		if w.Version() < FormatV2 {
			typ, val = downgradeField(f, v)
		}
		recs = append(recs, rec{idx: i, typ: typ, val: val})
	}

	w.PutMagic(magicNode)
	w.PutU64(uint64(n.ID()))
	w.PutU8(uint8(len(recs))) //nolint:gosec // <= MaxFields
	for _, r := range recs {
		w.PutU8(uint8(r.idx)) //nolint:gosec // <= MaxFields
		w.PutU8(uint8(r.typ))
		w.PutBytes(r.val)
	}
	w.PutMagic(magicNodeEnd)
}

func writeAliases(w *Writer, t *node.Type, b *node.Block) {
	fields := t.Schema().AliasFields()
	w.PutMagic(magicAliases)
	w.PutU8(uint8(len(fields))) //nolint:gosec // <= MaxFields
	for _, fi := range fields {
		type pair struct {
			dest node.ID
			name string
		}
		var pairs []pair
		if b != nil {
			for id := range b.IDs() {
				for _, name := range t.AliasesOf(fi, id) {
					pairs = append(pairs, pair{id, name})
				}
			}
		}
		w.PutU8(uint8(fi)) //nolint:gosec // <= MaxFields
		w.PutLen(len(pairs))
		for _, p := range pairs {
			w.PutU64(uint64(p.dest))
			w.PutString(p.name)
		}
	}
}

func writeColvecs(w *Writer, t *node.Type, idx uint32) {
	fields := t.Schema().ColvecFields()
	w.PutMagic(magicColvec)
	w.PutU8(uint8(len(fields))) //nolint:gosec // <= MaxFields
	for _, fi := range fields {
		w.PutU8(uint8(fi)) //nolint:gosec // <= MaxFields
		slab := t.ColvecSlab(fi, idx)
		if slab == nil {
			w.PutU8(0)
			continue
		}
		w.PutU8(1)
		w.PutBytes(slab)
	}
}

// SaveBlock writes a complete dump of block idx to c. The caller marks the
// block saved once the carrier is durable.
func SaveBlock(c Carrier, t *node.Type, idx uint32, dbID uuid.UUID, opts WriterOptions) (BlockInfo, error) {
	w, err := NewWriter(c, FlagBlock, opts)
	if err != nil {
		return BlockInfo{Index: idx}, err
	}
	info, err := WriteBlock(w, t, idx, dbID)
	if err != nil {
		return info, err
	}
	return info, w.Close()
}

// LoadOptions configure a block load.
type LoadOptions struct {
	// MaxVersion refuses dumps with a newer format version; usually the
	// version of the common dump. Zero means FormatCurrent.
	MaxVersion uint32
	// DBID, if set, must match the id recorded in the block dump.
	DBID uuid.UUID
	// Log receives every load error.
	Log *ErrLog
}

// LoadBlock reads a complete block dump from c into block idx of t. A
// resident block must be clean and is replaced. On failure the block gets
// back the status it had before the load and the error is a *LoadError.
func LoadBlock(c Carrier, t *node.Type, idx uint32, opts LoadOptions) (BlockInfo, error) {
	fail := func(err error) (BlockInfo, error) {
		var le *LoadError
		if !errors.As(err, &le) {
			err = &LoadError{Section: sectionHeader, Type: t.ID(), Block: idx, Field: -1, Err: err}
		}
		opts.Log.Add(err)
		return BlockInfo{Index: idx}, err
	}

	r, err := NewReader(c)
	if err != nil {
		return fail(err)
	}
	h := r.Header()
	if h.Flags&FlagBlock == 0 {
		return fail(fmt.Errorf("%w: %s dump", ErrWrongDumpKind, h.Flags))
	}
	maxVersion := opts.MaxVersion
	if maxVersion == 0 {
		maxVersion = FormatCurrent
	}
	if h.Version > maxVersion {
		return fail(fmt.Errorf("%w: block version %d > %d", ErrVersionTooNew, h.Version, maxVersion))
	}
	if st := t.BlockStatus(idx); st.InMemory() {
		if _, err := t.UnloadBlock(idx); err != nil {
			return fail(err)
		}
	}

	t.BeginLoad(idx)
	info, err := readBlock(r, t, idx, opts)
	if err != nil {
		t.AbortLoad(idx)
		return fail(err)
	}
	t.EndLoad(idx)
	t.MarkSaved(idx, info.Hash)
	return info, nil
}

type blockLoader struct {
	r     *Reader
	t     *node.Type
	s     *schema.Schema
	idx   uint32
	nodes int

	section string
	node    node.ID
	field   int
}

func (l *blockLoader) fail(err error) error {
	if err == nil {
		err = l.r.Err()
	}
	return &LoadError{
		Section: l.section,
		Type:    l.t.ID(),
		Block:   l.idx,
		Node:    l.node,
		Field:   l.field,
		Partial: l.nodes > 0,
		Err:     err,
	}
}

func readBlock(r *Reader, t *node.Type, idx uint32, opts LoadOptions) (BlockInfo, error) {
	l := &blockLoader{r: r, t: t, s: t.Schema(), idx: idx, section: sectionBlock, field: -1}
	info := BlockInfo{Index: idx}

	if !r.Expect(magicBlock) {
		return info, l.fail(nil)
	}
	typ := schema.TypeID(r.U16())
	bidx := r.U32()
	var dbID uuid.UUID
	copy(dbID[:], r.Raw(len(dbID)))
	count := r.U32()
	if r.Err() != nil {
		return info, l.fail(nil)
	}
	if typ != t.ID() || bidx != idx {
		return info, l.fail(fmt.Errorf("%w: dump holds type %d block %d", ErrCorrupt, typ, bidx))
	}
	if opts.DBID != uuid.Nil && dbID != opts.DBID {
		return info, l.fail(fmt.Errorf("%w: %s", ErrForeignDump, dbID))
	}
	if count > l.s.BlockCapacity {
		return info, l.fail(fmt.Errorf("%w: %d nodes in a block of %d", ErrCorrupt, count, l.s.BlockCapacity))
	}

	l.section = sectionNodes
	for range count {
		if err := l.readNode(); err != nil {
			return info, err
		}
	}
	l.node = 0

	l.section = sectionAliases
	if err := l.readAliases(); err != nil {
		return info, err
	}

	if r.Version() >= FormatV2 {
		l.section = sectionColvec
		if err := l.readColvecs(); err != nil {
			return info, err
		}
	}

	l.section = sectionHash
	if !r.Expect(magicBlockHash) {
		return info, l.fail(nil)
	}
	stored := r.U64()
	if !r.Expect(magicSection) {
		return info, l.fail(nil)
	}
	l.section = sectionFooter
	if err := r.Finish(); err != nil {
		return info, l.fail(err)
	}

	l.section = sectionHash
	info.Count = count
	info.Hash = blockHash(t, idx, r.Version())
	if info.Hash != stored {
		return info, l.fail(fmt.Errorf("%w: block hash %#x, dump says %#x", ErrHashMismatch, info.Hash, stored))
	}
	return info, nil
}

func (l *blockLoader) readNode() error {
	r := l.r
	if !r.Expect(magicNode) {
		return l.fail(nil)
	}
	id := node.ID(r.U64())
	nf := int(r.U8())
	if r.Err() != nil {
		return l.fail(nil)
	}
	l.node = id
	if l.t.BlockIndex(id) != l.idx {
		return l.fail(fmt.Errorf("%w: node outside block", ErrCorrupt))
	}
	n, created, err := l.t.Upsert(id)
	if err != nil {
		return l.fail(err)
	}
	if !created {
		return l.fail(fmt.Errorf("%w: duplicate node", ErrCorrupt))
	}
	l.nodes++

	for range nf {
		fi := int(r.U8())
		stored := schema.FieldType(r.U8())
		val := r.Bytes(maxValueLen)
		if r.Err() != nil {
			return l.fail(nil)
		}
		l.field = fi
		f := l.s.Field(fi)
		if f == nil {
			return l.fail(fmt.Errorf("%w: no field %d", ErrCorrupt, fi))
		}
		if stored != f.Type {
			val, err = upgradeField(f, stored, val, r.Version())
			if err != nil {
				return l.fail(err)
			}
		}
		if f.Class() == schema.ClassVirtual {
			return l.fail(fmt.Errorf("%w: virtual field in node record", ErrCorrupt))
		}
		if err := n.SetValue(fi, val); err != nil {
			return l.fail(err)
		}
	}
	l.field = -1

	if !r.Expect(magicNodeEnd) {
		return l.fail(nil)
	}
	return nil
}

func (l *blockLoader) readAliases() error {
	r := l.r
	if !r.Expect(magicAliases) {
		return l.fail(nil)
	}
	nf := int(r.U8())
	for range nf {
		fi := int(r.U8())
		count := r.U32()
		if r.Err() != nil {
			return l.fail(nil)
		}
		l.field = fi
		f := l.s.Field(fi)
		if f == nil || (f.Type != schema.FieldAlias && f.Type != schema.FieldAliases) {
			return l.fail(fmt.Errorf("%w: field %d is not an alias field", ErrFieldTypeMismatch, fi))
		}
		for range count {
			dest := node.ID(r.U64())
			name := r.String()
			if r.Err() != nil {
				return l.fail(nil)
			}
			l.node = dest
			if l.t.BlockIndex(dest) != l.idx {
				return l.fail(fmt.Errorf("%w: alias %q points outside block", ErrCorrupt, name))
			}
			if err := l.t.SetAlias(fi, name, dest); err != nil {
				return l.fail(err)
			}
		}
		l.node = 0
	}
	l.field = -1
	return nil
}

func (l *blockLoader) readColvecs() error {
	r := l.r
	if !r.Expect(magicColvec) {
		return l.fail(nil)
	}
	nf := int(r.U8())
	for range nf {
		fi := int(r.U8())
		present := r.U8()
		if r.Err() != nil {
			return l.fail(nil)
		}
		l.field = fi
		f := l.s.Field(fi)
		if f == nil || f.Type != schema.FieldColvec {
			return l.fail(fmt.Errorf("%w: field %d is not a colvec field", ErrFieldTypeMismatch, fi))
		}
		if present == 0 {
			continue
		}
		slab := r.Bytes(l.t.SlabSize(fi))
		if r.Err() != nil {
			return l.fail(nil)
		}
		if err := l.t.LoadColvecSlab(fi, l.idx, slab); err != nil {
			return l.fail(err)
		}
	}
	l.field = -1
	return nil
}

// upgradeField converts a field payload recorded with an older field type
// to the schema's current representation.
func upgradeField(f *schema.FieldSchema, stored schema.FieldType, val []byte, version uint32) ([]byte, error) {
	mismatch := fmt.Errorf("%w: stored %s, schema %s", ErrFieldTypeMismatch, stored, f.Type)
	if version >= FormatV2 {
		return nil, mismatch
	}
	switch {
	case stored == schema.FieldWeakReference && f.Type == schema.FieldReference:
		if len(val) != 10 {
			return nil, fmt.Errorf("%w: weak reference of %d bytes", ErrCorrupt, len(val))
		}
		if dst := schema.TypeID(binary.LittleEndian.Uint16(val)); dst != f.Edge.DstType {
			return nil, fmt.Errorf("%w: weak reference to type %d, schema wants %d", ErrFieldTypeMismatch, dst, f.Edge.DstType)
		}
		return val[2:10], nil
	case stored == schema.FieldWeakReferences && f.Type == schema.FieldReferences:
		if len(val) < 4 {
			return nil, fmt.Errorf("%w: weak references of %d bytes", ErrCorrupt, len(val))
		}
		n := int(binary.LittleEndian.Uint32(val))
		if len(val) != 4+n*10 {
			return nil, fmt.Errorf("%w: %d weak references in %d bytes", ErrCorrupt, n, len(val))
		}
		ids := make([]uint64, 0, n)
		for i := range n {
			rec := val[4+i*10:]
			if dst := schema.TypeID(binary.LittleEndian.Uint16(rec)); dst != f.Edge.DstType {
				return nil, fmt.Errorf("%w: weak reference to type %d, schema wants %d", ErrFieldTypeMismatch, dst, f.Edge.DstType)
			}
			ids = append(ids, binary.LittleEndian.Uint64(rec[2:]))
		}
		if !f.Edge.IsArray() {
			slices.Sort(ids)
			ids = slices.Compact(ids)
		}
		out := make([]byte, 8*len(ids))
		for i, id := range ids {
			binary.LittleEndian.PutUint64(out[i*8:], id)
		}
		return out, nil
	default:
		return nil, mismatch
	}
}

// downgradeField encodes references the way FormatV1 dumps stored them.
func downgradeField(f *schema.FieldSchema, v []byte) (schema.FieldType, []byte) {
	switch f.Type {
	case schema.FieldReference:
		out := make([]byte, 10)
		binary.LittleEndian.PutUint16(out, uint16(f.Edge.DstType))
		copy(out[2:], v)
		return schema.FieldWeakReference, out
	case schema.FieldReferences:
		n := len(v) / 8
		out := make([]byte, 4+n*10)
		binary.LittleEndian.PutUint32(out, uint32(n)) //nolint:gosec // bounded by capacity
		for i := range n {
			rec := out[4+i*10:]
			binary.LittleEndian.PutUint16(rec, uint16(f.Edge.DstType))
			copy(rec[2:], v[i*8:i*8+8])
		}
		return schema.FieldWeakReferences, out
	default:
		return f.Type, v
	}
}
