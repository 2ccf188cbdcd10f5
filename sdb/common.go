package sdb

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/hupe1980/nodedb/expire"
	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

// BlockInfo describes one block dump.
type BlockInfo struct {
	Index uint32
	Count uint32
	Hash  uint64
}

// CommonType is the per-type part of the common dump.
type CommonType struct {
	ID     schema.TypeID
	Schema []byte
	Count  uint64
	MaxID  node.ID
	Blocks []BlockInfo
}

// Common is the database-wide dump: identity, schemas, pending expirations
// and the id tables naming every block dump.
type Common struct {
	Header   Header // set by ReadCommon
	DBID     uuid.UUID
	TrxLabel uint64
	Types    []CommonType
	Expire   []expire.Token
}

// Type returns the entry for id.
func (c *Common) Type(id schema.TypeID) *CommonType {
	for i := range c.Types {
		if c.Types[i].ID == id {
			return &c.Types[i]
		}
	}
	return nil
}

// DescribeType builds the common entry of t from its on-disk blocks.
// Dirty blocks are described by their last saved state. MaxID is the
// highest id seen: the resident maximum or seen, whichever is larger.
func DescribeType(t *node.Type, seen node.ID) CommonType {
	ct := CommonType{ID: t.ID(), Schema: t.Schema().Raw(), Count: t.Count(), MaxID: seen}
	if m := t.Max(); m != nil && m.ID() > ct.MaxID {
		ct.MaxID = m.ID()
	}
	for b := range t.Blocks() {
		if !b.Status().OnDisk() {
			continue
		}
		ct.Blocks = append(ct.Blocks, BlockInfo{Index: b.Index(), Count: b.Count(), Hash: b.DiskHash()})
	}
	return ct
}

// Apply marks the blocks listed in ct as on disk in t.
func (ct *CommonType) Apply(t *node.Type) {
	for _, bi := range ct.Blocks {
		t.SetOnDisk(bi.Index, bi.Count, bi.Hash)
	}
}

// WriteCommon writes the body of a common dump.
func WriteCommon(w *Writer, c *Common) error {
	w.PutMagic(magicDBInfo)
	w.PutRaw(c.DBID[:])
	w.PutU64(c.TrxLabel)

	types := slices.Clone(c.Types)
	slices.SortFunc(types, func(a, b CommonType) int { return int(a.ID) - int(b.ID) })

	w.PutMagic(magicSchemas)
	w.PutLen(len(types))
	for _, t := range types {
		w.PutU16(uint16(t.ID))
		w.PutBytes(t.Schema)
	}

	w.PutMagic(magicExpire)
	w.PutLen(len(c.Expire))
	for _, tok := range c.Expire {
		w.PutU16(uint16(tok.Type))
		w.PutU64(uint64(tok.Node))
		w.PutI64(tok.At)
	}

	w.PutMagic(magicIDTables)
	w.PutLen(len(types))
	for _, t := range types {
		w.PutU16(uint16(t.ID))
		w.PutU64(t.Count)
		w.PutU64(uint64(t.MaxID))
		w.PutLen(len(t.Blocks))
		for _, b := range t.Blocks {
			w.PutU32(b.Index)
			w.PutU32(b.Count)
			w.PutU64(b.Hash)
		}
	}

	w.PutMagic(magicSection)
	return w.Err()
}

// SaveCommon writes a complete common dump to c.
func SaveCommon(c Carrier, cm *Common, opts WriterOptions) error {
	w, err := NewWriter(c, FlagCommon, opts)
	if err != nil {
		return err
	}
	if err := WriteCommon(w, cm); err != nil {
		return err
	}
	return w.Close()
}

// LoadCommon reads and verifies a complete common dump from c.
func LoadCommon(c Carrier) (*Common, error) {
	r, err := NewReader(c)
	if err != nil {
		return nil, &LoadError{Section: sectionHeader, Field: -1, Err: err}
	}
	if r.Header().Flags&FlagCommon == 0 {
		return nil, &LoadError{Section: sectionHeader, Field: -1,
			Err: fmt.Errorf("%w: %s dump", ErrWrongDumpKind, r.Header().Flags)}
	}
	return ReadCommon(r)
}

// ReadCommon reads the body of a common dump and the footer.
func ReadCommon(r *Reader) (*Common, error) {
	c := &Common{Header: r.Header()}
	fail := func(section string, err error) (*Common, error) {
		if err == nil {
			err = r.Err()
		}
		return nil, &LoadError{Section: section, Field: -1, Err: err}
	}

	if !r.Expect(magicDBInfo) {
		return fail(sectionDBInfo, nil)
	}
	copy(c.DBID[:], r.Raw(len(c.DBID)))
	c.TrxLabel = r.U64()
	if r.Err() != nil {
		return fail(sectionDBInfo, nil)
	}

	if !r.Expect(magicSchemas) {
		return fail(sectionSchemas, nil)
	}
	n := r.U32()
	if n > 1<<16 {
		return fail(sectionSchemas, fmt.Errorf("%w: %d types", ErrCorrupt, n))
	}
	c.Types = make([]CommonType, 0, n)
	for range n {
		id := schema.TypeID(r.U16())
		raw := r.Bytes(schema.MaxSize)
		if r.Err() != nil {
			return fail(sectionSchemas, nil)
		}
		c.Types = append(c.Types, CommonType{ID: id, Schema: raw})
	}

	if !r.Expect(magicExpire) {
		return fail(sectionExpire, nil)
	}
	n = r.U32()
	for range n {
		tok := expire.Token{
			Type: schema.TypeID(r.U16()),
			Node: node.ID(r.U64()),
			At:   r.I64(),
		}
		if r.Err() != nil {
			return fail(sectionExpire, nil)
		}
		c.Expire = append(c.Expire, tok)
	}

	if !r.Expect(magicIDTables) {
		return fail(sectionIDs, nil)
	}
	n = r.U32()
	for range n {
		id := schema.TypeID(r.U16())
		count := r.U64()
		maxID := node.ID(r.U64())
		nb := r.U32()
		if r.Err() != nil {
			return fail(sectionIDs, nil)
		}
		ct := c.Type(id)
		if ct == nil {
			return fail(sectionIDs, fmt.Errorf("%w: id table for unknown type %d", ErrCorrupt, id))
		}
		ct.Count, ct.MaxID = count, maxID
		ct.Blocks = make([]BlockInfo, 0, min(nb, 1<<16))
		for range nb {
			bi := BlockInfo{Index: r.U32(), Count: r.U32(), Hash: r.U64()}
			if r.Err() != nil {
				return fail(sectionIDs, nil)
			}
			ct.Blocks = append(ct.Blocks, bi)
		}
	}

	if !r.Expect(magicSection) {
		return fail(sectionIDs, nil)
	}
	if err := r.Finish(); err != nil {
		return fail(sectionFooter, err)
	}
	return c, nil
}
