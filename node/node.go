package node

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/hupe1980/nodedb/internal/pool"
	"github.com/hupe1980/nodedb/schema"
)

// ID identifies a node within its type. Valid ids are [1, schema.MaxNodeID].
type ID uint64

// regionHeader is the size of a dynamic value header: u32 cap | u32 len.
const regionHeader = 8

// Node is one record of a Type.
type Node struct {
	id  ID
	typ *Type
	blk *Block
	trx uint64

	fields Fields
}

// Fields is a node's field payload.
type Fields struct {
	fixed pool.Ref
	slots []schema.Slot
	dyn   dynBuffer
}

// ID returns the node id.
func (n *Node) ID() ID { return n.id }

// Type returns the owning type, nil once the node was deleted or unloaded.
func (n *Node) Type() *Type { return n.typ }

// TypeID returns the owning type id.
func (n *Node) TypeID() schema.TypeID { return n.typ.id }

// Block returns the owning block.
func (n *Node) Block() *Block { return n.blk }

// Schema returns the owning type's schema.
func (n *Node) Schema() *schema.Schema { return n.typ.schema }

// Visit records a traversal label and reports whether the node was not yet
// visited under it.
func (n *Node) Visit(label uint64) bool {
	if n.trx == label {
		return false
	}
	n.trx = label
	return true
}

// Label returns the last traversal label.
func (n *Node) Label() uint64 { return n.trx }

// ShareFields hands out a reference to the dynamic field buffer.
func (n *Node) ShareFields() *SharedBuffer { return n.fields.dyn.share() }

// SharedFields reports whether the dynamic buffer is currently shared.
func (n *Node) SharedFields() bool { return n.fields.dyn.isShared() }

// DynamicSize returns the dynamic buffer size in bytes.
func (n *Node) DynamicSize() int { return n.fields.dyn.size() }

// Slot returns the slot descriptor of field idx.
func (n *Node) Slot(idx int) schema.Slot {
	if idx < 0 || idx >= len(n.fields.slots) {
		return 0
	}
	return n.fields.slots[idx]
}

// IsSet reports whether field idx holds a value. Fixed fields are always set.
func (n *Node) IsSet(idx int) bool {
	f := n.typ.schema.Field(idx)
	if f == nil {
		return false
	}
	switch f.Class() {
	case schema.ClassVirtual:
		switch f.Type {
		case schema.FieldAlias, schema.FieldAliases:
			return len(n.typ.aliases[idx].byDest[n.id]) > 0
		}
		return false
	default:
		return n.fields.slots[idx].InUse()
	}
}

func (n *Node) field(idx int, want ...schema.FieldType) (*schema.FieldSchema, error) {
	if n.typ == nil {
		return nil, fmt.Errorf("%w: node %d is detached", ErrNodeNotFound, n.id)
	}
	f := n.typ.schema.Field(idx)
	if f == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoField, idx)
	}
	if len(want) > 0 && !slices.Contains(want, f.Type) {
		return nil, fmt.Errorf("%w: field %d is %s", ErrFieldType, idx, f.Type)
	}
	return f, nil
}

func (n *Node) fixedArea(idx int) []byte {
	return n.typ.fixed.Bytes(n.fields.fixed)[n.fields.slots[idx].Offset():]
}

func (n *Node) dirty() { n.blk.setFlags(StatusDirty) }

// SetMicroBuffer stores v in a micro-buffer field.
func (n *Node) SetMicroBuffer(idx int, v []byte) error {
	f, err := n.field(idx, schema.FieldMicroBuffer)
	if err != nil {
		return err
	}
	if len(v) > f.Len {
		return fmt.Errorf("%w: %d bytes, field %d holds %d", ErrValueTooLarge, len(v), idx, f.Len)
	}
	area := n.fixedArea(idx)
	binary.LittleEndian.PutUint16(area, uint16(len(v))) //nolint:gosec // <= f.Len
	copy(area[2:], v)
	clear(area[2+len(v) : 2+f.Len])
	n.dirty()
	return nil
}

// MicroBuffer returns a copy of a micro-buffer field.
func (n *Node) MicroBuffer(idx int) ([]byte, error) {
	if _, err := n.field(idx, schema.FieldMicroBuffer); err != nil {
		return nil, err
	}
	area := n.fixedArea(idx)
	l := int(binary.LittleEndian.Uint16(area))
	return bytes.Clone(area[2 : 2+l]), nil
}

// SetString stores v in a string field.
func (n *Node) SetString(idx int, v string) error {
	f, err := n.field(idx, schema.FieldString)
	if err != nil {
		return err
	}
	if f.Len == 0 {
		if err := n.setDynamic(idx, []byte(v), false); err != nil {
			return err
		}
		n.dirty()
		return nil
	}
	if len(v) > f.Len {
		return fmt.Errorf("%w: %d bytes, field %d holds %d", ErrValueTooLarge, len(v), idx, f.Len)
	}
	area := n.fixedArea(idx)
	area[0] = uint8(len(v)) //nolint:gosec // <= MaxFixedStringLen
	copy(area[1:], v)
	clear(area[1+len(v) : 1+f.Len])
	n.dirty()
	return nil
}

// String returns a string field, or its default when a dynamic string is unset.
func (n *Node) String(idx int) (string, error) {
	f, err := n.field(idx, schema.FieldString)
	if err != nil {
		return "", err
	}
	if f.Len == 0 {
		if !n.fields.slots[idx].InUse() {
			return string(f.Default), nil
		}
		return string(n.dynamicValue(idx)), nil
	}
	area := n.fixedArea(idx)
	return string(area[1 : 1+int(area[0])]), nil
}

// SetText stores v in a text field.
func (n *Node) SetText(idx int, v string) error {
	if _, err := n.field(idx, schema.FieldText); err != nil {
		return err
	}
	if err := n.setDynamic(idx, []byte(v), false); err != nil {
		return err
	}
	n.dirty()
	return nil
}

// Text returns a text field; empty when unset.
func (n *Node) Text(idx int) (string, error) {
	if _, err := n.field(idx, schema.FieldText); err != nil {
		return "", err
	}
	return string(n.dynamicValue(idx)), nil
}

// SetReference points a single reference field at dst (0 clears it) and
// returns the previous destination.
func (n *Node) SetReference(idx int, dst ID) (ID, error) {
	if _, err := n.field(idx, schema.FieldReference); err != nil {
		return 0, err
	}
	if dst > schema.MaxNodeID {
		return 0, fmt.Errorf("%w: %d", ErrInvalidNodeID, dst)
	}
	area := n.fixedArea(idx)
	prev := ID(binary.LittleEndian.Uint64(area))
	binary.LittleEndian.PutUint64(area, uint64(dst))
	n.dirty()
	return prev, nil
}

// Reference returns the destination of a single reference field, 0 if none.
func (n *Node) Reference(idx int) (ID, error) {
	if _, err := n.field(idx, schema.FieldReference); err != nil {
		return 0, err
	}
	return ID(binary.LittleEndian.Uint64(n.fixedArea(idx))), nil
}

// References returns the destinations of a references field.
func (n *Node) References(idx int) ([]ID, error) {
	if _, err := n.field(idx, schema.FieldReferences); err != nil {
		return nil, err
	}
	return decodeIDs(n.dynamicValue(idx)), nil
}

// HasReference reports whether a references field contains dst.
func (n *Node) HasReference(idx int, dst ID) (bool, error) {
	f, err := n.field(idx, schema.FieldReferences)
	if err != nil {
		return false, err
	}
	_, found := findRef(n.dynamicValue(idx), dst, f.Edge.IsArray())
	return found, nil
}

// AddReference adds dst to a references field. Set fields keep ascending
// order and ignore duplicates; array fields append.
func (n *Node) AddReference(idx int, dst ID) (bool, error) {
	f, err := n.field(idx, schema.FieldReferences)
	if err != nil {
		return false, err
	}
	if dst == 0 || dst > schema.MaxNodeID {
		return false, fmt.Errorf("%w: %d", ErrInvalidNodeID, dst)
	}
	cur := n.dynamicValue(idx)
	pos, found := findRef(cur, dst, f.Edge.IsArray())
	if f.Edge.IsArray() {
		pos = len(cur) / 8
	} else if found {
		return false, nil
	}
	if limit := f.Edge.Limit(); limit > 0 && len(cur)/8 >= int(limit) {
		return false, fmt.Errorf("%w: field %d holds %d", ErrCapacity, idx, limit)
	}

	next := make([]byte, len(cur)+8)
	copy(next, cur[:pos*8])
	binary.LittleEndian.PutUint64(next[pos*8:], uint64(dst))
	copy(next[pos*8+8:], cur[pos*8:])
	if err := n.setDynamic(idx, next, true); err != nil {
		return false, err
	}
	n.dirty()
	return true, nil
}

// RemoveReference removes one occurrence of dst from a references field.
func (n *Node) RemoveReference(idx int, dst ID) (bool, error) {
	f, err := n.field(idx, schema.FieldReferences)
	if err != nil {
		return false, err
	}
	cur := n.dynamicValue(idx)
	pos, found := findRef(cur, dst, f.Edge.IsArray())
	if !found {
		return false, nil
	}
	next := make([]byte, 0, len(cur)-8)
	next = append(next, cur[:pos*8]...)
	next = append(next, cur[pos*8+8:]...)
	if err := n.setDynamic(idx, next, false); err != nil {
		return false, err
	}
	n.dirty()
	return true, nil
}

// Value returns the canonical bytes of a non-virtual field: the micro-buffer
// or string content, text, a little-endian u64 per reference.
func (n *Node) Value(idx int) ([]byte, error) {
	f, err := n.field(idx)
	if err != nil {
		return nil, err
	}
	switch f.Class() {
	case schema.ClassVirtual:
		return nil, fmt.Errorf("%w: field %d is virtual", ErrFieldType, idx)
	case schema.ClassDynamic:
		return n.dynamicValue(idx), nil
	}
	area := n.fixedArea(idx)
	switch f.Type {
	case schema.FieldMicroBuffer:
		return area[2 : 2+int(binary.LittleEndian.Uint16(area))], nil
	case schema.FieldString:
		return area[1 : 1+int(area[0])], nil
	default:
		return area[:8], nil
	}
}

// SetValue is the inverse of Value.
func (n *Node) SetValue(idx int, v []byte) error {
	f, err := n.field(idx)
	if err != nil {
		return err
	}
	switch f.Type {
	case schema.FieldMicroBuffer:
		return n.SetMicroBuffer(idx, v)
	case schema.FieldString:
		return n.SetString(idx, string(v))
	case schema.FieldText:
		return n.SetText(idx, string(v))
	case schema.FieldReference:
		if len(v) != 8 {
			return fmt.Errorf("%w: reference value is %d bytes", ErrFieldType, len(v))
		}
		_, err := n.SetReference(idx, ID(binary.LittleEndian.Uint64(v)))
		return err
	case schema.FieldReferences:
		if len(v)%8 != 0 {
			return fmt.Errorf("%w: references value is %d bytes", ErrFieldType, len(v))
		}
		if limit := f.Edge.Limit(); limit > 0 && len(v)/8 > int(limit) {
			return fmt.Errorf("%w: %d references, field %d holds %d", ErrCapacity, len(v)/8, idx, limit)
		}
		if err := n.setDynamic(idx, bytes.Clone(v), false); err != nil {
			return err
		}
		n.dirty()
		return nil
	default:
		return fmt.Errorf("%w: field %d is virtual", ErrFieldType, idx)
	}
}

// DeleteField resets field idx. Fixed fields return to their default,
// dynamic fields become unset, alias fields lose all names and columnar
// fields return to their default vector.
func (n *Node) DeleteField(idx int) error {
	f, err := n.field(idx)
	if err != nil {
		return err
	}
	switch f.Class() {
	case schema.ClassFixed:
		off := n.fields.slots[idx].Offset()
		area := n.fixedArea(idx)[:f.FixedSize()]
		if d := n.typ.schema.Template.Defaults; d != nil {
			copy(area, d[off:off+f.FixedSize()])
		} else {
			clear(area)
		}
	case schema.ClassDynamic:
		n.fields.slots[idx] = n.fields.slots[idx].Clear()
	default:
		switch f.Type {
		case schema.FieldAlias, schema.FieldAliases:
			n.typ.aliases[idx].delDest(n.id)
		case schema.FieldColvec:
			if err := n.typ.colvecReset(idx, n.id); err != nil {
				return err
			}
		}
	}
	n.dirty()
	return nil
}

func (n *Node) dynamicValue(idx int) []byte {
	s := n.fields.slots[idx]
	if !s.InUse() {
		return nil
	}
	buf := n.fields.dyn.bytes()
	off := s.Offset()
	l := int(binary.LittleEndian.Uint32(buf[off+4:]))
	return buf[off+regionHeader : off+regionHeader+l : off+regionHeader+l]
}

// setDynamic stores v for dynamic field idx, in place when it fits.
// grow doubles the region on relocation to amortize appends.
func (n *Node) setDynamic(idx int, v []byte, grow bool) error {
	if len(v) > schema.MaxSlotOffset {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(v))
	}
	s := n.fields.slots[idx]
	oldCap := 0
	if s.InUse() {
		off := s.Offset()
		oldCap = int(binary.LittleEndian.Uint32(n.fields.dyn.bytes()[off:]))
		if len(v) <= oldCap {
			buf := n.fields.dyn.mutable()
			binary.LittleEndian.PutUint32(buf[off+4:], uint32(len(v))) //nolint:gosec // <= oldCap
			copy(buf[off+regionHeader:], v)
			clear(buf[off+regionHeader+len(v) : off+regionHeader+oldCap])
			return nil
		}
	}
	capacity := len(v)
	if grow {
		capacity = max(capacity, 2*oldCap)
	}
	return n.relayout(idx, v, capacity, false)
}

// relayout rebuilds the dynamic buffer from live regions, replacing field
// replace (if >= 0) with v in a region of the given capacity. trim shrinks
// every region to its length.
func (n *Node) relayout(replace int, v []byte, capacity int, trim bool) error {
	sc := n.typ.schema
	first, last := sc.NrFixed, sc.NrFixed+sc.NrDynamic

	regionCap := func(i int) int {
		if i == replace {
			return capacity
		}
		if trim {
			return len(n.dynamicValue(i))
		}
		off := n.fields.slots[i].Offset()
		return int(binary.LittleEndian.Uint32(n.fields.dyn.bytes()[off:]))
	}

	size := 0
	for i := first; i < last; i++ {
		if i == replace || n.fields.slots[i].InUse() {
			size += regionHeader + align8(regionCap(i))
		}
	}
	if size > schema.MaxSlotOffset {
		return fmt.Errorf("%w: dynamic fields need %d bytes", ErrValueTooLarge, size)
	}

	buf := make([]byte, size)
	slots := slices.Clone(n.fields.slots)
	off := 0
	for i := first; i < last; i++ {
		var val []byte
		switch {
		case i == replace:
			val = v
		case n.fields.slots[i].InUse():
			val = n.dynamicValue(i)
		default:
			continue
		}
		c := regionCap(i)
		binary.LittleEndian.PutUint32(buf[off:], uint32(c))        //nolint:gosec // <= MaxSlotOffset
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(len(val))) //nolint:gosec // <= c
		copy(buf[off+regionHeader:], val)
		slots[i] = schema.NewSlot(off)
		off += regionHeader + align8(c)
	}

	n.fields.slots = slots
	n.fields.dyn.set(buf)
	return nil
}

// compact drops unset regions and trims every region to its length.
func (n *Node) compact() {
	if n.fields.dyn.size() == 0 {
		return
	}
	_ = n.relayout(-1, nil, 0, true)
}

func (n *Node) release() {
	if !n.fields.fixed.IsNil() {
		n.typ.fixed.Put(n.fields.fixed)
		n.fields.fixed = pool.Ref{}
	}
	n.fields.dyn.set(nil)
	n.fields.slots = nil
	n.typ = nil
	n.blk = nil
}

// findRef locates dst in an encoded id list. Sets are sorted and searched
// by bisection; arrays are scanned and pos is the append position when
// dst is absent.
func findRef(enc []byte, dst ID, array bool) (pos int, found bool) {
	k := len(enc) / 8
	at := func(i int) ID { return ID(binary.LittleEndian.Uint64(enc[i*8:])) }
	if array {
		for i := 0; i < k; i++ {
			if at(i) == dst {
				return i, true
			}
		}
		return k, false
	}
	lo, hi := 0, k
	for lo < hi {
		m := int(uint(lo+hi) >> 1)
		if at(m) < dst {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo, lo < k && at(lo) == dst
}

func decodeIDs(enc []byte) []ID {
	ids := make([]ID, len(enc)/8)
	for i := range ids {
		ids[i] = ID(binary.LittleEndian.Uint64(enc[i*8:]))
	}
	return ids
}

func align8(n int) int { return (n + 7) &^ 7 }
