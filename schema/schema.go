package schema

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the schema header.
	HeaderSize = 8
	// MaxFields is the largest field count a schema may declare.
	MaxFields = 250
	// MaxSize bounds the encoded schema, defaults included.
	MaxSize = 16 << 20
	// MaxVersion is the newest schema version this package compiles.
	MaxVersion = 1
	// MaxNodeID is the largest valid node id.
	MaxNodeID = 1<<32 - 1
)

// Schema is a compiled node schema.
type Schema struct {
	raw []byte

	BlockCapacity uint32
	Version       uint8
	Fields        []FieldSchema

	NrFixed   int
	NrDynamic int
	NrVirtual int

	Template Template

	aliasFields  []int
	colvecFields []int
	edgeFields   []int
}

// Raw returns the schema bytes it was compiled from.
func (s *Schema) Raw() []byte { return s.raw }

// Equal reports whether raw is byte-identical to the compiled schema.
func (s *Schema) Equal(raw []byte) bool { return bytes.Equal(s.raw, raw) }

// Field returns the field at idx or nil.
func (s *Schema) Field(idx int) *FieldSchema {
	if idx < 0 || idx >= len(s.Fields) {
		return nil
	}
	return &s.Fields[idx]
}

// AliasFields returns the indices of alias fields.
func (s *Schema) AliasFields() []int { return s.aliasFields }

// ColvecFields returns the indices of columnar vector fields.
func (s *Schema) ColvecFields() []int { return s.colvecFields }

// EdgeFields returns the indices of reference fields.
func (s *Schema) EdgeFields() []int { return s.edgeFields }

// NrBlocks is the number of blocks covering [1, MaxNodeID].
func (s *Schema) NrBlocks() uint32 {
	c := uint64(s.BlockCapacity)
	return uint32((MaxNodeID + c - 1) / c) //nolint:gosec // <= MaxNodeID
}

// BlockIndex returns the block holding id. id must be non-zero.
func (s *Schema) BlockIndex(id uint64) uint32 {
	return uint32((id - 1) / uint64(s.BlockCapacity)) //nolint:gosec // id <= MaxNodeID
}

// BlockRange returns the first and last id of block idx.
func (s *Schema) BlockRange(idx uint32) (first, last uint64) {
	c := uint64(s.BlockCapacity)
	first = uint64(idx)*c + 1
	last = min(first+c-1, MaxNodeID)
	return first, last
}

// Compile parses raw into a Schema. The returned schema keeps its own copy
// of raw.
func Compile(raw []byte) (*Schema, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrInvalidSchema, len(raw))
	}
	if len(raw) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrSchemaTooLarge, len(raw), MaxSize)
	}

	s := &Schema{raw: bytes.Clone(raw)}
	c := &cursor{buf: s.raw}

	s.BlockCapacity = c.u32()
	nrFields := int(c.u8())
	nrFixed := int(c.u8())
	nrVirtual := int(c.u8())
	s.Version = c.u8()

	if s.BlockCapacity == 0 {
		return nil, ErrZeroBlockCapacity
	}
	if s.Version > MaxVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	if nrFields > MaxFields {
		return nil, fmt.Errorf("%w: %d > %d", ErrSchemaTooLarge, nrFields, MaxFields)
	}
	if nrFixed+nrVirtual > nrFields {
		return nil, fmt.Errorf("%w: %d fixed + %d virtual exceed %d fields", ErrInvalidSchema, nrFixed, nrVirtual, nrFields)
	}

	s.NrFixed = nrFixed
	s.NrVirtual = nrVirtual
	s.NrDynamic = nrFields - nrFixed - nrVirtual
	s.Fields = make([]FieldSchema, nrFields)

	for i := range s.Fields {
		off := c.pos
		t := FieldType(c.u8())
		if c.err != nil {
			return nil, fmt.Errorf("%w: field count %d, records end after %d", ErrInvalidSchema, nrFields, i)
		}
		f := &s.Fields[i]
		f.Index = uint8(i) //nolint:gosec // i < MaxFields
		f.Type = t

		var parse parseFunc
		if int(t) < len(parsers) {
			parse = parsers[t]
		}
		if parse == nil {
			return nil, &FieldError{Index: i, Type: t, Offset: off, Err: fmt.Errorf("%w: unknown field type", ErrInvalidSchema)}
		}
		if err := parse(c, f); err != nil {
			return nil, &FieldError{Index: i, Type: t, Offset: off, Err: err}
		}
		if c.err != nil {
			return nil, &FieldError{Index: i, Type: t, Offset: off, Err: fmt.Errorf("%w: %w", ErrInvalidSchema, c.err)}
		}

		if want := s.classOf(i); f.Class() != want {
			return nil, &FieldError{Index: i, Type: t, Offset: off, Err: fmt.Errorf("%w: %s field in %s group", ErrInvalidSchema, f.Class(), want)}
		}

		switch t {
		case FieldAlias, FieldAliases:
			s.aliasFields = append(s.aliasFields, i)
		case FieldColvec:
			s.colvecFields = append(s.colvecFields, i)
		case FieldReference, FieldReferences:
			s.edgeFields = append(s.edgeFields, i)
		}
	}

	if c.pos != len(s.raw) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d fields", ErrInvalidSchema, len(s.raw)-c.pos, nrFields)
	}

	s.Template = buildTemplate(s.Fields)
	return s, nil
}

func (s *Schema) classOf(i int) Class {
	switch {
	case i < s.NrFixed:
		return ClassFixed
	case i < s.NrFixed+s.NrDynamic:
		return ClassDynamic
	default:
		return ClassVirtual
	}
}

// buildTemplate places fixed fields and renders their defaults.
// It panics if an offset does not fit a Slot.
func buildTemplate(fields []FieldSchema) Template {
	t := Template{Slots: make([]Slot, len(fields))}
	hasDefault := false

	off := 0
	for i := range fields {
		f := &fields[i]
		if f.Class() != ClassFixed {
			continue
		}
		t.Slots[i] = NewSlot(off)
		off += f.FixedSize()
		if f.Default != nil {
			hasDefault = true
		}
	}
	t.FixedSize = off

	if !hasDefault {
		return t
	}

	t.Defaults = make([]byte, t.FixedSize)
	for i := range fields {
		f := &fields[i]
		if f.Class() != ClassFixed || f.Default == nil {
			continue
		}
		area := t.Defaults[t.Slots[i].Offset():]
		switch f.Type {
		case FieldMicroBuffer:
			binary.LittleEndian.PutUint16(area, uint16(len(f.Default))) //nolint:gosec // <= u16
			copy(area[2:], f.Default)
		case FieldString:
			area[0] = uint8(len(f.Default)) //nolint:gosec // <= MaxFixedStringLen
			copy(area[1:], f.Default)
		}
	}
	return t
}

// cursor reads little-endian values with a sticky error.
type cursor struct {
	buf []byte
	pos int
	err error
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if c.pos+n > len(c.buf) {
		c.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.buf[c.pos]
	c.pos++
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v
}

// bytes returns a subslice of the underlying buffer.
func (c *cursor) bytes(n int) []byte {
	if !c.need(n) {
		return nil
	}
	v := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return v
}
