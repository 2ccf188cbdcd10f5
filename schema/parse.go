package schema

import "fmt"

type parseFunc func(c *cursor, f *FieldSchema) error

// parsers is indexed by FieldType. Weak reference types are dump-only and
// have no schema parser.
var parsers = [...]parseFunc{
	FieldMicroBuffer: parseMicroBuffer,
	FieldString:      parseString,
	FieldText:        parseNone,
	FieldReference:   parseEdge,
	FieldReferences:  parseEdge,
	FieldAlias:       parseNone,
	FieldAliases:     parseNone,
	FieldColvec:      parseColvec,
}

func parseNone(*cursor, *FieldSchema) error { return nil }

// u16 len | u8 has_default | [len]
func parseMicroBuffer(c *cursor, f *FieldSchema) error {
	f.Len = int(c.u16())
	if c.u8() != 0 {
		f.Default = c.bytes(f.Len)
	}
	if f.Len == 0 && c.err == nil {
		return fmt.Errorf("%w: zero length micro buffer", ErrInvalidSchema)
	}
	return nil
}

// u8 fixed_len | u32 default_len | [default]
func parseString(c *cursor, f *FieldSchema) error {
	f.Len = int(c.u8())
	n := int(c.u32())
	if c.err != nil {
		return nil
	}
	if f.Len > MaxFixedStringLen {
		return fmt.Errorf("%w: fixed string length %d > %d", ErrInvalidSchema, f.Len, MaxFixedStringLen)
	}
	if f.Len > 0 && n > f.Len {
		return fmt.Errorf("%w: default length %d exceeds fixed length %d", ErrInvalidSchema, n, f.Len)
	}
	if n > 0 {
		f.Default = c.bytes(n)
	}
	return nil
}

// u8 flags | u16 dst_type | u8 inverse | [u32 capacity]
func parseEdge(c *cursor, f *FieldSchema) error {
	e := &EdgeConstraint{
		Flags:        EdgeFlags(c.u8()),
		DstType:      TypeID(c.u16()),
		InverseField: c.u8(),
	}
	if e.Flags&EdgeHasCapacity != 0 {
		e.Capacity = c.u32()
	}
	if c.err != nil {
		return nil
	}
	if e.Flags&^edgeFlagsMask != 0 {
		return fmt.Errorf("%w: unknown edge flags %#x", ErrInvalidSchema, uint8(e.Flags))
	}
	if e.Bidirectional() != (e.InverseField != NoInverse) {
		return fmt.Errorf("%w: bidirectional edge needs exactly one inverse field", ErrInvalidSchema)
	}
	if f.Type == FieldReference && e.Flags&(EdgeArray|EdgeHasCapacity) != 0 {
		return fmt.Errorf("%w: single reference with array or capacity flag", ErrInvalidSchema)
	}
	if e.Flags&EdgeHasCapacity != 0 && e.Capacity == 0 {
		return fmt.Errorf("%w: zero edge capacity", ErrInvalidSchema)
	}
	f.Edge = e
	return nil
}

// u16 vec_len | u16 comp_size | u8 has_default | [vec_len*comp_size]
func parseColvec(c *cursor, f *FieldSchema) error {
	f.VecLen = c.u16()
	f.CompSize = c.u16()
	hasDefault := c.u8() != 0
	if c.err != nil {
		return nil
	}
	if f.VecLen == 0 || f.CompSize == 0 {
		return fmt.Errorf("%w: empty columnar vector", ErrInvalidSchema)
	}
	if hasDefault {
		f.Default = c.bytes(f.VectorSize())
	}
	return nil
}
