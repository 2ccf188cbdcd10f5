package schema

import "fmt"

// TypeID identifies a registered node type.
type TypeID uint16

// FieldType is the wire tag of a field record.
type FieldType uint8

const (
	FieldMicroBuffer    FieldType = 1
	FieldString         FieldType = 2
	FieldText           FieldType = 3
	FieldReference      FieldType = 4
	FieldReferences     FieldType = 5
	FieldWeakReference  FieldType = 6 // dump-only, format v1
	FieldWeakReferences FieldType = 7 // dump-only, format v1
	FieldAlias          FieldType = 8
	FieldAliases        FieldType = 9
	FieldColvec         FieldType = 10
)

func (t FieldType) String() string {
	switch t {
	case FieldMicroBuffer:
		return "micro_buffer"
	case FieldString:
		return "string"
	case FieldText:
		return "text"
	case FieldReference:
		return "reference"
	case FieldReferences:
		return "references"
	case FieldWeakReference:
		return "weak_reference"
	case FieldWeakReferences:
		return "weak_references"
	case FieldAlias:
		return "alias"
	case FieldAliases:
		return "aliases"
	case FieldColvec:
		return "colvec"
	default:
		return fmt.Sprintf("field_type(%d)", uint8(t))
	}
}

// Class places a field in the fixed, dynamic or virtual group.
type Class uint8

const (
	ClassFixed Class = iota
	ClassDynamic
	ClassVirtual
)

func (c Class) String() string {
	switch c {
	case ClassFixed:
		return "fixed"
	case ClassDynamic:
		return "dynamic"
	default:
		return "virtual"
	}
}

// EdgeFlags describe a reference field.
type EdgeFlags uint8

const (
	// EdgeBidirectional keeps an inverse edge on the destination node.
	EdgeBidirectional EdgeFlags = 1 << iota
	// EdgeArray allows duplicates and keeps insertion order; otherwise the
	// references form a set.
	EdgeArray
	// EdgeHasCapacity limits the number of references.
	EdgeHasCapacity

	edgeFlagsMask = EdgeBidirectional | EdgeArray | EdgeHasCapacity
)

// NoInverse marks an edge without an inverse field.
const NoInverse = 0xFF

// MaxFixedStringLen is the longest fixed string.
const MaxFixedStringLen = 48

// EdgeConstraint describes one endpoint of a reference relation.
// For bidirectional edges Inverse points at the constraint of the other
// endpoint once both types are registered.
type EdgeConstraint struct {
	Flags        EdgeFlags
	DstType      TypeID
	InverseField uint8
	Capacity     uint32
	Inverse      *EdgeConstraint
}

// Bidirectional reports whether the edge keeps an inverse.
func (e *EdgeConstraint) Bidirectional() bool { return e.Flags&EdgeBidirectional != 0 }

// IsArray reports array semantics (duplicates allowed).
func (e *EdgeConstraint) IsArray() bool { return e.Flags&EdgeArray != 0 }

// Limit returns the reference capacity or 0 for unlimited.
func (e *EdgeConstraint) Limit() uint32 {
	if e.Flags&EdgeHasCapacity == 0 {
		return 0
	}
	return e.Capacity
}

// FieldSchema is one compiled field.
type FieldSchema struct {
	Index uint8
	Type  FieldType

	// Len is the micro-buffer length or the fixed string capacity
	// (0 for a dynamic string).
	Len int
	// Default value, a slice of the schema's raw bytes. Nil if absent.
	Default []byte

	Edge *EdgeConstraint

	VecLen   uint16
	CompSize uint16
}

// Class returns where the field is stored.
func (f *FieldSchema) Class() Class {
	switch f.Type {
	case FieldMicroBuffer, FieldReference:
		return ClassFixed
	case FieldString:
		if f.Len > 0 {
			return ClassFixed
		}
		return ClassDynamic
	case FieldText, FieldReferences:
		return ClassDynamic
	default:
		return ClassVirtual
	}
}

// FixedSize is the field's footprint in the fixed area, a multiple of 8.
// Zero for non-fixed fields.
func (f *FieldSchema) FixedSize() int {
	switch f.Class() {
	case ClassFixed:
	default:
		return 0
	}
	switch f.Type {
	case FieldMicroBuffer:
		return align8(2 + f.Len)
	case FieldString:
		return align8(1 + f.Len)
	default: // reference
		return 8
	}
}

// VectorSize is the byte size of one columnar vector.
func (f *FieldSchema) VectorSize() int {
	return int(f.VecLen) * int(f.CompSize)
}

func align8(n int) int { return (n + 7) &^ 7 }
