package schema

import (
	"encoding/binary"
	"fmt"
)

// Builder authors schema bytes. Fields must be added fixed first, then
// dynamic, then virtual; Build validates the result by compiling it.
type Builder struct {
	capacity uint32
	version  uint8
	fields   []FieldType
	classes  []Class
	body     []byte
	err      error
}

// NewBuilder starts a schema with the given block capacity.
func NewBuilder(blockCapacity uint32) *Builder {
	return &Builder{capacity: blockCapacity, version: MaxVersion}
}

// Version overrides the schema version byte.
func (b *Builder) Version(v uint8) *Builder {
	b.version = v
	return b
}

// MicroBuffer adds a fixed buffer of n bytes. def, if non-nil, must be n bytes.
func (b *Builder) MicroBuffer(n int, def []byte) *Builder {
	if def != nil && len(def) != n {
		b.fail(fmt.Errorf("micro buffer default is %d bytes, want %d", len(def), n))
		return b
	}
	b.add(FieldMicroBuffer, ClassFixed)
	b.body = binary.LittleEndian.AppendUint16(b.body, uint16(n)) //nolint:gosec // validated by Compile
	if def != nil {
		b.body = append(b.body, 1)
		b.body = append(b.body, def...)
	} else {
		b.body = append(b.body, 0)
	}
	return b
}

// String adds a string field; fixedLen 0 makes it dynamic.
func (b *Builder) String(fixedLen int, def string) *Builder {
	class := ClassDynamic
	if fixedLen > 0 {
		class = ClassFixed
	}
	b.add(FieldString, class)
	b.body = append(b.body, uint8(fixedLen))                              //nolint:gosec // validated by Compile
	b.body = binary.LittleEndian.AppendUint32(b.body, uint32(len(def))) //nolint:gosec // bounded
	b.body = append(b.body, def...)
	return b
}

// Text adds a dynamic text field.
func (b *Builder) Text() *Builder {
	b.add(FieldText, ClassDynamic)
	return b
}

// Reference adds a single reference to type dst. Pass NoInverse for a
// unidirectional edge.
func (b *Builder) Reference(dst TypeID, inverse uint8, flags EdgeFlags) *Builder {
	b.add(FieldReference, ClassFixed)
	b.edge(dst, inverse, flags, 0)
	return b
}

// References adds a multi reference field. A non-zero capacity sets
// EdgeHasCapacity.
func (b *Builder) References(dst TypeID, inverse uint8, flags EdgeFlags, capacity uint32) *Builder {
	b.add(FieldReferences, ClassDynamic)
	if capacity > 0 {
		flags |= EdgeHasCapacity
	}
	b.edge(dst, inverse, flags, capacity)
	return b
}

// Alias adds a single-name alias field.
func (b *Builder) Alias() *Builder {
	b.add(FieldAlias, ClassVirtual)
	return b
}

// Aliases adds a multi-name alias field.
func (b *Builder) Aliases() *Builder {
	b.add(FieldAliases, ClassVirtual)
	return b
}

// Colvec adds a columnar vector field. def, if non-nil, must be
// vecLen*compSize bytes.
func (b *Builder) Colvec(vecLen, compSize uint16, def []byte) *Builder {
	if def != nil && len(def) != int(vecLen)*int(compSize) {
		b.fail(fmt.Errorf("colvec default is %d bytes, want %d", len(def), int(vecLen)*int(compSize)))
		return b
	}
	b.add(FieldColvec, ClassVirtual)
	b.body = binary.LittleEndian.AppendUint16(b.body, vecLen)
	b.body = binary.LittleEndian.AppendUint16(b.body, compSize)
	if def != nil {
		b.body = append(b.body, 1)
		b.body = append(b.body, def...)
	} else {
		b.body = append(b.body, 0)
	}
	return b
}

// Build returns the schema bytes.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.fields) > MaxFields {
		return nil, fmt.Errorf("%w: %d > %d", ErrSchemaTooLarge, len(b.fields), MaxFields)
	}

	var nrFixed, nrVirtual int
	for _, c := range b.classes {
		switch c {
		case ClassFixed:
			nrFixed++
		case ClassVirtual:
			nrVirtual++
		}
	}

	raw := make([]byte, HeaderSize, HeaderSize+len(b.body))
	binary.LittleEndian.PutUint32(raw, b.capacity)
	raw[4] = uint8(len(b.fields)) //nolint:gosec // <= MaxFields
	raw[5] = uint8(nrFixed)       //nolint:gosec // <= MaxFields
	raw[6] = uint8(nrVirtual)     //nolint:gosec // <= MaxFields
	raw[7] = b.version
	raw = append(raw, b.body...)

	if _, err := Compile(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() []byte {
	raw, err := b.Build()
	if err != nil {
		panic(err)
	}
	return raw
}

func (b *Builder) add(t FieldType, c Class) {
	b.body = append(b.body, uint8(t))
	b.fields = append(b.fields, t)
	b.classes = append(b.classes, c)
}

func (b *Builder) edge(dst TypeID, inverse uint8, flags EdgeFlags, capacity uint32) {
	b.body = append(b.body, uint8(flags))
	b.body = binary.LittleEndian.AppendUint16(b.body, uint16(dst))
	b.body = append(b.body, inverse)
	if flags&EdgeHasCapacity != 0 {
		b.body = binary.LittleEndian.AppendUint32(b.body, capacity)
	}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
}
