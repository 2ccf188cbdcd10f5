package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSchema is returned for malformed schema bytes.
	ErrInvalidSchema = errors.New("schema: invalid schema")
	// ErrSchemaTooLarge is returned when a schema declares more than MaxFields
	// fields or encodes to more than MaxSize bytes.
	ErrSchemaTooLarge = errors.New("schema: too large")
	// ErrZeroBlockCapacity is returned when the block capacity is zero.
	ErrZeroBlockCapacity = errors.New("schema: zero block capacity")
	// ErrUnsupportedVersion is returned for a schema version newer than MaxVersion.
	ErrUnsupportedVersion = errors.New("schema: unsupported version")
	// ErrEdgeMismatch is returned when two bidirectional edges do not point at each other.
	ErrEdgeMismatch = errors.New("schema: edge constraint mismatch")
)

// FieldError reports which field record failed to parse.
type FieldError struct {
	Index  int
	Type   FieldType
	Offset int
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("schema: field %d (%s) at offset %d: %v", e.Index, e.Type, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }
