package node

import "errors"

var (
	// ErrInvalidNodeID is returned for id 0 or ids beyond schema.MaxNodeID.
	ErrInvalidNodeID = errors.New("node: invalid node id")
	// ErrNodeNotFound is returned when a referenced node is not resident.
	ErrNodeNotFound = errors.New("node: not found")
	// ErrBlockNotLoaded is returned when a block exists only on disk.
	ErrBlockNotLoaded = errors.New("node: block not loaded")
	// ErrBlockDirty is returned when unloading a block that is not saved.
	ErrBlockDirty = errors.New("node: block has unsaved changes")
	// ErrFieldType is returned when a field is accessed as the wrong type.
	ErrFieldType = errors.New("node: field type mismatch")
	// ErrNoField is returned for a field index outside the schema.
	ErrNoField = errors.New("node: no such field")
	// ErrValueTooLarge is returned when a value exceeds the field's size.
	ErrValueTooLarge = errors.New("node: value too large")
	// ErrCapacity is returned when a references field is full.
	ErrCapacity = errors.New("node: references capacity reached")
	// ErrAliasTaken is returned when an alias name points at another node.
	ErrAliasTaken = errors.New("node: alias taken")
	// ErrInvalidAlias is returned for an empty or oversized alias name.
	ErrInvalidAlias = errors.New("node: invalid alias")
)
