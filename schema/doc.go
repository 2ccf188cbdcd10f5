// Package schema compiles binary type schemas into field tables.
//
// A schema buffer starts with an 8-byte little-endian header
//
//	u32 block_capacity | u8 nr_fields | u8 nr_fixed | u8 nr_virtual | u8 version
//
// followed by one record per field: a field type tag and a type-specific
// payload. Fixed fields come first and are placed at 8-byte aligned offsets
// in a node's fixed area, dynamic fields follow and live in the node's
// dynamic buffer, virtual fields (aliases, columnar vectors) come last and
// are stored outside the node.
//
// Use Builder to author schema bytes:
//
//	raw, err := schema.NewBuilder(1024).
//	    String(16, "").
//	    References(2, 0, schema.EdgeBidirectional, 0).
//	    Build()
//	s, err := schema.Compile(raw)
package schema
