// Package nodedb provides an embedded, schema-typed node storage engine.
//
// Every node belongs to a registered type. A type's schema, compiled from
// raw bytes by the schema package, fixes the layout of its fields: fixed
// fields live in slab-allocated pools, dynamic fields in a per-node buffer,
// and alias and columnar-vector fields in per-type side structures. The id
// space of a type is split into blocks of schema-defined capacity; blocks
// are the unit of persistence and eviction.
//
// # Quick Start
//
//	raw := schema.NewBuilder(100).String(16, "").MustBuild()
//
//	db, _ := nodedb.New()
//	defer db.Destroy()
//	_ = db.RegisterType(1, raw)
//
//	n, _, _ := db.UpsertNode(ctx, 1, 42)
//	_ = n.SetString(0, "hello")
//
// # Durability
//
// The database is persisted as one common dump (identity, schemas, pending
// expirations and the table of saved blocks) plus one dump per block. Dumps
// can be written to any sdb.Carrier:
//
//	_ = db.SaveBlockFile("t1-b0.sdb", 1, 0)
//	_ = db.SaveCommonFile("common.sdb")
//
// or, with a blob store configured, by a single Checkpoint:
//
//	store := blobstore.NewLocalStore("./data")
//	db, _ := nodedb.New(nodedb.WithStore(store), nodedb.WithCompression(sdb.CompressionZstd))
//	_ = db.Checkpoint(ctx)
//
// A new database over the same store calls Restore and then loads blocks on
// first access. With WithMemoryLimit, clean blocks are evicted least
// recently used first and reloaded when touched again.
//
// # Expiration
//
// ExpireNode schedules a node for deletion at an absolute time;
// TickExpirations deletes every node that is due.
package nodedb
