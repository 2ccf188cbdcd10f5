// Package resource implements the Controller for global limits and governance.
//
// The Controller manages three resource types:
//
//   - Memory: track pool slab usage against a soft budget (drives block
//     eviction) and an optional hard limit (fail-fast Reserve)
//   - Concurrency: limit background workers (checkpoint, restore)
//   - IO: rate-limit dump reads and writes
//
// # Memory
//
// Pools report slab growth and shrink with Track. OverBudget never blocks
// or fails an allocation; the database consults it to pick blocks to evict:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryBudgetBytes: 1 << 30,
//	})
//	rc.Track(64 << 10)
//	if rc.OverBudget() {
//	    // unload least-recently-used blocks
//	}
//
// # Background Workers
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// # IO Rate Limiting
//
// Checkpoint uploads and on-demand block loads wait for their dump size:
//
//	if err := rc.AcquireIO(ctx, len(dump)); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
