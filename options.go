package nodedb

import (
	"log/slog"
	"time"

	"github.com/hupe1980/nodedb/blobstore"
	"github.com/hupe1980/nodedb/internal/fs"
	"github.com/hupe1980/nodedb/internal/mmap"
	"github.com/hupe1980/nodedb/sdb"
)

// AccessPattern is a paging hint applied to node pool slabs.
type AccessPattern = mmap.AccessPattern

// Access patterns for WithPoolAdvice.
const (
	AccessDefault    = mmap.AccessDefault
	AccessSequential = mmap.AccessSequential
	AccessRandom     = mmap.AccessRandom
	AccessWillNeed   = mmap.AccessWillNeed
)

type options struct {
	logger            *Logger
	metricsCollector  MetricsCollector
	store             blobstore.Store
	storeCache        int64
	fsys              fs.FileSystem
	compression       sdb.Compression
	hugePages         bool
	poolAdvice        AccessPattern
	slabSize          int
	memoryBudget      int64
	ioLimit           int64
	checkpointWorkers int64
	clock             func() time.Time
}

// Option configures a DB.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := nodedb.NewJSONLogger(slog.LevelInfo)
//	db, _ := nodedb.New(nodedb.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
//	metrics := &nodedb.BasicMetricsCollector{}
//	db, _ := nodedb.New(nodedb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithStore backs the database with a blob store. Checkpoint writes dirty
// blocks and the common dump to it, Restore reads the common dump back,
// and blocks that exist only in the store are loaded on first access.
func WithStore(store blobstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithStoreCache keeps up to bytes of recently read dumps in memory in front
// of the store, so a block evicted and reloaded soon after is not fetched
// again. The cache is not counted against WithMemoryLimit.
func WithStoreCache(bytes int64) Option {
	return func(o *options) {
		o.storeCache = bytes
	}
}

// WithFileSystem sets the file system used by the File variants of the
// save and load operations.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithCompression sets the body compression of written dumps.
func WithCompression(c sdb.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithHugePages requests huge-page backed node pools where the OS supports it.
func WithHugePages(enabled bool) Option {
	return func(o *options) {
		o.hugePages = enabled
	}
}

// WithPoolAdvice sets the paging hint for node pool slabs.
func WithPoolAdvice(p AccessPattern) Option {
	return func(o *options) {
		o.poolAdvice = p
	}
}

// WithSlabSize sets the size of node pool slabs in bytes.
func WithSlabSize(n int) Option {
	return func(o *options) {
		o.slabSize = n
	}
}

// WithMemoryLimit sets the soft memory budget for resident blocks. Evict
// unloads the least recently used clean blocks while the node pools map
// more than this. 0 disables eviction.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryBudget = bytes
	}
}

// WithIOLimit caps store reads and writes in bytes per second.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithCheckpointWorkers sets how many blocks Checkpoint serializes and
// uploads concurrently. Default: 4.
func WithCheckpointWorkers(n int) Option {
	return func(o *options) {
		o.checkpointWorkers = int64(n)
	}
}

// WithClock replaces time.Now for expirations.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:            NoopLogger(),
		metricsCollector:  NoopMetricsCollector{},
		fsys:              fs.Default,
		compression:       sdb.CompressionNone,
		checkpointWorkers: 4,
		clock:             time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.fsys == nil {
		o.fsys = fs.Default
	}
	if o.store != nil && o.storeCache > 0 {
		o.store = blobstore.NewCachingStore(o.store, o.storeCache, nil)
	}
	return o
}
