package nodedb

import (
	"sync/atomic"
	"time"
)

// Dump kinds passed to RecordSave and RecordLoad.
const (
	DumpCommon = "common"
	DumpBlock  = "block"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides one for Prometheus.
type MetricsCollector interface {
	// RecordUpsert is called after each UpsertNode.
	// duration is the total time taken, err is nil if successful.
	RecordUpsert(duration time.Duration, err error)

	// RecordFind is called after each FindNode, including misses.
	RecordFind(duration time.Duration, err error)

	// RecordDelete is called after each DeleteNode.
	RecordDelete(duration time.Duration, err error)

	// RecordSave is called after each dump write. kind is DumpCommon or
	// DumpBlock, bytes the dump size.
	RecordSave(kind string, bytes int, duration time.Duration, err error)

	// RecordLoad is called after each dump read.
	RecordLoad(kind string, bytes int, duration time.Duration, err error)

	// RecordExpire is called after each expiration tick with the number of
	// tokens fired and still pending.
	RecordExpire(fired, pending int)

	// RecordEvict is called after blocks were evicted from memory.
	RecordEvict(blocks, nodes int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpsert(time.Duration, error)             {}
func (NoopMetricsCollector) RecordFind(time.Duration, error)               {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)             {}
func (NoopMetricsCollector) RecordSave(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordLoad(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordExpire(int, int)                         {}
func (NoopMetricsCollector) RecordEvict(int, int)                          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	UpsertCount      atomic.Int64
	UpsertErrors     atomic.Int64
	UpsertTotalNanos atomic.Int64
	FindCount        atomic.Int64
	FindErrors       atomic.Int64
	FindTotalNanos   atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	SaveCount        atomic.Int64
	SaveErrors       atomic.Int64
	SaveBytes        atomic.Int64
	LoadCount        atomic.Int64
	LoadErrors       atomic.Int64
	LoadBytes        atomic.Int64
	ExpireFired      atomic.Int64
	ExpirePending    atomic.Int64
	EvictedBlocks    atomic.Int64
	EvictedNodes     atomic.Int64
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(duration time.Duration, err error) {
	b.UpsertCount.Add(1)
	b.UpsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// RecordFind implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFind(duration time.Duration, err error) {
	b.FindCount.Add(1)
	b.FindTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FindErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(_ string, bytes int, _ time.Duration, err error) {
	b.SaveCount.Add(1)
	if err != nil {
		b.SaveErrors.Add(1)
		return
	}
	b.SaveBytes.Add(int64(bytes))
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(_ string, bytes int, _ time.Duration, err error) {
	b.LoadCount.Add(1)
	if err != nil {
		b.LoadErrors.Add(1)
		return
	}
	b.LoadBytes.Add(int64(bytes))
}

// RecordExpire implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExpire(fired, pending int) {
	b.ExpireFired.Add(int64(fired))
	b.ExpirePending.Store(int64(pending))
}

// RecordEvict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEvict(blocks, nodes int) {
	b.EvictedBlocks.Add(int64(blocks))
	b.EvictedNodes.Add(int64(nodes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		UpsertCount:    b.UpsertCount.Load(),
		UpsertErrors:   b.UpsertErrors.Load(),
		UpsertAvgNanos: avg(b.UpsertTotalNanos.Load(), b.UpsertCount.Load()),
		FindCount:      b.FindCount.Load(),
		FindErrors:     b.FindErrors.Load(),
		FindAvgNanos:   avg(b.FindTotalNanos.Load(), b.FindCount.Load()),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		SaveCount:      b.SaveCount.Load(),
		SaveErrors:     b.SaveErrors.Load(),
		SaveBytes:      b.SaveBytes.Load(),
		LoadCount:      b.LoadCount.Load(),
		LoadErrors:     b.LoadErrors.Load(),
		LoadBytes:      b.LoadBytes.Load(),
		ExpireFired:    b.ExpireFired.Load(),
		ExpirePending:  b.ExpirePending.Load(),
		EvictedBlocks:  b.EvictedBlocks.Load(),
		EvictedNodes:   b.EvictedNodes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	UpsertCount    int64
	UpsertErrors   int64
	UpsertAvgNanos int64
	FindCount      int64
	FindErrors     int64
	FindAvgNanos   int64
	DeleteCount    int64
	DeleteErrors   int64
	SaveCount      int64
	SaveErrors     int64
	SaveBytes      int64
	LoadCount      int64
	LoadErrors     int64
	LoadBytes      int64
	ExpireFired    int64
	ExpirePending  int64
	EvictedBlocks  int64
	EvictedNodes   int64
}
