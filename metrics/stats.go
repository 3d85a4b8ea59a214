// Package metrics provides run-scoped counters for the datawriter.
//
// WriterStats is a leaf type with no internal dependencies. The single worker
// goroutine increments; an external monitoring collaborator may read a
// Snapshot at any time, so every field is an atomic.
package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable point-in-time view of the writer counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// RecordsReceived is the count received since the last Poll.
	RecordsReceived uint64
	// RecordsReceivedTot is the count received since run start.
	RecordsReceivedTot uint64
	// RecordsWritten is the count written since the last Poll.
	RecordsWritten uint64
	// RecordsWrittenTot is the count written since run start.
	RecordsWrittenTot uint64
	// BytesWritten is the payload bytes written since run start.
	BytesWritten uint64
	// WriteTime is the cumulative wall-clock time spent in successful writes.
	WriteTime time.Duration
}

// WriterStats accumulates counters during a single run.
// Increment methods are nil-receiver safe.
type WriterStats struct {
	recordsReceived    atomic.Uint64 // since last poll
	recordsReceivedTot atomic.Uint64
	recordsWritten     atomic.Uint64 // since last poll
	recordsWrittenTot  atomic.Uint64
	bytesWritten       atomic.Uint64
	writeTimeNanos     atomic.Int64
}

// NewWriterStats creates a zeroed stats object.
func NewWriterStats() *WriterStats {
	return &WriterStats{}
}

// IncReceived records one received record part.
func (s *WriterStats) IncReceived() {
	if s == nil {
		return
	}
	s.recordsReceived.Add(1)
	s.recordsReceivedTot.Add(1)
}

// IncWritten records one successful write of the given size and duration.
func (s *WriterStats) IncWritten(bytes uint64, elapsed time.Duration) {
	if s == nil {
		return
	}
	s.recordsWritten.Add(1)
	s.recordsWrittenTot.Add(1)
	s.bytesWritten.Add(bytes)
	s.writeTimeNanos.Add(int64(elapsed))
}

// Reset zeroes all counters. Called at run start.
func (s *WriterStats) Reset() {
	if s == nil {
		return
	}
	s.recordsReceived.Store(0)
	s.recordsReceivedTot.Store(0)
	s.recordsWritten.Store(0)
	s.recordsWrittenTot.Store(0)
	s.bytesWritten.Store(0)
	s.writeTimeNanos.Store(0)
}

// Snapshot returns a point-in-time view without resetting anything.
func (s *WriterStats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		RecordsReceived:    s.recordsReceived.Load(),
		RecordsReceivedTot: s.recordsReceivedTot.Load(),
		RecordsWritten:     s.recordsWritten.Load(),
		RecordsWrittenTot:  s.recordsWrittenTot.Load(),
		BytesWritten:       s.bytesWritten.Load(),
		WriteTime:          time.Duration(s.writeTimeNanos.Load()),
	}
}

// Poll returns a snapshot and resets the since-last-poll counters.
// Lifetime (run-total) counters are left untouched.
func (s *WriterStats) Poll() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		RecordsReceived:    s.recordsReceived.Swap(0),
		RecordsReceivedTot: s.recordsReceivedTot.Load(),
		RecordsWritten:     s.recordsWritten.Swap(0),
		RecordsWrittenTot:  s.recordsWrittenTot.Load(),
		BytesWritten:       s.bytesWritten.Load(),
		WriteTime:          time.Duration(s.writeTimeNanos.Load()),
	}
	return snap
}
