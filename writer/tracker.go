// Package writer implements the durable-write stage: the write-retry engine,
// sequence-completion tracking, completion notification, and the ingest loop
// that drives them.
package writer

import "github.com/mfkiwl/dfmodules/types"

// Completion is the tracker's verdict for one observed record part.
type Completion int

const (
	// Incomplete means parts of the event are still outstanding.
	Incomplete Completion = iota
	// Complete means every part of the event has now been seen.
	Complete
	// Ignored means the part carried unusable sequence metadata and did not
	// count toward completion.
	Ignored
)

func (c Completion) String() string {
	switch c {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// SequenceTracker decides when a multi-part logical event is complete.
// Pure bookkeeping, no I/O. Counts received parts per event rather than
// tracking a set of seen sequence numbers: duplicate or out-of-order
// redelivery is tolerated at the cost of only approximate completeness.
//
// Owned exclusively by the single worker goroutine; no synchronization.
// An entry exists only for events that have received at least one part and
// fewer than all parts; entries vanish the moment the event completes.
type SequenceTracker struct {
	counts map[types.EventID]int
}

// NewSequenceTracker creates an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{counts: make(map[types.EventID]int)}
}

// Observe records one part of an event and reports whether the event is now
// complete. A part with maxSeq == 0 is a single-part event and completes
// immediately without ever entering the table. A part whose seq exceeds its
// maxSeq is ignored.
func (t *SequenceTracker) Observe(event types.EventID, seq, maxSeq uint32) Completion {
	if seq > maxSeq {
		return Ignored
	}
	if maxSeq == 0 {
		return Complete
	}

	count := t.counts[event] + 1
	// One-based count against zero-based max: all parts seen at maxSeq+1.
	if count > int(maxSeq) {
		delete(t.counts, event)
		return Complete
	}
	t.counts[event] = count
	return Incomplete
}

// Pending returns the number of events with outstanding parts.
func (t *SequenceTracker) Pending() int {
	return len(t.counts)
}

// Reset discards all entries. Called at run start and run stop; incomplete
// events are simply dropped with no completion signal.
func (t *SequenceTracker) Reset() {
	t.counts = make(map[types.EventID]int)
}
