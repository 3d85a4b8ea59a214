// Package types defines core domain types for the datawriter pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// RunNumber identifies a data-taking run.
type RunNumber uint32

// EventID identifies a logical event within a run.
type EventID uint64

// RecordPart is one fragment of a logical event delivered by the upstream
// collection stage. A logical event with MaxSeqNumber N consists of parts
// numbered 0..N sharing the same RunNumber and EventID.
//
// A RecordPart is owned by exactly one component at a time: the ingest loop
// receives it, hands it to the processor, and the part is consumed once
// written or dropped. Fields use msgpack tags to match the wire format of the
// upstream builder.
type RecordPart struct {
	// RunNumber is the run this part belongs to.
	RunNumber RunNumber `msgpack:"run_number"`
	// EventID is the logical event identifier, scoped to the run.
	EventID EventID `msgpack:"event_id"`
	// SeqNumber is the zero-based part index within the event.
	SeqNumber uint32 `msgpack:"seq_number"`
	// MaxSeqNumber is the zero-based index of the last part. Zero means the
	// event consists of this single part.
	MaxSeqNumber uint32 `msgpack:"max_seq_number"`
	// SourceID labels the producing element, used as the storage key subgroup.
	SourceID string `msgpack:"source_id"`
	// Payload is the opaque persistable content.
	Payload []byte `msgpack:"payload"`
}

// Size returns the payload size in bytes.
func (p *RecordPart) Size() uint64 {
	return uint64(len(p.Payload))
}

// Validate checks structural invariants of the part.
func (p *RecordPart) Validate() error {
	if p == nil {
		return errors.New("record part must be non-nil")
	}
	if p.SeqNumber > p.MaxSeqNumber {
		return fmt.Errorf("seq_number %d exceeds max_seq_number %d", p.SeqNumber, p.MaxSeqNumber)
	}
	return nil
}

// PartCount returns the number of parts the complete event consists of.
func (p *RecordPart) PartCount() int {
	return int(p.MaxSeqNumber) + 1
}
