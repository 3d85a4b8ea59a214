// Package adapter defines the run-summary publishing boundary.
//
// Adapters publish end-of-run summaries to downstream systems (monitoring,
// run catalogs, chat hooks). The CLI owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/mfkiwl/dfmodules/metrics"
	"github.com/mfkiwl/dfmodules/types"
)

// RunSummaryEvent is the payload published when a run stops.
type RunSummaryEvent struct {
	EventType        string `json:"event_type"` // always "run_summary"
	RunNumber        uint32 `json:"run_number"`
	RecordsReceived  uint64 `json:"records_received"`
	RecordsWritten   uint64 `json:"records_written"`
	BytesWritten     uint64 `json:"bytes_written"`
	IncompleteEvents int    `json:"incomplete_events"`
	StorageBackend   string `json:"storage_backend"`
	StoragePath      string `json:"storage_path,omitempty"`
	Timestamp        string `json:"timestamp"` // ISO 8601
	DurationMs       int64  `json:"duration_ms"`
}

// NewRunSummaryEvent builds the summary payload from the final counter
// snapshot of a run.
func NewRunSummaryEvent(run types.RunNumber, snap metrics.Snapshot, incomplete int, backend, path string, duration time.Duration) *RunSummaryEvent {
	return &RunSummaryEvent{
		EventType:        "run_summary",
		RunNumber:        uint32(run),
		RecordsReceived:  snap.RecordsReceivedTot,
		RecordsWritten:   snap.RecordsWrittenTot,
		BytesWritten:     snap.BytesWritten,
		IncompleteEvents: incomplete,
		StorageBackend:   backend,
		StoragePath:      path,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		DurationMs:       duration.Milliseconds(),
	}
}

// Adapter publishes run summary events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a run summary event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunSummaryEvent) error

	// Close releases adapter resources.
	Close() error
}
