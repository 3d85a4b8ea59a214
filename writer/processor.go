package writer

import (
	"context"

	"github.com/mfkiwl/dfmodules/log"
	"github.com/mfkiwl/dfmodules/metrics"
	"github.com/mfkiwl/dfmodules/store"
	"github.com/mfkiwl/dfmodules/types"
)

// ProcessorConfig is the immutable per-run configuration snapshot the
// processor operates under. Captured at run start so a concurrent
// reconfiguration cannot race the worker.
type ProcessorConfig struct {
	// Run is the active run number; parts from any other run are dropped.
	Run types.RunNumber
	// Prescale persists only every Nth received part when N > 1.
	Prescale int
	// StorageEnabled gates the write path administratively.
	StorageEnabled bool
	// Backoff bounds the write retry delays.
	Backoff BackoffConfig
	// TokenDestination names the connection completion tokens are routed to.
	TokenDestination string
}

// Processor orchestrates one record part end to end: validate, prescale,
// write, track completion, notify. Owned by the single worker goroutine.
type Processor struct {
	cfg      ProcessorConfig
	ds       store.DataStore
	tracker  *SequenceTracker
	notifier *Notifier
	stats    *metrics.WriterStats
	logger   *log.Logger

	// received is the prescale counter: total parts accepted this run.
	// Single-writer, so a plain int.
	received uint64
}

// NewProcessor creates a processor for one run.
func NewProcessor(
	cfg ProcessorConfig,
	ds store.DataStore,
	tracker *SequenceTracker,
	notifier *Notifier,
	stats *metrics.WriterStats,
	logger *log.Logger,
) *Processor {
	return &Processor{
		cfg:      cfg,
		ds:       ds,
		tracker:  tracker,
		notifier: notifier,
		stats:    stats,
		logger:   logger,
	}
}

// Process consumes one record part. Failures are contained: every part is
// either written, prescaled out, dropped, or abandoned, and the ingest loop
// always moves on to the next part.
func (p *Processor) Process(ctx context.Context, part *types.RecordPart) {
	p.stats.IncReceived()

	if part.RunNumber != p.cfg.Run {
		p.logger.Error("record part from wrong run, dropping", map[string]any{
			"part_run":   uint32(part.RunNumber),
			"active_run": uint32(p.cfg.Run),
			"event_id":   uint64(part.EventID),
		})
		return
	}

	p.received++

	// Prescale keeps the FIRST of every N received parts: 1-based count mod
	// N == 1, not == 0: the very first part of a run is always persisted.
	// Prescaled-out parts still count toward completion below.
	shouldWrite := p.cfg.Prescale <= 1 || p.received%uint64(p.cfg.Prescale) == 1

	if p.cfg.StorageEnabled && shouldWrite {
		result := writeWithRetry(ctx, p.ds, part, p.cfg.Backoff, p.logger)
		if result.Outcome == OutcomeWritten {
			p.stats.IncWritten(result.Bytes, result.Elapsed)
		}
	}

	completion := p.tracker.Observe(part.EventID, part.SeqNumber, part.MaxSeqNumber)
	if completion == Ignored {
		p.logger.Warn("part with invalid sequence metadata ignored", map[string]any{
			"event_id": uint64(part.EventID),
			"seq":      part.SeqNumber,
			"max_seq":  part.MaxSeqNumber,
		})
		return
	}

	if completion == Complete && ctx.Err() == nil {
		token := &types.Token{
			RunNumber:   p.cfg.Run,
			EventID:     part.EventID,
			Destination: p.cfg.TokenDestination,
		}
		if p.notifier.Notify(ctx, token) {
			p.logger.Debug("event complete, token sent", map[string]any{
				"event_id": uint64(part.EventID),
			})
		}
	}
}

// Received returns the number of parts accepted for the active run.
func (p *Processor) Received() uint64 {
	return p.received
}
