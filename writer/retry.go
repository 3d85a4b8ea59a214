package writer

import (
	"context"
	"time"

	"github.com/mfkiwl/dfmodules/log"
	"github.com/mfkiwl/dfmodules/store"
	"github.com/mfkiwl/dfmodules/types"
)

// Backoff defaults. 1µs is the floor: a zero minimum would busy-loop.
const (
	MinBackoffFloor      = time.Microsecond
	DefaultMinBackoff    = time.Millisecond
	DefaultMaxBackoff    = time.Second
	DefaultGrowthFactor  = 2
	DefaultQueueTimeout  = 100 * time.Millisecond
	DefaultAnnounceTries = 200
)

// BackoffConfig bounds the exponential backoff between retryable write
// failures. Captured immutably at run start.
type BackoffConfig struct {
	// Min is the initial delay after the first retryable failure.
	Min time.Duration
	// Max caps the delay growth.
	Max time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor int
}

// sanitized returns a copy with defaults applied and the minimum clamped.
func (c BackoffConfig) sanitized() BackoffConfig {
	if c.Min <= 0 {
		c.Min = DefaultMinBackoff
	}
	if c.Min < MinBackoffFloor {
		c.Min = MinBackoffFloor
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxBackoff
	}
	if c.Max < c.Min {
		c.Max = c.Min
	}
	if c.Factor < 2 {
		c.Factor = DefaultGrowthFactor
	}
	return c
}

// WriteOutcome classifies the result of a write-with-retry attempt.
type WriteOutcome int

const (
	// OutcomeWritten means the part was durably written.
	OutcomeWritten WriteOutcome = iota
	// OutcomeDropped means a fatal storage failure; the part is gone.
	OutcomeDropped
	// OutcomeAbandoned means the pipeline stopped mid-retry; the part was
	// never written.
	OutcomeAbandoned
)

func (o WriteOutcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeDropped:
		return "dropped"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// WriteResult carries the outcome of one record part's write.
type WriteResult struct {
	Outcome WriteOutcome
	// Bytes is the payload size written, valid when Outcome is OutcomeWritten.
	Bytes uint64
	// Elapsed is the wall-clock time spent, valid when Outcome is OutcomeWritten.
	Elapsed time.Duration
	// Attempts is the number of storage write calls issued.
	Attempts int
}

// writeWithRetry drives one part through the storage backend with capped
// exponential backoff on retryable failures. Retry continues only while ctx
// is alive; cancellation (the stop transition) abandons the part promptly,
// including mid-backoff. Fatal failures drop the part without retry.
func writeWithRetry(
	ctx context.Context,
	ds store.DataStore,
	part *types.RecordPart,
	cfg BackoffConfig,
	logger *log.Logger,
) WriteResult {
	cfg = cfg.sanitized()
	delay := cfg.Min
	attempts := 0
	start := time.Now()

	for {
		if ctx.Err() != nil {
			logger.Warn("write abandoned at stop", map[string]any{
				"event_id": uint64(part.EventID),
				"seq":      part.SeqNumber,
				"attempts": attempts,
			})
			return WriteResult{Outcome: OutcomeAbandoned, Attempts: attempts}
		}

		attempts++
		err := ds.Write(ctx, part)
		if err == nil {
			return WriteResult{
				Outcome: OutcomeWritten,
				Bytes:   part.Size(),
				Elapsed: time.Since(start),
				Attempts: attempts,
			}
		}

		if !store.IsRetryable(err) {
			logger.Error("fatal storage failure, dropping part", map[string]any{
				"event_id": uint64(part.EventID),
				"seq":      part.SeqNumber,
				"error":    err.Error(),
			})
			return WriteResult{Outcome: OutcomeDropped, Attempts: attempts}
		}

		logger.Warn("retryable storage failure", map[string]any{
			"event_id": uint64(part.EventID),
			"seq":      part.SeqNumber,
			"attempt":  attempts,
			"backoff":  delay.String(),
			"error":    err.Error(),
		})

		// Interruptible backoff: a stop request unblocks the sleep rather
		// than waiting out the full delay.
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn("write abandoned during backoff", map[string]any{
				"event_id": uint64(part.EventID),
				"attempts": attempts,
			})
			return WriteResult{Outcome: OutcomeAbandoned, Attempts: attempts}
		case <-timer.C:
		}

		delay *= time.Duration(cfg.Factor)
		if delay > cfg.Max {
			delay = cfg.Max
		}
	}
}
