package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mfkiwl/dfmodules/log"
	"github.com/mfkiwl/dfmodules/metrics"
	"github.com/mfkiwl/dfmodules/queue"
	"github.com/mfkiwl/dfmodules/store"
	"github.com/mfkiwl/dfmodules/types"
)

// State is the writer lifecycle state.
type State int

const (
	// StateStopped means no storage backend is held.
	StateStopped State = iota
	// StateConfigured means the backend is constructed and a run can start.
	StateConfigured
	// StateRunning means the worker goroutine is draining the record source.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// progressInterval is how many accepted parts between progress log entries.
const progressInterval = 100

// Config is the writer configuration supplied at configure time.
type Config struct {
	// Storage is the backend configuration blob.
	Storage store.Config
	// QueueTimeout bounds each receive attempt on the record source.
	QueueTimeout time.Duration
	// Prescale persists only every Nth received part when N > 1.
	Prescale int
	// Backoff bounds the write retry delays.
	Backoff BackoffConfig
	// TokenDestination names the connection completion tokens are routed to.
	TokenDestination string
	// AnnounceAttempts bounds presence-announcement retries at start.
	AnnounceAttempts int
	// AnnounceGap is the pause between announcement attempts.
	AnnounceGap time.Duration
	// OpenStore overrides storage backend construction (for testing).
	// If nil, uses store.Open.
	OpenStore func(store.Config) (store.DataStore, error)
}

// StartOptions are the per-run parameters supplied at the start transition.
type StartOptions struct {
	// Run is the run number for this data-taking period.
	Run types.RunNumber
	// DisableStorage turns the write path off administratively; completion
	// tracking and token emission still run.
	DisableStorage bool
}

// DataWriter is the durable-write stage: a single worker goroutine drains
// the record source, persists parts with bounded retry, tracks multi-part
// completion, and emits completion tokens.
//
// Lifecycle: Stopped → Configure → Configured → Start → Running → Stop →
// Configured (→ Start again, or Scrap → Stopped). Control methods are
// serialized by an internal mutex; the worker shares only the running flag
// and the atomic counters with the control path.
type DataWriter struct {
	source queue.RecordSource
	sink   queue.TokenSink
	logger *log.Logger

	mu      sync.Mutex
	state   State
	cfg     Config
	ds      store.DataStore
	run     types.RunNumber
	storing bool

	stats   *metrics.WriterStats
	tracker *SequenceTracker

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	// incomplete is the count of pending events at the last stop.
	incomplete int
}

// New creates a writer over the given transport endpoints.
func New(source queue.RecordSource, sink queue.TokenSink, logger *log.Logger) *DataWriter {
	return &DataWriter{
		source:  source,
		sink:    sink,
		logger:  logger,
		stats:   metrics.NewWriterStats(),
		tracker: NewSequenceTracker(),
	}
}

// Configure constructs the storage backend from the configuration blob.
// Failure is fatal to the transition: the writer stays Stopped and must not
// be started.
func (w *DataWriter) Configure(_ context.Context, cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateRunning {
		return errors.New("configure rejected: writer is running")
	}

	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = DefaultQueueTimeout
	}

	open := cfg.OpenStore
	if open == nil {
		open = store.Open
	}
	ds, err := open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage backend construction failed: %w", err)
	}

	// Replace any backend held from a previous configuration.
	if w.ds != nil {
		_ = w.ds.Close()
	}

	w.cfg = cfg
	w.ds = ds
	w.state = StateConfigured

	w.logger.Info("configured", map[string]any{
		"backend":       cfg.Storage.Backend,
		"prescale":      cfg.Prescale,
		"min_backoff":   cfg.Backoff.sanitized().Min.String(),
		"max_backoff":   cfg.Backoff.sanitized().Max.String(),
		"queue_timeout": cfg.QueueTimeout.String(),
	})
	return nil
}

// Start enters the Running state: resets run-scoped state, announces the
// writer's presence upstream, prepares the backend for the run, and launches
// the worker goroutine. Any failure aborts the transition and the writer
// remains Configured.
func (w *DataWriter) Start(ctx context.Context, opts StartOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateStopped:
		return errors.New("start rejected: writer is not configured")
	case StateRunning:
		return errors.New("start rejected: writer is already running")
	case StateConfigured:
	}

	runLogger := w.logger.WithRun(opts.Run)

	w.stats.Reset()
	w.tracker.Reset()

	notifier := NewNotifier(w.sink, runLogger)
	if err := notifier.Announce(ctx, w.cfg.TokenDestination, w.cfg.AnnounceAttempts, w.cfg.AnnounceGap); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	storing := !opts.DisableStorage
	if storing {
		if err := w.ds.PrepareRun(ctx, opts.Run); err != nil {
			return fmt.Errorf("start failed: backend prepare: %w", err)
		}
	}

	proc := NewProcessor(ProcessorConfig{
		Run:              opts.Run,
		Prescale:         w.cfg.Prescale,
		StorageEnabled:   storing,
		Backoff:          w.cfg.Backoff,
		TokenDestination: w.cfg.TokenDestination,
	}, w.ds, w.tracker, notifier, w.stats, runLogger)

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.run = opts.Run
	w.storing = storing
	w.running.Store(true)
	w.state = StateRunning

	go w.work(runCtx, proc, runLogger)

	runLogger.Info("started", map[string]any{
		"storage_enabled": storing,
	})
	return nil
}

// work is the single ingest loop. Receive timeouts are expected (absence of
// data is normal); per-part failures are contained by the processor.
func (w *DataWriter) work(ctx context.Context, proc *Processor, logger *log.Logger) {
	defer close(w.done)

	for w.running.Load() {
		part, err := w.source.Receive(w.cfg.QueueTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				continue
			}
			if errors.Is(err, queue.ErrClosed) {
				logger.Error("record source closed, ingest loop exiting", nil)
				return
			}
			logger.Warn("record receive failed", map[string]any{
				"error": err.Error(),
			})
			continue
		}

		proc.Process(ctx, part)

		if n := proc.Received(); n > 0 && n%progressInterval == 0 {
			snap := w.stats.Snapshot()
			logger.Info("progress", map[string]any{
				"received": snap.RecordsReceivedTot,
				"written":  snap.RecordsWrittenTot,
				"bytes":    snap.BytesWritten,
			})
		}
	}

	snap := w.stats.Snapshot()
	logger.Info("ingest loop exiting", map[string]any{
		"received":       snap.RecordsReceivedTot,
		"written":        snap.RecordsWrittenTot,
		"pending_events": w.tracker.Pending(),
	})
}

// Stop leaves the Running state: clears the running flag so in-flight retry
// and notify loops abandon promptly, joins the worker, and finalizes the
// backend for the run. A finalize failure is reported but does not prevent
// the transition.
func (w *DataWriter) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRunning {
		return errors.New("stop rejected: writer is not running")
	}

	w.running.Store(false)
	w.cancel()
	<-w.done

	incomplete := w.tracker.Pending()
	w.tracker.Reset()
	w.incomplete = incomplete

	if w.storing {
		if err := w.ds.FinishRun(ctx, w.run); err != nil {
			w.logger.Error("backend finalize failed", map[string]any{
				"run_number": uint32(w.run),
				"error":      err.Error(),
			})
		}
	}

	w.state = StateConfigured
	w.logger.Info("stopped", map[string]any{
		"run_number":        uint32(w.run),
		"incomplete_events": incomplete,
	})
	return nil
}

// Scrap releases the storage backend and returns to Stopped.
func (w *DataWriter) Scrap() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateRunning {
		return errors.New("scrap rejected: writer is running")
	}
	if w.ds != nil {
		if err := w.ds.Close(); err != nil {
			w.logger.Warn("backend close failed", map[string]any{
				"error": err.Error(),
			})
		}
		w.ds = nil
	}
	w.state = StateStopped
	return nil
}

// State returns the current lifecycle state.
func (w *DataWriter) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IncompleteEvents returns the number of events still pending completion
// when the last run stopped.
func (w *DataWriter) IncompleteEvents() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.incomplete
}

// Stats returns a point-in-time counter snapshot without resetting anything.
// Safe to call concurrently with the worker.
func (w *DataWriter) Stats() metrics.Snapshot {
	return w.stats.Snapshot()
}

// Poll returns a snapshot and resets the since-last-poll counters.
func (w *DataWriter) Poll() metrics.Snapshot {
	return w.stats.Poll()
}
