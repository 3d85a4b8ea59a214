package writer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mfkiwl/dfmodules/log"
	"github.com/mfkiwl/dfmodules/queue"
	"github.com/mfkiwl/dfmodules/store"
	"github.com/mfkiwl/dfmodules/types"
)

type writerHarness struct {
	w      *DataWriter
	source *queue.MemoryRecordQueue
	sink   *queue.MemoryTokenSink
	ds     *store.StubStore
}

func newWriterHarness(t *testing.T) *writerHarness {
	t.Helper()
	source := queue.NewMemoryRecordQueue(64)
	sink := queue.NewMemoryTokenSink(64)
	t.Cleanup(func() {
		_ = source.Close()
		_ = sink.Close()
	})

	ds := store.NewStubStore()
	w := New(source, sink, testLogger())
	return &writerHarness{w: w, source: source, sink: sink, ds: ds}
}

func (h *writerHarness) config() Config {
	return Config{
		Storage:          store.Config{Backend: "memory"},
		QueueTimeout:     10 * time.Millisecond,
		Prescale:         1,
		TokenDestination: "trigger",
		AnnounceAttempts: 3,
		OpenStore:        func(store.Config) (store.DataStore, error) { return h.ds, nil },
	}
}

func (h *writerHarness) configure(t *testing.T, cfg Config) {
	t.Helper()
	if err := h.w.Configure(context.Background(), cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
}

func (h *writerHarness) start(t *testing.T, opts StartOptions) {
	t.Helper()
	if err := h.w.Start(context.Background(), opts); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Drain the presence announcement so token assertions see only
	// completion tokens.
	select {
	case tok := <-h.sink.Tokens():
		if !tok.IsAnnouncement() {
			t.Fatalf("first token %+v, want presence announcement", tok)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence announcement at start")
	}
}

func (h *writerHarness) stop(t *testing.T) {
	t.Helper()
	if err := h.w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func waitToken(t *testing.T, sink *queue.MemoryTokenSink) *types.Token {
	t.Helper()
	select {
	case tok := <-sink.Tokens():
		return tok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for token")
		return nil
	}
}

func waitWrites(t *testing.T, ds *store.StubStore, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if ds.WrittenCount() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("writes = %d, want %d", ds.WrittenCount(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDataWriter_Lifecycle(t *testing.T) {
	h := newWriterHarness(t)

	if h.w.State() != StateStopped {
		t.Fatalf("initial state = %v, want stopped", h.w.State())
	}

	h.configure(t, h.config())
	if h.w.State() != StateConfigured {
		t.Fatalf("state after configure = %v, want configured", h.w.State())
	}

	h.start(t, StartOptions{Run: 7})
	if h.w.State() != StateRunning {
		t.Fatalf("state after start = %v, want running", h.w.State())
	}

	h.stop(t)
	if h.w.State() != StateConfigured {
		t.Fatalf("state after stop = %v, want configured", h.w.State())
	}

	if err := h.w.Scrap(); err != nil {
		t.Fatalf("Scrap: %v", err)
	}
	if h.w.State() != StateStopped {
		t.Fatalf("state after scrap = %v, want stopped", h.w.State())
	}
	if !h.ds.Closed {
		t.Error("scrap must close the backend")
	}
}

func TestDataWriter_StartWithoutConfigureFails(t *testing.T) {
	h := newWriterHarness(t)
	if err := h.w.Start(context.Background(), StartOptions{Run: 1}); err == nil {
		t.Fatal("Start before Configure should fail")
	}
}

func TestDataWriter_DoubleStartFails(t *testing.T) {
	h := newWriterHarness(t)
	h.configure(t, h.config())
	h.start(t, StartOptions{Run: 1})
	defer h.stop(t)

	if err := h.w.Start(context.Background(), StartOptions{Run: 2}); err == nil {
		t.Fatal("second Start should fail while running")
	}
}

func TestDataWriter_ConfigureFailureKeepsStopped(t *testing.T) {
	h := newWriterHarness(t)
	cfg := h.config()
	cfg.OpenStore = func(store.Config) (store.DataStore, error) {
		return nil, errors.New("backend exploded")
	}

	if err := h.w.Configure(context.Background(), cfg); err == nil {
		t.Fatal("Configure should fail when the backend cannot be built")
	}
	if h.w.State() != StateStopped {
		t.Errorf("state = %v, want stopped after failed configure", h.w.State())
	}
}

func TestDataWriter_AnnounceFailureAbortsStart(t *testing.T) {
	h := newWriterHarness(t)
	h.configure(t, h.config())
	h.sink.FailWith(errors.New("orchestrator unreachable"))

	if err := h.w.Start(context.Background(), StartOptions{Run: 1}); err == nil {
		t.Fatal("Start should fail when the presence token cannot be sent")
	}
	if h.w.State() != StateConfigured {
		t.Errorf("state = %v, want configured after failed start", h.w.State())
	}
}

func TestDataWriter_PrepareFailureAbortsStart(t *testing.T) {
	h := newWriterHarness(t)
	h.configure(t, h.config())
	h.ds.PrepareErr = errors.New("cannot open run file")

	if err := h.w.Start(context.Background(), StartOptions{Run: 1}); err == nil {
		t.Fatal("Start should fail when the backend cannot prepare the run")
	}
	if h.w.State() != StateConfigured {
		t.Errorf("state = %v, want configured", h.w.State())
	}
}

// Three parts of one event, any order: exactly one token, three writes.
func TestDataWriter_EndToEndMultiPartEvent(t *testing.T) {
	h := newWriterHarness(t)
	h.configure(t, h.config())
	h.start(t, StartOptions{Run: 7})

	for _, seq := range []uint32{1, 2, 0} {
		if err := h.source.Push(part(7, 42, seq, 2)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	tok := waitToken(t, h.sink)
	if tok.RunNumber != 7 || tok.EventID != 42 {
		t.Errorf("token %+v, want run 7 event 42", tok)
	}

	waitWrites(t, h.ds, 3)
	h.stop(t)

	if len(h.ds.Finished) != 1 || h.ds.Finished[0] != 7 {
		t.Errorf("FinishRun calls = %v, want [7]", h.ds.Finished)
	}

	snap := h.w.Stats()
	if snap.RecordsReceivedTot != 3 || snap.RecordsWrittenTot != 3 {
		t.Errorf("counters %+v, want 3/3", snap)
	}

	// No further tokens.
	select {
	case extra := <-h.sink.Tokens():
		t.Errorf("unexpected extra token %+v", extra)
	default:
	}
}

// Two retryable failures then success: one written-counter increment and a
// total delay of at least min + min*factor.
func TestDataWriter_EndToEndRetriedWrite(t *testing.T) {
	h := newWriterHarness(t)
	cfg := h.config()
	cfg.Backoff = BackoffConfig{Min: 10 * time.Millisecond, Max: time.Second, Factor: 2}
	h.configure(t, cfg)

	h.ds.WriteErrs = []error{retryableErr(), retryableErr(), nil}
	h.start(t, StartOptions{Run: 3})

	start := time.Now()
	if err := h.source.Push(part(3, 1, 0, 0)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	tok := waitToken(t, h.sink)
	elapsed := time.Since(start)
	if tok.EventID != 1 {
		t.Errorf("token event = %d, want 1", tok.EventID)
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed %v, want at least 30ms of backoff before completion", elapsed)
	}

	h.stop(t)

	snap := h.w.Stats()
	if snap.RecordsWrittenTot != 1 {
		t.Errorf("written = %d, want exactly 1", snap.RecordsWrittenTot)
	}
}

func TestDataWriter_StorageDisabledRun(t *testing.T) {
	h := newWriterHarness(t)
	h.configure(t, h.config())
	h.start(t, StartOptions{Run: 5, DisableStorage: true})

	if err := h.source.Push(part(5, 9, 0, 0)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	tok := waitToken(t, h.sink)
	if tok.EventID != 9 {
		t.Errorf("token event = %d, want 9", tok.EventID)
	}

	h.stop(t)

	if h.ds.WrittenCount() != 0 {
		t.Errorf("writes = %d, want 0 with storage disabled", h.ds.WrittenCount())
	}
	if len(h.ds.Prepared) != 0 || len(h.ds.Finished) != 0 {
		t.Error("disabled storage must not be prepared or finalized")
	}
}

func TestDataWriter_StopAbandonsInFlightRetry(t *testing.T) {
	h := newWriterHarness(t)
	cfg := h.config()
	cfg.Backoff = BackoffConfig{Min: 50 * time.Millisecond, Max: 10 * time.Second, Factor: 2}
	h.configure(t, cfg)

	// Every write fails transiently: the part spins in retry until stop.
	for range 1000 {
		h.ds.WriteErrs = append(h.ds.WriteErrs, retryableErr())
	}
	h.start(t, StartOptions{Run: 2})

	if err := h.source.Push(part(2, 4, 0, 2)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	stopStart := time.Now()
	h.stop(t)
	if took := time.Since(stopStart); took > 2*time.Second {
		t.Errorf("Stop took %v, retry loop did not abandon promptly", took)
	}

	if h.ds.WrittenCount() != 0 {
		t.Errorf("writes = %d, want 0 for the abandoned part", h.ds.WrittenCount())
	}
	if got := h.w.IncompleteEvents(); got != 1 {
		t.Errorf("incomplete events = %d, want 1", got)
	}
}

func TestDataWriter_FinishFailureDoesNotBlockStop(t *testing.T) {
	h := newWriterHarness(t)
	h.configure(t, h.config())
	h.ds.FinishErr = errors.New("close failed")
	h.start(t, StartOptions{Run: 1})

	if err := h.w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop must succeed despite finalize failure: %v", err)
	}
	if h.w.State() != StateConfigured {
		t.Errorf("state = %v, want configured", h.w.State())
	}
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDataWriter_NoProgressLogForMismatchedParts(t *testing.T) {
	var buf logBuffer
	source := queue.NewMemoryRecordQueue(64)
	sink := queue.NewMemoryTokenSink(64)
	t.Cleanup(func() {
		_ = source.Close()
		_ = sink.Close()
	})

	ds := store.NewStubStore()
	w := New(source, sink, log.NewLogger("test").WithOutput(&buf))
	cfg := Config{
		Storage:          store.Config{Backend: "memory"},
		QueueTimeout:     10 * time.Millisecond,
		Prescale:         1,
		TokenDestination: "trigger",
		AnnounceAttempts: 3,
		OpenStore:        func(store.Config) (store.DataStore, error) { return ds, nil },
	}
	if err := w.Configure(context.Background(), cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := w.Start(context.Background(), StartOptions{Run: 7}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Parts from another run are dropped before the accepted counter moves.
	for i := 0; i < 3; i++ {
		if err := source.Push(part(9, types.EventID(i+1), 0, 0)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	deadline := time.After(2 * time.Second)
	for w.Stats().RecordsReceivedTot < 3 {
		select {
		case <-deadline:
			t.Fatalf("received = %d, want 3", w.Stats().RecordsReceivedTot)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if strings.Contains(buf.String(), `"progress"`) {
		t.Errorf("progress logged with zero accepted parts:\n%s", buf.String())
	}
}

func TestDataWriter_RestartAfterStopResetsCounters(t *testing.T) {
	h := newWriterHarness(t)
	h.configure(t, h.config())

	h.start(t, StartOptions{Run: 1})
	if err := h.source.Push(part(1, 1, 0, 0)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitToken(t, h.sink)
	h.stop(t)

	h.start(t, StartOptions{Run: 2})
	h.stop(t)

	snap := h.w.Stats()
	if snap.RecordsReceivedTot != 0 {
		t.Errorf("counters carried across runs: %+v", snap)
	}
}
