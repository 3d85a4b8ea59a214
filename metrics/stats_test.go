package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestWriterStats_Increments(t *testing.T) {
	s := NewWriterStats()

	s.IncReceived()
	s.IncReceived()
	s.IncReceived()
	s.IncWritten(100, 5*time.Millisecond)
	s.IncWritten(250, 10*time.Millisecond)

	snap := s.Snapshot()

	if snap.RecordsReceived != 3 {
		t.Errorf("RecordsReceived = %d, want 3", snap.RecordsReceived)
	}
	if snap.RecordsReceivedTot != 3 {
		t.Errorf("RecordsReceivedTot = %d, want 3", snap.RecordsReceivedTot)
	}
	if snap.RecordsWritten != 2 {
		t.Errorf("RecordsWritten = %d, want 2", snap.RecordsWritten)
	}
	if snap.RecordsWrittenTot != 2 {
		t.Errorf("RecordsWrittenTot = %d, want 2", snap.RecordsWrittenTot)
	}
	if snap.BytesWritten != 350 {
		t.Errorf("BytesWritten = %d, want 350", snap.BytesWritten)
	}
	if snap.WriteTime != 15*time.Millisecond {
		t.Errorf("WriteTime = %v, want 15ms", snap.WriteTime)
	}
}

func TestWriterStats_PollResetsDeltasOnly(t *testing.T) {
	s := NewWriterStats()

	s.IncReceived()
	s.IncReceived()
	s.IncWritten(64, time.Millisecond)

	first := s.Poll()
	if first.RecordsReceived != 2 {
		t.Errorf("first poll RecordsReceived = %d, want 2", first.RecordsReceived)
	}
	if first.RecordsWritten != 1 {
		t.Errorf("first poll RecordsWritten = %d, want 1", first.RecordsWritten)
	}

	s.IncReceived()

	second := s.Poll()
	if second.RecordsReceived != 1 {
		t.Errorf("second poll RecordsReceived = %d, want 1", second.RecordsReceived)
	}
	if second.RecordsReceivedTot != 3 {
		t.Errorf("second poll RecordsReceivedTot = %d, want 3", second.RecordsReceivedTot)
	}
	if second.RecordsWrittenTot != 1 {
		t.Errorf("second poll RecordsWrittenTot = %d, want 1", second.RecordsWrittenTot)
	}
}

func TestWriterStats_Reset(t *testing.T) {
	s := NewWriterStats()
	s.IncReceived()
	s.IncWritten(10, time.Millisecond)
	s.Reset()

	snap := s.Snapshot()
	if snap.RecordsReceivedTot != 0 || snap.RecordsWrittenTot != 0 || snap.BytesWritten != 0 {
		t.Errorf("counters not zeroed after Reset: %+v", snap)
	}
}

func TestWriterStats_NilSafe(t *testing.T) {
	var s *WriterStats
	s.IncReceived()
	s.IncWritten(1, time.Nanosecond)
	s.Reset()
	_ = s.Snapshot()
	_ = s.Poll()
}

func TestWriterStats_ConcurrentReaders(t *testing.T) {
	s := NewWriterStats()

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.IncReceived()
			s.IncWritten(8, time.Microsecond)
		}
		close(done)
	}()

	// Reader polls while the writer increments.
	for {
		_ = s.Snapshot()
		select {
		case <-done:
			wg.Wait()
			snap := s.Snapshot()
			if snap.RecordsReceivedTot != 1000 {
				t.Errorf("RecordsReceivedTot = %d, want 1000", snap.RecordsReceivedTot)
			}
			return
		default:
		}
	}
}
