package queue

import (
	"context"
	"sync"
	"time"

	"github.com/mfkiwl/dfmodules/types"
)

// MemoryRecordQueue is a channel-backed RecordSource for in-process wiring
// and tests. Push feeds the queue from the producing side.
type MemoryRecordQueue struct {
	ch     chan *types.RecordPart
	closed chan struct{}
	once   sync.Once
}

// NewMemoryRecordQueue creates a record queue with the given buffer capacity.
func NewMemoryRecordQueue(capacity int) *MemoryRecordQueue {
	return &MemoryRecordQueue{
		ch:     make(chan *types.RecordPart, capacity),
		closed: make(chan struct{}),
	}
}

// Push enqueues one part. Blocks while the buffer is full.
// Returns ErrClosed if the queue was closed.
func (q *MemoryRecordQueue) Push(part *types.RecordPart) error {
	select {
	case <-q.closed:
		return ErrClosed
	case q.ch <- part:
		return nil
	}
}

// Receive implements RecordSource.
func (q *MemoryRecordQueue) Receive(timeout time.Duration) (*types.RecordPart, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case part := <-q.ch:
		return part, nil
	case <-q.closed:
		// Drain anything already buffered before reporting closed.
		select {
		case part := <-q.ch:
			return part, nil
		default:
			return nil, ErrClosed
		}
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close implements RecordSource.
func (q *MemoryRecordQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

// Verify MemoryRecordQueue implements RecordSource.
var _ RecordSource = (*MemoryRecordQueue)(nil)

// MemoryTokenSink is a channel-backed TokenSink for in-process wiring and
// tests. Tokens are read from Tokens() on the consuming side.
type MemoryTokenSink struct {
	ch     chan *types.Token
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sendErr error
}

// NewMemoryTokenSink creates a token sink with the given buffer capacity.
func NewMemoryTokenSink(capacity int) *MemoryTokenSink {
	return &MemoryTokenSink{
		ch:     make(chan *types.Token, capacity),
		closed: make(chan struct{}),
	}
}

// Tokens exposes the consuming side of the sink.
func (s *MemoryTokenSink) Tokens() <-chan *types.Token {
	return s.ch
}

// FailWith makes subsequent Send calls fail with err. Passing nil restores
// normal operation. Test hook for notifier retry behavior.
func (s *MemoryTokenSink) FailWith(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

// Send implements TokenSink.
func (s *MemoryTokenSink) Send(ctx context.Context, token *types.Token) error {
	s.mu.Lock()
	err := s.sendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- token:
		return nil
	}
}

// Close implements TokenSink.
func (s *MemoryTokenSink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Verify MemoryTokenSink implements TokenSink.
var _ TokenSink = (*MemoryTokenSink)(nil)
