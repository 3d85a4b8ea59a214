package queue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mfkiwl/dfmodules/types"
)

// Frame size constants for the stream transport.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// FrameDecoder decodes length-prefixed msgpack frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
// Returns the raw payload bytes (msgpack-encoded).
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])

	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// FrameEncoder writes length-prefixed msgpack frames to a stream.
type FrameEncoder struct {
	writer io.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// WriteRecordPart encodes and frames one record part.
func (e *FrameEncoder) WriteRecordPart(part *types.RecordPart) error {
	payload, err := EncodeRecordPart(part)
	if err != nil {
		return err
	}
	return e.writeFrame(payload)
}

func (e *FrameEncoder) writeFrame(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := e.writer.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := e.writer.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// StreamRecordSource adapts a byte stream of framed record parts (a pipe
// from an upstream builder process) into a RecordSource. A reader goroutine
// decodes frames into a buffered channel so Receive keeps its bounded-wait
// contract even though the underlying read blocks.
type StreamRecordSource struct {
	ch     chan *types.RecordPart
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	readErr error
}

// NewStreamRecordSource starts decoding frames from r.
func NewStreamRecordSource(r io.Reader) *StreamRecordSource {
	s := &StreamRecordSource{
		ch:     make(chan *types.RecordPart, 64),
		closed: make(chan struct{}),
	}
	go s.readLoop(NewFrameDecoder(r))
	return s
}

func (s *StreamRecordSource) readLoop(decoder *FrameDecoder) {
	defer close(s.ch)
	for {
		payload, err := decoder.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
			}
			return
		}

		part, err := DecodeRecordPart(payload)
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}

		select {
		case s.ch <- part:
		case <-s.closed:
			return
		}
	}
}

// Receive implements RecordSource.
func (s *StreamRecordSource) Receive(timeout time.Duration) (*types.RecordPart, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case part, ok := <-s.ch:
		if !ok {
			if err := s.Err(); err != nil {
				return nil, err
			}
			return nil, ErrClosed
		}
		return part, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Err returns the terminal decode error, if any.
func (s *StreamRecordSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

// Close implements RecordSource.
func (s *StreamRecordSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Verify StreamRecordSource implements RecordSource.
var _ RecordSource = (*StreamRecordSource)(nil)
