// Package queue provides the transport boundary for the datawriter: the
// record source it drains and the token sink it signals completion through.
//
// All receive operations are bounded; absence of data is reported as
// ErrTimeout, not an error condition. Implementations: in-process channels
// (tests, single-binary wiring), redis lists (cross-process), and
// length-prefixed msgpack frame streams (pipe from an upstream builder).
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/mfkiwl/dfmodules/types"
)

// ErrTimeout indicates a bounded receive elapsed with no data available.
// Expected during normal operation; callers loop and try again.
var ErrTimeout = errors.New("queue receive timed out")

// ErrClosed indicates the queue or its underlying transport was closed.
var ErrClosed = errors.New("queue closed")

// RecordSource yields record parts from the upstream collection stage.
type RecordSource interface {
	// Receive blocks up to timeout for one record part.
	// Returns ErrTimeout when no data arrived and ErrClosed after Close.
	Receive(timeout time.Duration) (*types.RecordPart, error)

	// Close releases the source.
	Close() error
}

// TokenSink accepts completion tokens bound for the upstream orchestrator.
type TokenSink interface {
	// Send hands one token to the sink within the sink's bounded timeout.
	// Must respect context cancellation.
	Send(ctx context.Context, token *types.Token) error

	// Close releases the sink.
	Close() error
}
