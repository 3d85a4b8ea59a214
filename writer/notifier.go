package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/mfkiwl/dfmodules/log"
	"github.com/mfkiwl/dfmodules/queue"
	"github.com/mfkiwl/dfmodules/types"
)

// Notifier delivers completion tokens to the upstream orchestrator.
// The sink applies its own bounded per-attempt timeout; the notifier retries
// immediately on transient failure for as long as the pipeline is running.
// Delivery is best-effort: a stop mid-retry abandons the token.
type Notifier struct {
	sink   queue.TokenSink
	logger *log.Logger
}

// NewNotifier creates a notifier over the given sink.
func NewNotifier(sink queue.TokenSink, logger *log.Logger) *Notifier {
	return &Notifier{sink: sink, logger: logger}
}

// Notify hands the token to the sink, retrying until success or until ctx is
// canceled. Returns true if the token was sent, false if abandoned.
func (n *Notifier) Notify(ctx context.Context, token *types.Token) bool {
	attempts := 0
	for {
		if ctx.Err() != nil {
			n.logger.Warn("token abandoned at stop", map[string]any{
				"run_number": uint32(token.RunNumber),
				"event_id":   uint64(token.EventID),
				"attempts":   attempts,
			})
			return false
		}

		attempts++
		err := n.sink.Send(ctx, token)
		if err == nil {
			return true
		}

		n.logger.Warn("token send failed, retrying", map[string]any{
			"run_number": uint32(token.RunNumber),
			"event_id":   uint64(token.EventID),
			"attempt":    attempts,
			"error":      err.Error(),
		})
	}
}

// Announce sends the presence token (run 0, event 0) with a bounded number
// of attempts so the orchestrator learns this writer exists. Exhausting the
// attempts is a configuration-time connectivity problem and fails the start
// transition.
func (n *Notifier) Announce(ctx context.Context, destination string, maxAttempts int, attemptGap time.Duration) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAnnounceTries
	}
	token := &types.Token{RunNumber: 0, EventID: 0, Destination: destination}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("presence announcement canceled: %w", err)
		}

		lastErr = n.sink.Send(ctx, token)
		if lastErr == nil {
			return nil
		}

		if attemptGap > 0 {
			timer := time.NewTimer(attemptGap)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("presence announcement canceled: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("presence announcement failed after %d attempts: %w", maxAttempts, lastErr)
}
