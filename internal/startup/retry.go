package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/supportdesk/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry calls fn until it succeeds, maxWait elapses or ctx is done. The delay
// starts at initial and doubles up to maxBackoff.
func retry(ctx context.Context, what string, maxWait, initial time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := initial
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
