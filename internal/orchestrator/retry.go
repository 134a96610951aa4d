package orchestrator

import (
	"context"
	"errors"
	"time"

	"panelsync/internal/panel"
)

// withRetry runs fn up to attempts times with exponential backoff. Only
// ErrUnreachable is retried; auth failures and vendor rejections surface
// immediately so compensation can start.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, panel.ErrUnreachable) {
			return err
		}
	}
	return err
}
