// Package retryhelper provides the bounded-retry convenience spec.md §5
// and §9 describe as the caller's responsibility, not the transactional
// core's: "the caller is expected to implement bounded retry on race-lost
// (empirically tens of tries is typical; the core does not prescribe)."
// It wraps github.com/sethvargo/go-retry, present but unused in the
// teacher's go.mod; this package gives it its first caller.
package retryhelper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// DefaultMaxAttempts matches spec.md §5's "tens of tries is typical."
const DefaultMaxAttempts = 20

// Options configures OnRaceLost.
type Options struct {
	MaxAttempts int           // 0 means DefaultMaxAttempts
	BaseDelay   time.Duration // 0 means 5ms
	Log         *slog.Logger
}

// OnRaceLost retries fn as long as it returns an error wrapping
// gitproto.ErrRaceLost, using exponential backoff with jitter. Any other
// error returned by fn stops the retry loop immediately and is returned
// as-is.
func OnRaceLost(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	base := opts.BaseDelay
	if base == 0 {
		base = 5 * time.Millisecond
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	backoff := retry.NewExponential(base)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(maxAttempts-1), backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, gitproto.ErrRaceLost) {
			log.Debug("retrying after race-lost", "attempt", attempt, "max_attempts", maxAttempts)
			return retry.RetryableError(err)
		}
		return err
	})
}
