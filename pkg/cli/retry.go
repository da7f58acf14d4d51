package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"bookfetch/pkg/cache"
	"bookfetch/pkg/downloader"
	"bookfetch/pkg/release"
)

// retryable reports failures that may clear up on their own: a unit locked
// by another process, a dropped connection or a rate limit.
func retryable(err error) bool {
	if errors.Is(err, cache.ErrBusy) || errors.Is(err, downloader.ErrTruncated) || errors.Is(err, release.ErrRateLimited) {
		return true
	}
	var fe *downloader.FetchError
	if errors.As(err, &fe) {
		return fe.Op == "request" || fe.Op == "read"
	}
	return false
}

// withRetry runs op up to retries+1 times with exponential backoff.
func withRetry[T any](ctx context.Context, retries uint, logger *slog.Logger, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Retrying", "error", err, "in", next)
		}),
	)
}
