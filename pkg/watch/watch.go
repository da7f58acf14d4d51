// Package watch waits for completion signals left on the filesystem, such
// as a marker file that another process deletes when it is done.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultInterval is the poll interval of AwaitRemoval.
const DefaultInterval = time.Second

// ErrGaveUp is returned when the configured backoff stops before the path
// disappeared.
var ErrGaveUp = errors.New("gave up waiting")

type options struct {
	backoff backoff.BackOff
	stat    func(string) (fs.FileInfo, error)
	logger  *slog.Logger
}

// Option configures AwaitRemoval.
type Option func(*options)

// WithInterval polls at a constant interval.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.backoff = backoff.NewConstantBackOff(d) }
}

// WithBackOff polls at the intervals produced by b, e.g. a capped
// exponential backoff. Polling ends with ErrGaveUp when b stops.
func WithBackOff(b backoff.BackOff) Option {
	return func(o *options) { o.backoff = b }
}

// WithStat replaces os.Stat.
func WithStat(stat func(string) (fs.FileInfo, error)) Option {
	return func(o *options) { o.stat = stat }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// AwaitRemoval blocks until path no longer exists, ctx is done, or the
// backoff gives up. Stat errors other than not-exist count as present.
func AwaitRemoval(ctx context.Context, path string, opts ...Option) error {
	o := options{
		backoff: backoff.NewConstantBackOff(DefaultInterval),
		stat:    os.Stat,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if gone(o.stat, path) {
		return nil
	}

	o.logger.Debug("Waiting for removal", "path", path)
	ticker := backoff.NewTicker(o.backoff)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticker.C:
			if !ok {
				return fmt.Errorf("%w: %s still exists", ErrGaveUp, path)
			}
			if gone(o.stat, path) {
				o.logger.Debug("Path removed", "path", path)
				return nil
			}
		}
	}
}

func gone(stat func(string) (fs.FileInfo, error), path string) bool {
	_, err := stat(path)
	return errors.Is(err, fs.ErrNotExist)
}
