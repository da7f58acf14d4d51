package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a waiting caller re-tries a held lock.
const lockRetryDelay = 200 * time.Millisecond

// Lock takes an exclusive advisory lock on lockFile, waiting while another
// process or goroutine holds it. The wait ends when ctx is done.
// Returns an unlock function.
func Lock(ctx context.Context, lockFile string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dir for lock: %w", err)
	}

	fl := flock.New(lockFile)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("acquire lock %s: not acquired", lockFile)
	}

	return func() error {
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("release lock %s: %w", lockFile, err)
		}
		return nil
	}, nil
}

// Ensure makes sure the unit for k is present by running fn if it isn't.
// The unit is checked, the key lock taken, and the unit checked again, so
// concurrent callers for the same key run fn at most once. With force the
// checks are skipped and fn always runs under the lock.
// It reports whether fn ran.
func (r *Root) Ensure(ctx context.Context, k Key, force bool, fn func() error) (bool, error) {
	if !force && r.Valid(k) {
		return false, nil
	}

	lockCtx := ctx
	if r.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, r.lockTimeout)
		defer cancel()
	}

	unlock, err := Lock(lockCtx, r.LockPath(k))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, &ConsistencyError{Key: k, Cause: ErrBusy}
		}
		return false, &ConsistencyError{Key: k, Cause: err}
	}
	defer func() {
		if err := unlock(); err != nil {
			r.logger.Warn("Failed to release cache lock", "key", k.String(), "error", err)
		}
	}()

	if !force && r.Valid(k) {
		return false, nil
	}

	if err := fn(); err != nil {
		return false, err
	}
	return true, nil
}
