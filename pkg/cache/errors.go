package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy means another acquisition holds the lock for the key and did
	// not finish within the lock timeout. Callers may retry.
	ErrBusy = errors.New("content unit is still being extracted")
	// ErrMalformedUnit means a unit directory exists but is not usable.
	ErrMalformedUnit = errors.New("content unit is malformed")
)

// ConsistencyError reports a collision on a cache key that could not be
// resolved by waiting or by the skip-if-present policy.
type ConsistencyError struct {
	Key   Key
	Cause error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("cache consistency for %s: %v", e.Key, e.Cause)
}

func (e *ConsistencyError) Unwrap() error { return e.Cause }
