package release

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when the API refused the request because
	// of its rate limit.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformed marks a listing that could not be interpreted.
	ErrMalformed = errors.New("malformed release listing")
	// ErrNoReleases marks a source without any release.
	ErrNoReleases = errors.New("no releases")
	// ErrReleaseNotFound marks a tag missing from the listing.
	ErrReleaseNotFound = errors.New("release not found")
	// ErrNoArchive marks a release without any downloadable archive.
	ErrNoArchive = errors.New("release has no downloadable archive")
	// ErrNotVersioned marks a location that has no release listing.
	ErrNotVersioned = errors.New("location is not versioned")
)

// ResolutionError describes a failure to list or pick a release.
type ResolutionError struct {
	Provider string
	Location string
	Cause    error
}

func (e *ResolutionError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("resolve releases of %s: %v", e.Location, e.Cause)
	}
	return fmt.Sprintf("resolve %s releases of %s: %v", e.Provider, e.Location, e.Cause)
}

func (e *ResolutionError) Unwrap() error { return e.Cause }
