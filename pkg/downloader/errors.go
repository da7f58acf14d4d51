package downloader

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTruncated marks a body that ended before its announced length.
	ErrTruncated = errors.New("download truncated")
	// ErrDigestMismatch marks a download whose SHA-256 differs from the
	// expected one.
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrUnsupportedScheme marks a URI no handler is registered for.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// HTTPError is a non-success HTTP response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("bad status: %s", e.Status)
}

// FetchError describes a failed download. Op is the step that failed:
// "parse", "request", "status", "open", "read", "write" or "verify".
type FetchError struct {
	URL   string
	Op    string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Op, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// writeError tags failures on the destination side of a copy.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type sinkWriter struct{ w io.Writer }

func (s sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		err = &writeError{err: err}
	}
	return n, err
}

// copyError turns an io.Copy failure into a FetchError, telling read and
// write failures apart.
func copyError(uri string, err error) error {
	var we *writeError
	if errors.As(err, &we) {
		return &FetchError{URL: uri, Op: "write", Cause: we.err}
	}
	return &FetchError{URL: uri, Op: "read", Cause: err}
}
