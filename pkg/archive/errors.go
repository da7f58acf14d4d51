package archive

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrPathTraversal marks an entry that would be written outside the
	// destination directory.
	ErrPathTraversal = errors.New("archive entry escapes destination")
	// ErrUnsupportedFormat marks an archive whose format is unknown or
	// cannot be extracted.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrCorrupt marks an archive that cannot be read.
	ErrCorrupt = errors.New("corrupt archive")
	// ErrTooLarge marks an archive that expands beyond the configured limit.
	ErrTooLarge = errors.New("archive exceeds size limit")
)

// ExtractionError describes a failed extraction. Entry is empty when the
// failure is not tied to a single archive entry.
type ExtractionError struct {
	Archive string
	Entry   string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extract %s: entry %q: %v", e.Archive, e.Entry, e.Cause)
	}
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// readError tags failures coming from the archive side of a copy, so they
// can be told apart from write failures on the destination.
type readError struct{ err error }

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

type sourceReader struct{ r io.Reader }

func (s sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = &readError{err: err}
	}
	return n, err
}
