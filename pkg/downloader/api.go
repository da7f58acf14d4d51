// Package downloader retrieves remote archives.
// Scheme handlers (http, https, file) stream content to a writer and report
// progress via the display package; the Fetcher spools a download into a
// temporary file in the cache.
package downloader

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"bookfetch/pkg/display"
)

// Downloader manages the retrieval of resources from various URIs.
type Downloader interface {
	// Download retrieves the resource at the specified URI and writes it to w.
	// It uses the provided display Task to report progress and logs.
	Download(ctx context.Context, uri string, w io.Writer, task display.Task) error
}

// SchemeHandler defines the interface for handling specific URI schemes (e.g., "http://").
type SchemeHandler interface {
	// Download executes the download for a URI supported by this handler.
	Download(ctx context.Context, uri string, w io.Writer, task display.Task) error
	// Schemes returns the list of URI schemes (e.g., ["http", "https"]) this handler can process.
	Schemes() []string
}

// Meta is what a handler learns about a resource before its body arrives.
type Meta struct {
	ContentType string
	// Size is -1 when unknown.
	Size int64
}

// MetaWriter is implemented by writers that want the resource metadata.
// Handlers call SetMeta once, before the first Write.
type MetaWriter interface {
	io.Writer
	SetMeta(Meta)
}

// LocalArchive is a fully downloaded archive in the cache download area.
type LocalArchive struct {
	Path        string
	Size        int64
	SHA256      string
	ContentType string
	SourceURL   string
}

// Remove deletes the downloaded file. Removing twice is not an error.
func (a *LocalArchive) Remove() error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
