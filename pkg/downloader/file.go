package downloader

import (
	"context"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"bookfetch/pkg/display"
)

// Immutable
type fileHandler struct{}

// NewFileHandler serves file:// URIs from the local filesystem, for shared
// folders mounted on the host.
func NewFileHandler() SchemeHandler {
	return fileHandler{}
}

func (fileHandler) Schemes() []string {
	return []string{"file"}
}

func (fileHandler) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	u, err := url.Parse(uri)
	if err != nil {
		return &FetchError{URL: uri, Op: "parse", Cause: err}
	}
	path := filepath.FromSlash(u.Path)

	f, err := os.Open(path)
	if err != nil {
		return &FetchError{URL: uri, Op: "open", Cause: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &FetchError{URL: uri, Op: "open", Cause: err}
	}
	if mw, ok := w.(MetaWriter); ok {
		mw.SetMeta(Meta{ContentType: mime.TypeByExtension(filepath.Ext(path)), Size: info.Size()})
	}

	pw := &progressWriter{task: task, total: info.Size(), start: time.Now()}
	if _, err := io.Copy(io.MultiWriter(sinkWriter{w: w}, pw), contextReader{ctx: ctx, r: f}); err != nil {
		return copyError(uri, err)
	}
	return nil
}

// contextReader stops a local copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
