package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"bookfetch/pkg/display"
)

// DefaultUserAgent is sent with every request unless overridden.
const DefaultUserAgent = "bookfetch/1"

// HTTPOption configures the http handler.
type HTTPOption func(*httpHandler)

// WithClient replaces the HTTP client. Its Timeout should be zero when
// downloads are bounded by context.
func WithClient(c *http.Client) HTTPOption {
	return func(h *httpHandler) { h.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *httpHandler) { h.userAgent = ua }
}

// Immutable
type httpHandler struct {
	client    *http.Client
	userAgent string
}

func NewHTTPHandler(opts ...HTTPOption) SchemeHandler {
	h := &httpHandler{
		client: &http.Client{
			Timeout: 0, // Handled by context
		},
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *httpHandler) Schemes() []string {
	return []string{"http", "https"}
}

func (h *httpHandler) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return &FetchError{URL: uri, Op: "request", Cause: err}
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return &FetchError{URL: uri, Op: "request", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{URL: uri, Op: "status", Cause: &HTTPError{URL: uri, StatusCode: resp.StatusCode, Status: resp.Status}}
	}

	size := resp.ContentLength
	if mw, ok := w.(MetaWriter); ok {
		mw.SetMeta(Meta{ContentType: resp.Header.Get("Content-Type"), Size: size})
	}

	pw := &progressWriter{
		task:  task,
		total: size,
		start: time.Now(),
	}

	n, err := io.Copy(io.MultiWriter(sinkWriter{w: w}, pw), resp.Body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return &FetchError{URL: uri, Op: "read", Cause: fmt.Errorf("%w: %w", ErrTruncated, err)}
		}
		return copyError(uri, err)
	}
	if size >= 0 && n < size {
		return &FetchError{URL: uri, Op: "read", Cause: fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, size)}
	}
	return nil
}

// Mutable
type progressWriter struct {
	task    display.Task
	total   int64
	written int64
	start   time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += int64(n)

	elapsed := time.Since(pw.start).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(pw.written) / elapsed
	}

	if pw.total > 0 {
		percent := int((float64(pw.written) / float64(pw.total)) * 100)
		msg := fmt.Sprintf("%s / %s (%s/s)",
			humanize.Bytes(uint64(pw.written)),
			humanize.Bytes(uint64(pw.total)),
			humanize.Bytes(uint64(speed)))
		pw.task.Progress(percent, msg)
	} else {
		pw.task.Progress(-1, fmt.Sprintf("%s downloaded", humanize.Bytes(uint64(pw.written))))
	}

	return n, nil
}
