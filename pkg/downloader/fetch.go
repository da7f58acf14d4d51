package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"bookfetch/pkg/display"
)

// PartSuffix is the extension of in-flight downloads.
const PartSuffix = ".part"

// Fetcher downloads archives into a spool directory, hashing them on the way.
type Fetcher struct {
	downloader Downloader
	dir        string
	logger     *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithLogger sets the logger used for download events.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher returns a Fetcher writing into dir.
func NewFetcher(d Downloader, dir string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{downloader: d, dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type fetchOptions struct {
	digest string
}

// FetchOption configures a single Fetch call.
type FetchOption func(*fetchOptions)

// ExpectDigest makes Fetch verify the SHA-256 of the download. Both
// "sha256:<hex>" and bare hex are accepted; digests of other algorithms
// are ignored.
func ExpectDigest(d string) FetchOption {
	return func(o *fetchOptions) { o.digest = d }
}

// Fetch downloads uri into a new file below the spool directory. The
// caller owns the returned archive and must Remove it. On failure no file
// is left behind.
func (f *Fetcher) Fetch(ctx context.Context, uri string, task display.Task, opts ...FetchOption) (*LocalArchive, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if task == nil {
		task = display.Discard()
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, &FetchError{URL: uri, Op: "write", Cause: fmt.Errorf("create download dir: %w", err)}
	}
	path := filepath.Join(f.dir, uuid.NewString()+PartSuffix)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &FetchError{URL: uri, Op: "write", Cause: err}
	}
	done := false
	defer func() {
		if !done {
			out.Close()
			os.Remove(path)
		}
	}()

	task.SetStage("Download", uri)
	f.logger.Debug("Downloading", "url", uri, "path", path)

	sp := &spool{f: out, h: sha256.New(), meta: Meta{Size: -1}}
	if err := f.downloader.Download(ctx, uri, sp, task); err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &FetchError{URL: uri, Op: "read", Cause: err}
	}
	if err := out.Close(); err != nil {
		return nil, &FetchError{URL: uri, Op: "write", Cause: err}
	}

	sum := hex.EncodeToString(sp.h.Sum(nil))
	if want, ok := sha256Hex(o.digest); ok && !strings.EqualFold(want, sum) {
		return nil, &FetchError{URL: uri, Op: "verify", Cause: fmt.Errorf("%w: want %s, got %s", ErrDigestMismatch, want, sum)}
	}

	done = true
	f.logger.Debug("Downloaded", "url", uri, "size", sp.n, "sha256", sum)
	return &LocalArchive{
		Path:        path,
		Size:        sp.n,
		SHA256:      sum,
		ContentType: sp.meta.ContentType,
		SourceURL:   uri,
	}, nil
}

func sha256Hex(d string) (string, bool) {
	d = strings.TrimSpace(d)
	if d == "" {
		return "", false
	}
	if algo, rest, found := strings.Cut(d, ":"); found {
		if !strings.EqualFold(algo, "sha256") {
			return "", false
		}
		d = rest
	}
	return d, true
}

// spool writes to the download file and the running hash.
type spool struct {
	f    *os.File
	h    hash.Hash
	n    int64
	meta Meta
}

func (s *spool) SetMeta(m Meta) { s.meta = m }

func (s *spool) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.h.Write(p[:n])
	s.n += int64(n)
	return n, err
}
