// Package archive unpacks downloaded archives into cache directories.
// Extraction is all-or-nothing: entries are written to a staging directory
// that is renamed onto the destination only once every entry succeeded.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxBytes caps the uncompressed size of one archive.
const DefaultMaxBytes int64 = 4 << 30

// maxLinkHops bounds symlink resolution, like the kernel's ELOOP limit.
const maxLinkHops = 40

// Options controls an extraction.
type Options struct {
	// Force replaces an existing, non-empty destination.
	Force bool
	// MaxBytes caps the total uncompressed size. Zero means DefaultMaxBytes,
	// a negative value or math.MaxInt64 disables the cap.
	MaxBytes int64
	// Finalize runs on the staging directory after all entries were written
	// and before it is moved onto the destination.
	Finalize func(staging string) error
	Logger   *slog.Logger
}

// Result describes the materialized destination.
type Result struct {
	Dest string
	// Entries are the top-level names in Dest, sorted.
	Entries []string
	// Skipped is set when Dest already held content and nothing was extracted.
	Skipped bool
}

// Extract extracts the archive at src into the directory dest.
//
// An existing non-empty dest is kept as is unless opts.Force is set.
// On failure dest is left untouched and no staging files remain.
func Extract(src string, format Format, dest string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dest = filepath.Clean(dest)

	if !opts.Force {
		if res, ok := existing(dest); ok {
			logger.Debug("Destination already extracted", "path", dest)
			return res, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, &ExtractionError{Archive: src, Cause: fmt.Errorf("create parent dir: %w", err)}
	}

	staging := dest + ".staging-" + uuid.NewString()
	if err := os.Mkdir(staging, 0o755); err != nil {
		return nil, &ExtractionError{Archive: src, Cause: fmt.Errorf("create staging dir: %w", err)}
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	// Links are resolved against the real staging path.
	root, err := filepath.EvalSymlinks(staging)
	if err != nil {
		return nil, &ExtractionError{Archive: src, Cause: fmt.Errorf("resolve staging dir: %w", err)}
	}

	limit := opts.MaxBytes
	if limit == 0 {
		limit = DefaultMaxBytes
	}
	x := &extractor{archive: src, root: root, remaining: limit, unlimited: limit < 0 || limit == math.MaxInt64}

	switch format {
	case Zip:
		err = x.zip()
	case Tar:
		err = x.tar()
	default:
		err = &ExtractionError{Archive: src, Cause: fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)}
	}
	if err != nil {
		return nil, err
	}
	if x.count == 0 {
		return nil, &ExtractionError{Archive: src, Cause: fmt.Errorf("%w: archive has no entries", ErrCorrupt)}
	}
	// A link checked early can escape once a later entry adds a symlink
	// on its path.
	if err := x.checkLinks(); err != nil {
		return nil, err
	}

	if opts.Finalize != nil {
		if err := opts.Finalize(staging); err != nil {
			return nil, &ExtractionError{Archive: src, Cause: fmt.Errorf("finalize: %w", err)}
		}
	}

	res, err := commit(staging, dest, opts.Force)
	if err != nil {
		return nil, &ExtractionError{Archive: src, Cause: err}
	}
	committed = !res.Skipped
	logger.Debug("Extracted archive", "archive", src, "path", dest, "entries", x.count)
	return res, nil
}

// existing reports a non-empty dest as an already materialized result.
func existing(dest string) (*Result, bool) {
	names, err := topLevel(dest)
	if err != nil || len(names) == 0 {
		return nil, false
	}
	return &Result{Dest: dest, Entries: names, Skipped: true}, true
}

// commit moves staging onto dest. A forced commit swaps the old content
// aside first and deletes it afterwards.
func commit(staging, dest string, force bool) (*Result, error) {
	var old string
	if info, err := os.Lstat(dest); err == nil {
		switch {
		case !info.IsDir():
			return nil, fmt.Errorf("destination %s is not a directory", dest)
		case force:
			old = dest + ".old-" + uuid.NewString()
			if err := os.Rename(dest, old); err != nil {
				return nil, fmt.Errorf("move previous content aside: %w", err)
			}
		default:
			// Empty directory left behind by someone else; Remove fails
			// if it gained content meanwhile, which the rename below handles.
			_ = os.Remove(dest)
		}
	}

	if err := os.Rename(staging, dest); err != nil {
		if old != "" {
			_ = os.Rename(old, dest)
		}
		// Lost a race against a concurrent writer that finished first.
		if res, ok := existing(dest); ok && !force {
			return res, nil
		}
		return nil, fmt.Errorf("move staging dir into place: %w", err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}

	names, err := topLevel(dest)
	if err != nil {
		return nil, err
	}
	return &Result{Dest: dest, Entries: names}, nil
}

func topLevel(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

type extractor struct {
	archive   string
	root      string
	remaining int64
	unlimited bool
	count     int
}

func (x *extractor) fail(entry string, cause error) error {
	return &ExtractionError{Archive: x.archive, Entry: entry, Cause: cause}
}

func (x *extractor) corrupt(entry string, err error) error {
	return x.fail(entry, fmt.Errorf("%w: %w", ErrCorrupt, err))
}

func (x *extractor) zip() error {
	// ErrInsecurePath still returns a usable reader; entries are checked
	// one by one below.
	r, err := zip.OpenReader(x.archive)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return x.corrupt("", err)
	}
	defer r.Close()

	for _, f := range r.File {
		info := f.FileInfo()
		if info.Mode()&fs.ModeSymlink != 0 {
			link, err := readZipLink(f)
			if err != nil {
				return x.corrupt(f.Name, err)
			}
			if err := x.symlink(f.Name, link); err != nil {
				return err
			}
			continue
		}

		err := x.entry(f.Name, info, func() (io.ReadCloser, error) {
			return f.Open()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func readZipLink(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (x *extractor) tar() error {
	f, err := os.Open(x.archive)
	if err != nil {
		return x.fail("", fmt.Errorf("open archive: %w", err))
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(4)

	var r io.Reader = br
	switch {
	case bytes.HasPrefix(head, magicGzip):
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return x.corrupt("", err)
		}
		defer gzr.Close()
		r = gzr
	case bytes.HasPrefix(head, magicZstd):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return x.corrupt("", err)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil && !(errors.Is(err, tar.ErrInsecurePath) && header != nil) {
			return x.corrupt("", fmt.Errorf("read tar header: %w", err))
		}

		switch header.Typeflag {
		case tar.TypeDir, tar.TypeReg:
			err = x.entry(header.Name, header.FileInfo(), func() (io.ReadCloser, error) {
				return io.NopCloser(tr), nil
			})
		case tar.TypeSymlink:
			err = x.symlink(header.Name, header.Linkname)
		case tar.TypeLink:
			err = x.hardlink(header.Name, header.Linkname)
		default:
			// Skip pax global headers, devices, fifos.
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// target resolves an entry name below the staging root, rejecting names
// that are absolute or climb out of it.
func (x *extractor) target(name string) (string, error) {
	clean := strings.ReplaceAll(name, "\\", "/")
	if clean == "" || strings.HasPrefix(clean, "/") || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", x.fail(name, ErrPathTraversal)
	}
	target := filepath.Join(x.root, filepath.FromSlash(clean))
	if target != x.root && !strings.HasPrefix(target, x.root+string(os.PathSeparator)) {
		return "", x.fail(name, ErrPathTraversal)
	}
	if err := x.noSymlinkParents(target); err != nil {
		return "", x.fail(name, err)
	}
	return target, nil
}

// noSymlinkParents refuses to write through a symlink created by an
// earlier entry.
func (x *extractor) noSymlinkParents(target string) error {
	rel, err := filepath.Rel(x.root, filepath.Dir(target))
	if err != nil || rel == "." {
		return nil
	}
	cur := x.root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			return nil
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return ErrPathTraversal
		}
	}
	return nil
}

// entry extracts a single file or directory.
// opener is a function that returns a reader for the file content.
func (x *extractor) entry(name string, info fs.FileInfo, opener func() (io.ReadCloser, error)) error {
	target, err := x.target(name)
	if err != nil {
		return err
	}
	if target == x.root {
		return nil
	}
	if err := x.notSymlink(name, target); err != nil {
		return err
	}
	x.count++

	if info.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return x.fail(name, fmt.Errorf("create directory: %w", err))
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return x.fail(name, fmt.Errorf("create parent directory: %w", err))
	}

	// Owner read/write is always kept so the unit can be replaced later.
	perm := info.Mode().Perm() | 0o600
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return x.fail(name, fmt.Errorf("create file: %w", err))
	}
	defer f.Close()

	rc, err := opener()
	if err != nil {
		return x.corrupt(name, err)
	}
	// For tar, rc is NopCloser(tr); for zip it is the entry reader.
	defer rc.Close()

	var src io.Reader = sourceReader{r: rc}
	if !x.unlimited {
		src = io.LimitReader(src, x.remaining+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		var re *readError
		if errors.As(err, &re) {
			return x.corrupt(name, re.err)
		}
		return x.fail(name, fmt.Errorf("write file: %w", err))
	}
	if !x.unlimited {
		x.remaining -= n
		if x.remaining < 0 {
			return x.fail(name, ErrTooLarge)
		}
	}
	if err := f.Close(); err != nil {
		return x.fail(name, fmt.Errorf("close file: %w", err))
	}
	return nil
}

func (x *extractor) symlink(name, link string) error {
	target, err := x.target(name)
	if err != nil {
		return err
	}
	if _, ok := x.follow(filepath.Dir(target), link, 0); !ok {
		return x.fail(name, ErrPathTraversal)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return x.fail(name, fmt.Errorf("create parent directory: %w", err))
	}
	if err := os.Symlink(link, target); err != nil {
		return x.fail(name, fmt.Errorf("create symlink: %w", err))
	}
	x.count++
	return nil
}

func (x *extractor) hardlink(name, link string) error {
	target, err := x.target(name)
	if err != nil {
		return err
	}
	source, err := x.target(link)
	if err != nil {
		return x.fail(name, ErrPathTraversal)
	}
	if info, err := os.Lstat(source); err != nil || !info.Mode().IsRegular() {
		return x.fail(name, fmt.Errorf("%w: hard link to missing file %q", ErrCorrupt, link))
	}
	if err := x.notSymlink(name, target); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return x.fail(name, fmt.Errorf("create parent directory: %w", err))
	}
	if err := os.Link(source, target); err != nil {
		return x.fail(name, fmt.Errorf("create hard link: %w", err))
	}
	x.count++
	return nil
}

// notSymlink rejects writing onto a symlink left by an earlier entry;
// opening it would follow the link.
func (x *extractor) notSymlink(name, target string) error {
	info, err := os.Lstat(target)
	if err == nil && info.Mode()&fs.ModeSymlink != 0 {
		return x.fail(name, ErrPathTraversal)
	}
	return nil
}

// follow resolves link relative to dir the way the OS would, walking
// through symlinks already extracted. It reports false when the path
// leaves the root, is absolute, or loops.
func (x *extractor) follow(dir, link string, hops int) (string, bool) {
	if hops > maxLinkHops || link == "" || strings.HasPrefix(link, "/") || filepath.IsAbs(link) || filepath.VolumeName(link) != "" {
		return "", false
	}
	cur := dir
	for _, part := range strings.Split(strings.ReplaceAll(link, "\\", "/"), "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if cur == x.root {
				return "", false
			}
			cur = filepath.Dir(cur)
			continue
		}

		next := filepath.Join(cur, part)
		info, err := os.Lstat(next)
		if err != nil || info.Mode()&fs.ModeSymlink == 0 {
			cur = next
			continue
		}
		sub, err := os.Readlink(next)
		if err != nil {
			return "", false
		}
		resolved, ok := x.follow(cur, sub, hops+1)
		if !ok {
			return "", false
		}
		cur = resolved
	}
	return cur, true
}

// checkLinks resolves every symlink in the finished tree.
func (x *extractor) checkLinks() error {
	return filepath.WalkDir(x.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return x.fail("", err)
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		link, err := os.Readlink(path)
		if err != nil {
			return x.fail(path, err)
		}
		if _, ok := x.follow(filepath.Dir(path), link, 0); !ok {
			rel, _ := filepath.Rel(x.root, path)
			return x.fail(filepath.ToSlash(rel), ErrPathTraversal)
		}
		return nil
	})
}
