// Package cache owns the on-disk tree holding extracted content units.
//
// Layout below the root directory:
//
//	<provider>/<version>/   one content unit, with a manifest file
//	.downloads/             archives being fetched
//	.locks/                 per-key lock files
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bookfetch/pkg/disk"
)

const (
	downloadsDir = ".downloads"
	locksDir     = ".locks"

	// DefaultLockTimeout bounds how long Ensure waits for another
	// acquisition of the same key.
	DefaultLockTimeout = 5 * time.Minute
)

// Root is the cache directory shared by all acquisitions of a process.
// It is safe for concurrent use.
type Root struct {
	dir         string
	lockTimeout time.Duration
	logger      *slog.Logger

	mu    sync.RWMutex
	units map[Key]string
}

// Option configures a Root.
type Option func(*Root)

// WithLockTimeout sets how long a caller waits for a key held by another
// acquisition. Zero waits until the context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Root) { r.lockTimeout = d }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Root) { r.logger = l }
}

// NewRoot opens the cache rooted at dir, creating it if needed.
func NewRoot(dir string, opts ...Option) (*Root, error) {
	if dir == "" {
		return nil, errors.New("cache dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	r := &Root{
		dir:         abs,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
		units:       make(map[Key]string),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, d := range []string{r.dir, r.DownloadDir(), filepath.Join(r.dir, locksDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return r, nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string { return r.dir }

// DownloadDir is where in-flight archives are written.
func (r *Root) DownloadDir() string { return filepath.Join(r.dir, downloadsDir) }

// UnitPath returns the directory of the unit for k, whether or not it exists.
func (r *Root) UnitPath(k Key) string { return filepath.Join(r.dir, k.Path()) }

// LockPath returns the lock file guarding k.
func (r *Root) LockPath(k Key) string {
	return filepath.Join(r.dir, locksDir, k.Provider, k.Version+".lock")
}

// Register records the unit for k as materialized.
func (r *Root) Register(k Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[k] = r.UnitPath(k)
}

func (r *Root) forget(k Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, k)
}

// Registered reports whether k was registered by this process.
func (r *Root) Registered(k Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.units[k]
	return ok
}

// Valid reports whether a well-formed unit exists for k: its manifest
// parses, names k, and at least one content entry sits next to it. A unit
// registered by this process is only checked for its manifest file; one
// removed behind our back is forgotten.
func (r *Root) Valid(k Key) bool {
	dir := r.UnitPath(k)
	if r.Registered(k) {
		if _, err := os.Stat(filepath.Join(dir, ManifestName)); err == nil {
			return true
		}
		r.forget(k)
		return false
	}

	m, err := ReadManifest(dir)
	if err != nil || m.Key != k.String() {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name() != ManifestName {
			return true
		}
	}
	return false
}

// Remove deletes the unit for k under its lock.
func (r *Root) Remove(ctx context.Context, k Key) error {
	unlock, err := Lock(ctx, r.LockPath(k))
	if err != nil {
		return &ConsistencyError{Key: k, Cause: err}
	}
	defer unlock()

	r.forget(k)

	if err := os.RemoveAll(r.UnitPath(k)); err != nil {
		return fmt.Errorf("remove unit %s: %w", k, err)
	}
	r.logger.Info("Removed content unit", "key", k.String())
	return nil
}

// Unit describes a materialized content unit found on disk.
type Unit struct {
	Key      Key
	Path     string
	Manifest *Manifest
}

// Units scans the root for well-formed units, sorted by key.
func (r *Root) Units() ([]Unit, error) {
	providers, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	var units []Unit
	for _, p := range providers {
		if !p.IsDir() || strings.HasPrefix(p.Name(), ".") {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(r.dir, p.Name()))
		if err != nil {
			continue
		}
		for _, v := range versions {
			if !v.IsDir() || isScratch(v.Name()) {
				continue
			}
			k := Key{Provider: p.Name(), Version: v.Name()}
			if !r.Valid(k) {
				continue
			}
			m, err := ReadManifest(r.UnitPath(k))
			if err != nil {
				continue
			}
			units = append(units, Unit{Key: k, Path: r.UnitPath(k), Manifest: m})
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Key.String() < units[j].Key.String() })
	return units, nil
}

// Usage reports the disk usage of units and in-flight downloads.
func (r *Root) Usage() ([]disk.Usage, int64) {
	paths := map[string]string{"Downloads": r.DownloadDir()}
	entries, _ := os.ReadDir(r.dir)
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			paths[e.Name()] = filepath.Join(r.dir, e.Name())
		}
	}
	return disk.Measure(paths)
}

// Prune removes partial downloads and leftover staging directories older
// than age. Such leftovers only exist after a process died mid-acquisition.
func (r *Root) Prune(age time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-age)
	removed, err := disk.RemoveStale(r.DownloadDir(), "*.part", cutoff)
	if err != nil {
		return removed, err
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return removed, fmt.Errorf("read cache root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(r.dir, e.Name())
		for _, pattern := range []string{"*.staging-*", "*.old-*"} {
			more, err := disk.RemoveStale(dir, pattern, cutoff)
			removed = append(removed, more...)
			if err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

func isScratch(name string) bool {
	return strings.Contains(name, ".staging-") || strings.Contains(name, ".old-")
}
