package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"bookfetch/pkg/archive"
	"bookfetch/pkg/cache"
	"bookfetch/pkg/disk"
	"bookfetch/pkg/display"
	"bookfetch/pkg/downloader"
	"bookfetch/pkg/location"
	"bookfetch/pkg/release"
)

// DefaultConcurrency bounds AcquireAll.
const DefaultConcurrency = 4

// Manager acquires content units into a cache root. It is safe for
// concurrent use; requests for the same key share one download.
type Manager struct {
	root        *cache.Root
	fetcher     *downloader.Fetcher
	providers   map[location.Kind]release.Provider
	recognize   cache.Recognizer
	preferred   archive.Format
	concurrency int
	maxExtract  int64
	// installTimeout bounds one shared download and extraction; zero
	// means no bound beyond the lock timeout.
	installTimeout time.Duration
	logger         *slog.Logger
	newTask        func(name string) display.Task

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithProvider sets the release provider for a location kind. GitHub has
// a provider by default; shared files have none and are fetched directly.
func WithProvider(kind location.Kind, p release.Provider) Option {
	return func(m *Manager) { m.providers[kind] = p }
}

// WithFetcher replaces the archive fetcher.
func WithFetcher(f *downloader.Fetcher) Option {
	return func(m *Manager) { m.fetcher = f }
}

// WithRecognizer filters the paths returned for a unit.
func WithRecognizer(r cache.Recognizer) Option {
	return func(m *Manager) { m.recognize = r }
}

// WithPreferredFormat overrides the per-OS archive preference.
func WithPreferredFormat(f archive.Format) Option {
	return func(m *Manager) { m.preferred = f }
}

// WithConcurrency bounds how many requests AcquireAll runs at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) { m.concurrency = n }
}

// WithMaxExtractBytes caps the uncompressed size of one unit.
func WithMaxExtractBytes(n int64) Option {
	return func(m *Manager) { m.maxExtract = n }
}

// WithInstallTimeout bounds a download and extraction. The work runs
// detached from the callers' contexts because callers of the same key
// share it.
func WithInstallTimeout(d time.Duration) Option {
	return func(m *Manager) { m.installTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDisplay reports download progress on d instead of the log.
func WithDisplay(d display.Display) Option {
	return func(m *Manager) { m.newTask = d.StartTask }
}

// New returns a Manager for root.
func New(root *cache.Root, opts ...Option) *Manager {
	m := &Manager{
		root:        root,
		providers:   make(map[location.Kind]release.Provider),
		preferred:   archive.PreferredFormat(runtime.GOOS),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if _, ok := m.providers[location.GitHub]; !ok {
		m.providers[location.GitHub] = release.NewGitHubProvider(release.WithLogger(m.logger))
	}
	if m.fetcher == nil {
		m.fetcher = downloader.NewFetcher(downloader.NewDefaultDownloader(), root.DownloadDir(), downloader.WithLogger(m.logger))
	}
	if m.newTask == nil {
		m.newTask = func(name string) display.Task { return display.NewLogTask(m.logger, name) }
	}
	if m.concurrency <= 0 {
		m.concurrency = DefaultConcurrency
	}
	return m
}

// ListReleases returns the releases of a versioned location in the
// provider's order. An empty listing is an error.
func (m *Manager) ListReleases(ctx context.Context, raw string) ([]release.Release, error) {
	loc := location.Classify(raw)
	p, ok := m.providers[loc.Kind]
	if !ok {
		return nil, &release.ResolutionError{Location: loc.String(), Cause: release.ErrNotVersioned}
	}

	releases, err := p.ListReleases(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, &release.ResolutionError{Provider: p.Name(), Location: loc.String(), Cause: release.ErrNoReleases}
	}
	return releases, nil
}

// Resolve classifies raw and picks the release tagged tag. An empty tag
// selects the first listed release. Locations without a provider resolve
// to a plain request and reject a tag.
func (m *Manager) Resolve(ctx context.Context, raw, tag string) (Request, error) {
	loc := location.Classify(raw)
	p, versioned := m.providers[loc.Kind]
	if !versioned {
		if tag != "" {
			return Request{}, &release.ResolutionError{Location: loc.String(), Cause: release.ErrNotVersioned}
		}
		return Request{Location: loc}, nil
	}

	releases, err := m.ListReleases(ctx, raw)
	if err != nil {
		return Request{}, err
	}
	rel := releases[0]
	if tag != "" {
		if rel, err = release.Find(releases, tag); err != nil {
			return Request{}, &release.ResolutionError{Provider: p.Name(), Location: loc.String(), Cause: err}
		}
	}
	return Request{Location: loc, Release: &rel}, nil
}

// Acquire makes sure the unit for req exists and returns its openable
// top-level paths, sorted. An existing well-formed unit is used without
// network access unless req.Force is set.
func (m *Manager) Acquire(ctx context.Context, req Request) ([]string, error) {
	plan, err := m.NewPlan(req)
	if err != nil {
		return nil, err
	}

	if !req.Force && m.root.Valid(plan.Key) {
		m.logger.Debug("Content unit already present", "key", plan.Key.String())
		m.root.Register(plan.Key)
		return cache.Enumerate(plan.UnitPath, m.recognize)
	}

	flight := plan.Key.String()
	if req.Force {
		flight += "#force"
	}
	done := m.group.DoChan(flight, func() (any, error) {
		// The work is shared by every caller of the key, so it must not
		// end when the caller that started it goes away.
		wctx := context.WithoutCancel(ctx)
		if m.installTimeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(wctx, m.installTimeout)
			defer cancel()
		}
		_, err := m.root.Ensure(wctx, plan.Key, req.Force, func() error {
			return m.install(wctx, plan)
		})
		return nil, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.Err != nil {
			return nil, res.Err
		}
	}

	m.root.Register(plan.Key)
	return cache.Enumerate(plan.UnitPath, m.recognize)
}

// AcquireString classifies raw, resolves tag and acquires the unit. A
// unit already present for an explicit tag is returned without listing
// releases.
func (m *Manager) AcquireString(ctx context.Context, raw, tag string) ([]string, error) {
	loc := location.Classify(raw)
	if _, versioned := m.providers[loc.Kind]; !versioned || tag != "" {
		k := cache.KeyFor(loc, tag)
		if m.root.Valid(k) {
			m.root.Register(k)
			return cache.Enumerate(m.root.UnitPath(k), m.recognize)
		}
	}

	req, err := m.Resolve(ctx, raw, tag)
	if err != nil {
		return nil, err
	}
	return m.Acquire(ctx, req)
}

// AcquireAll acquires reqs concurrently. Results are in request order. The
// first failure cancels the remaining requests.
func (m *Manager) AcquireAll(ctx context.Context, reqs []Request) ([][]string, error) {
	results := make([][]string, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for i, req := range reqs {
		g.Go(func() error {
			paths, err := m.Acquire(gctx, req)
			if err != nil {
				return err
			}
			results[i] = paths
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Units lists the units in the cache.
func (m *Manager) Units() ([]cache.Unit, error) {
	return m.root.Units()
}

// Usage reports disk usage per provider directory.
func (m *Manager) Usage() ([]disk.Usage, int64) {
	return m.root.Usage()
}

// Remove deletes the unit of raw at tag.
func (m *Manager) Remove(ctx context.Context, raw, tag string) error {
	loc := location.Classify(raw)
	if loc.Kind == location.GitHub && tag == "" {
		return fmt.Errorf("remove %s: a tag is required", loc)
	}
	return m.root.Remove(ctx, cache.KeyFor(loc, tag))
}

// Prune removes leftovers of interrupted acquisitions older than age.
func (m *Manager) Prune(age time.Duration) ([]string, error) {
	removed, err := m.root.Prune(age)
	for _, p := range removed {
		m.logger.Debug("Pruned", "path", p)
	}
	return removed, err
}
