// Package acquire materializes remote content in the local cache.
// A request goes through a plan of stages (download, extract) that runs at
// most once per cache key, and yields the openable paths of the unit.
package acquire

import (
	"context"
	"fmt"
	"strings"

	"bookfetch/pkg/archive"
	"bookfetch/pkg/cache"
	"bookfetch/pkg/downloader"
	"bookfetch/pkg/location"
	"bookfetch/pkg/release"
)

// Request asks for the content of a location. Release selects the version
// for versioned sources and is nil for plain shared files.
type Request struct {
	Location location.Location
	Release  *release.Release
	// Force re-downloads and replaces an existing unit.
	Force bool
}

// Plan contains everything needed to materialize one content unit.
type Plan struct {
	Request Request
	Key     cache.Key
	// URL is the archive to download and Format the one it is expected to
	// have. FormatUnknown defers to detection after download.
	URL    string
	Format archive.Format
	Digest string
	// UnitPath is the final directory of the unit.
	UnitPath string

	// Archive is set by the download stage.
	Archive *downloader.LocalArchive
}

// Stage represents a single step of the acquisition pipeline.
type Stage func(ctx context.Context, m *Manager, plan *Plan) error

// NewPlan resolves the cache key and the archive to download for req.
func (m *Manager) NewPlan(req Request) (*Plan, error) {
	loc := req.Location
	plan := &Plan{Request: req}

	switch {
	case req.Release != nil:
		format, url, ok := req.Release.Pick(m.preferred)
		if !ok {
			return nil, &release.ResolutionError{
				Location: loc.String(),
				Cause:    fmt.Errorf("%w: %s", release.ErrNoArchive, req.Release.Tag),
			}
		}
		plan.Key = cache.KeyFor(loc, req.Release.Tag)
		plan.URL = url
		plan.Format = format
		plan.Digest = req.Release.Digest(format)
	case loc.Kind == location.GitHub:
		return nil, &release.ResolutionError{
			Location: loc.String(),
			Cause:    fmt.Errorf("%w: a release is required for %s sources", release.ErrReleaseNotFound, loc.Kind),
		}
	default:
		plan.Key = cache.KeyFor(loc, "")
		plan.URL = strings.TrimSpace(loc.Raw)
		plan.Format = archive.FormatFromName(plan.URL)
	}

	plan.UnitPath = m.root.UnitPath(plan.Key)
	return plan, nil
}
