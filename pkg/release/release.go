// Package release lists the published versions of a versioned content
// source. Providers map a source's native listing (GitHub releases JSON, an
// HTML directory index) onto Release values.
package release

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"bookfetch/pkg/archive"
	"bookfetch/pkg/location"
)

// Release is one published version of a source. A missing archive leaves
// the matching URL empty.
type Release struct {
	Tag         string
	Name        string
	ZipURL      string
	TarURL      string
	ZipDigest   string
	TarDigest   string
	Prerelease  bool
	PublishedAt time.Time
}

// URL returns the download URL for the given format.
func (r Release) URL(f archive.Format) string {
	switch f {
	case archive.Zip:
		return r.ZipURL
	case archive.Tar:
		return r.TarURL
	}
	return ""
}

// Digest returns the published digest of the archive in the given format.
func (r Release) Digest(f archive.Format) string {
	switch f {
	case archive.Zip:
		return r.ZipDigest
	case archive.Tar:
		return r.TarDigest
	}
	return ""
}

// Pick chooses the archive to download: preferred when available,
// otherwise whichever format has a URL.
func (r Release) Pick(preferred archive.Format) (archive.Format, string, bool) {
	order := []archive.Format{archive.Tar, archive.Zip}
	if preferred == archive.Zip {
		order = []archive.Format{archive.Zip, archive.Tar}
	}
	for _, f := range order {
		if u := r.URL(f); u != "" {
			return f, u, true
		}
	}
	return archive.FormatUnknown, "", false
}

// Provider lists the releases of a location.
type Provider interface {
	Name() string
	// ListReleases returns releases in the provider's native order. On
	// error no partial list is returned.
	ListReleases(ctx context.Context, loc location.Location) ([]Release, error)
}

// Find returns the release tagged tag.
func Find(releases []Release, tag string) (Release, error) {
	for _, r := range releases {
		if r.Tag == tag {
			return r, nil
		}
	}
	return Release{}, fmt.Errorf("%w: %q", ErrReleaseNotFound, tag)
}

// SortByTag orders releases newest first. Tags that parse as semantic
// versions sort before those that don't; the rest compare as strings.
func SortByTag(releases []Release) {
	type keyed struct {
		v *semver.Version
		r Release
	}
	ks := make([]keyed, len(releases))
	for i, r := range releases {
		v, err := semver.NewVersion(r.Tag)
		if err != nil {
			v = nil
		}
		ks[i] = keyed{v: v, r: r}
	}

	slices.SortStableFunc(ks, func(a, b keyed) int {
		switch {
		case a.v != nil && b.v != nil:
			return b.v.Compare(a.v)
		case a.v != nil:
			return -1
		case b.v != nil:
			return 1
		}
		return strings.Compare(b.r.Tag, a.r.Tag)
	})

	for i, k := range ks {
		releases[i] = k.r
	}
}

// dedupe drops releases whose tag was already seen. The first one wins.
func dedupe(releases []Release) []Release {
	seen := make(map[string]bool, len(releases))
	out := releases[:0]
	for _, r := range releases {
		if seen[r.Tag] {
			continue
		}
		seen[r.Tag] = true
		out = append(out, r)
	}
	return out
}
