package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/itchyny/gojq"

	"bookfetch/pkg/location"
)

const (
	// DefaultGitHubAPI is the public GitHub API endpoint.
	DefaultGitHubAPI = "https://api.github.com"
	// DefaultMaxPages bounds pagination of the release listing.
	DefaultMaxPages = 10

	perPage      = 100
	githubAccept = "application/vnd.github+json"
)

// githubReleases maps the GitHub releases payload onto flat records.
// Uploaded assets win over the generated source archives.
const githubReleases = `
.[] | {
  tag: .tag_name,
  name: (.name // ""),
  prerelease: (.prerelease // false),
  published: (.published_at // ""),
  zip: ([.assets[]? | select((.name // "") | test("\\.zip$"; "i"))][0]),
  tar: ([.assets[]? | select((.name // "") | test("\\.(tar|tar\\.gz|tgz|tar\\.zst)$"; "i"))][0]),
  zipball: (.zipball_url // ""),
  tarball: (.tarball_url // "")
} | {
  tag, name, prerelease, published,
  zip_url: (.zip.browser_download_url // .zipball),
  zip_digest: (.zip.digest // ""),
  tar_url: (.tar.browser_download_url // .tarball),
  tar_digest: (.tar.digest // "")
}`

var githubQuery = mustCompile(githubReleases)

func mustCompile(src string) *gojq.Code {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		panic(err)
	}
	return code
}

// GitHubProvider lists releases through the GitHub REST API.
type GitHubProvider struct {
	s settings
}

// NewGitHubProvider returns a provider for api.github.com unless
// WithBaseURL says otherwise.
func NewGitHubProvider(opts ...Option) *GitHubProvider {
	return &GitHubProvider{s: newSettings(opts)}
}

func (p *GitHubProvider) Name() string { return "github" }

func (p *GitHubProvider) ListReleases(ctx context.Context, loc location.Location) ([]Release, error) {
	fail := func(err error) ([]Release, error) {
		return nil, &ResolutionError{Provider: p.Name(), Location: loc.String(), Cause: err}
	}
	if loc.Kind != location.GitHub {
		return fail(ErrNotVersioned)
	}

	first, err := url.JoinPath(p.s.baseURL, "repos", loc.Owner, loc.Repo, "releases")
	if err != nil {
		return fail(err)
	}
	next := first + "?per_page=" + strconv.Itoa(perPage)

	all := []Release{}
	for page := 0; next != "" && page < p.s.maxPages; page++ {
		body, header, err := p.s.get(ctx, next, githubAccept)
		if err != nil {
			return fail(err)
		}
		releases, err := parseGitHubReleases(ctx, body)
		if err != nil {
			return fail(err)
		}
		all = append(all, releases...)
		next = nextLink(header.Get("Link"))
	}
	if next != "" {
		p.s.logger.Debug("Release listing truncated", "location", loc.String(), "pages", p.s.maxPages)
	}
	return dedupe(all), nil
}

func parseGitHubReleases(ctx context.Context, body []byte) ([]Release, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if _, ok := data.([]any); !ok {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrMalformed)
	}

	var releases []Release
	iter := githubQuery.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected release record %T", ErrMalformed, v)
		}

		r := Release{
			Tag:       str(m["tag"]),
			Name:      str(m["name"]),
			ZipURL:    str(m["zip_url"]),
			TarURL:    str(m["tar_url"]),
			ZipDigest: str(m["zip_digest"]),
			TarDigest: str(m["tar_digest"]),
		}
		if r.Tag == "" {
			return nil, fmt.Errorf("%w: release without tag_name", ErrMalformed)
		}
		r.Prerelease, _ = m["prerelease"].(bool)
		if t, err := time.Parse(time.RFC3339, str(m["published"])); err == nil {
			r.PublishedAt = t
		}
		releases = append(releases, r)
	}
	return releases, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
