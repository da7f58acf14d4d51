package release

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"bookfetch/pkg/archive"
	"bookfetch/pkg/location"
)

var versionRe = regexp.MustCompile(`v?\d+(?:\.\d+)+(?:-[0-9A-Za-z]+(?:\.[0-9A-Za-z]+)*)?`)

// IndexProvider lists releases from an HTML directory index, such as an
// autoindex page on a shared file server. Archive links are grouped by the
// version found in their file name.
type IndexProvider struct {
	s settings
}

func NewIndexProvider(opts ...Option) *IndexProvider {
	return &IndexProvider{s: newSettings(opts)}
}

func (p *IndexProvider) Name() string { return "index" }

func (p *IndexProvider) ListReleases(ctx context.Context, loc location.Location) ([]Release, error) {
	fail := func(err error) ([]Release, error) {
		return nil, &ResolutionError{Provider: p.Name(), Location: loc.String(), Cause: err}
	}
	if loc.URL == nil || (loc.URL.Scheme != "http" && loc.URL.Scheme != "https") {
		return fail(ErrNotVersioned)
	}

	body, _, err := p.s.get(ctx, loc.URL.String(), "text/html")
	if err != nil {
		return fail(err)
	}
	releases, err := parseIndex(loc.URL, body)
	if err != nil {
		return fail(err)
	}
	return releases, nil
}

func parseIndex(page *url.URL, body []byte) ([]Release, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	doc := goquery.NewDocumentFromNode(root)

	base := page
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := page.Parse(href); err == nil {
			base = u
		}
	}

	var order []string
	byTag := make(map[string]*Release)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		name := path.Base(u.Path)
		format := archive.FormatFromName(name)
		if format == archive.FormatUnknown {
			return
		}
		tag := versionOf(name)
		if tag == "" {
			return
		}

		r, ok := byTag[tag]
		if !ok {
			r = &Release{Tag: tag, Name: strings.TrimSpace(a.Text())}
			byTag[tag] = r
			order = append(order, tag)
		}
		switch format {
		case archive.Zip:
			if r.ZipURL == "" {
				r.ZipURL = u.String()
			}
		case archive.Tar:
			if r.TarURL == "" {
				r.TarURL = u.String()
			}
		}
	})

	releases := make([]Release, 0, len(order))
	for _, tag := range order {
		releases = append(releases, *byTag[tag])
	}
	return releases, nil
}

// versionOf returns the last semantic-version-like token of a file name.
func versionOf(name string) string {
	for _, ext := range archive.SupportedExtensions() {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	matches := versionRe.FindAllString(name, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if _, err := semver.NewVersion(matches[i]); err == nil {
			return matches[i]
		}
	}
	return ""
}
