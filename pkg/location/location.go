// Package location classifies user-supplied content locations.
// A location is either a GitHub release repository or a direct shared file URL.
package location

import (
	"net/url"
	"regexp"
	"strings"
)

// Kind identifies where remote content comes from.
type Kind int

const (
	// SharedFile is a direct download URL. It is the fallback for anything
	// that is not recognized as a release repository.
	SharedFile Kind = iota
	// GitHub is a repository publishing versioned releases.
	GitHub
)

func (k Kind) String() string {
	switch k {
	case GitHub:
		return "GitHub"
	default:
		return "Shared File"
	}
}

// Location is an immutable, classified user location.
type Location struct {
	Kind Kind
	// Raw is the string the user typed, untouched.
	Raw string
	// URL is the parsed form. For GitHub locations it points at the
	// repository page. It is nil when Raw is not a parseable URL.
	URL *url.URL

	// Owner and Repo are only set for GitHub locations.
	Owner string
	Repo  string
}

var (
	ownerRe = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}$`)
	repoRe  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
)

// Classify determines the kind of the raw location. It never fails:
// unrecognized input classifies as SharedFile.
func Classify(raw string) Location {
	s := strings.TrimSpace(raw)

	if owner, repo, ok := parseGitHub(s); ok {
		return Location{
			Kind:  GitHub,
			Raw:   raw,
			URL:   &url.URL{Scheme: "https", Host: "github.com", Path: "/" + owner + "/" + repo},
			Owner: owner,
			Repo:  repo,
		}
	}

	loc := Location{Kind: SharedFile, Raw: raw}
	if u, err := url.Parse(s); err == nil && s != "" {
		loc.URL = u
	}
	return loc
}

// Identity returns a stable identifier for the location, suitable for
// deriving cache keys.
func (l Location) Identity() string {
	if l.Kind == GitHub {
		return "github.com/" + strings.ToLower(l.Owner) + "/" + strings.ToLower(l.Repo)
	}
	if l.URL == nil {
		return strings.TrimSpace(l.Raw)
	}
	u := *l.URL
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// Slug returns "owner/repo" for GitHub locations and "" otherwise.
func (l Location) Slug() string {
	if l.Kind != GitHub {
		return ""
	}
	return l.Owner + "/" + l.Repo
}

func (l Location) String() string {
	if l.Kind == GitHub {
		return l.Slug()
	}
	return l.Raw
}

func parseGitHub(s string) (owner, repo string, ok bool) {
	if s == "" || strings.ContainsAny(s, " \t\n?#") {
		return "", "", false
	}

	if rest, found := strings.CutPrefix(s, "github:"); found {
		return splitOwnerRepo(rest, false)
	}

	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", "", false
		}
		switch strings.ToLower(u.Host) {
		case "github.com", "www.github.com":
			return splitOwnerRepo(strings.Trim(u.Path, "/"), true)
		case "api.github.com":
			rest, found := strings.CutPrefix(strings.Trim(u.Path, "/"), "repos/")
			if !found {
				return "", "", false
			}
			return splitOwnerRepo(rest, true)
		}
		return "", "", false
	}

	if strings.Contains(s, "://") {
		return "", "", false
	}

	if rest, found := strings.CutPrefix(s, "repos/"); found {
		return splitOwnerRepo(rest, true)
	}
	return splitOwnerRepo(s, false)
}

// splitOwnerRepo splits "owner/repo[/...]". Trailing path segments are only
// accepted when allowTail is set, so that a relative file path such as
// "books/guide/intro.zip" is not taken for a repository.
func splitOwnerRepo(s string, allowTail bool) (string, string, bool) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || (len(parts) > 2 && !allowTail) {
		return "", "", false
	}
	owner := parts[0]
	repo := strings.TrimSuffix(parts[1], ".git")
	if !ownerRe.MatchString(owner) || !repoRe.MatchString(repo) || repo == "." || repo == ".." {
		return "", "", false
	}
	return owner, repo, true
}
