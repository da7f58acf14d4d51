package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"bookfetch/pkg/location"
)

// Key identifies a content unit: the provider directory and the version
// directory below the cache root.
type Key struct {
	Provider string
	Version  string
}

func (k Key) String() string {
	return k.Provider + "/" + k.Version
}

// Path returns the key as a relative filesystem path.
func (k Key) Path() string {
	return filepath.Join(k.Provider, k.Version)
}

// KeyFor derives the cache key for a location. Shared files are keyed by a
// digest of their URL; tag, when set, selects a release of an indexed
// shared source.
func KeyFor(loc location.Location, tag string) Key {
	if loc.Kind == location.GitHub {
		// GitHub logins never contain "--", so the separator is unambiguous.
		provider := "github-" + strings.ToLower(loc.Owner) + "--" + strings.ToLower(loc.Repo)
		return Key{Provider: sanitize(provider), Version: sanitize(tag)}
	}

	host := "local"
	if loc.URL != nil && loc.URL.Host != "" {
		host = strings.ToLower(loc.URL.Host)
	}
	version := digest(loc.Identity())[:16]
	if tag != "" {
		version += "-" + sanitize(tag)
	}
	return Key{Provider: sanitize("shared-" + host), Version: version}
}

// sanitize maps s onto a single safe path element. Any rewrite appends a
// short digest of the original so distinct inputs keep distinct keys.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if strings.HasPrefix(out, ".") || out == "" {
		out = "_" + out
	}
	if out != s {
		out += "-" + digest(s)[:8]
	}
	return out
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
