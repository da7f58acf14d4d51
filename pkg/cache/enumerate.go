package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Recognizer decides whether a top-level entry of a unit is openable.
// path is the absolute path of the entry.
type Recognizer func(path string, d fs.DirEntry) bool

// Enumerate lists the openable top-level entries of the unit in dir,
// sorted lexicographically by name. A nil recognizer accepts everything.
func Enumerate(dir string, recognize Recognizer) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read unit %s: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == ManifestName {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if recognize != nil && !recognize(p, e) {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// HasMarker returns a Recognizer accepting directories that contain the
// named marker file, e.g. "_config.yml" for a book.
func HasMarker(marker string) Recognizer {
	return func(path string, d fs.DirEntry) bool {
		if !d.IsDir() {
			return false
		}
		_, err := os.Stat(filepath.Join(path, marker))
		return err == nil
	}
}
