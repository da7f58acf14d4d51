// Package disk measures and cleans the local storage used by the content cache.
package disk

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Usage represents disk usage information for a specific category of data.
type Usage struct {
	Label string
	Size  int64
	Items int
	Path  string
}

// Measure reports usage for each labelled path, sorted by label, and the total.
func Measure(paths map[string]string) ([]Usage, int64) {
	var total int64
	stats := make([]Usage, 0, len(paths))
	for label, path := range paths {
		size, count := DirSize(path)
		total += size
		stats = append(stats, Usage{
			Label: label,
			Size:  size,
			Items: count,
			Path:  path,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Label < stats[j].Label })
	return stats, total
}

// RemoveStale deletes direct children of dir that match pattern and were
// last modified before cutoff. It returns the removed paths.
func RemoveStale(dir, pattern string, cutoff time.Time) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	var removed []string
	for _, m := range matches {
		info, err := os.Lstat(m)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(m); err != nil {
			return removed, fmt.Errorf("remove %s: %w", m, err)
		}
		slog.Debug("Removed stale entry", "path", m)
		removed = append(removed, m)
	}
	return removed, nil
}
