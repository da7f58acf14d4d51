package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	size, count := DirSize(dir)
	assert.Equal(t, int64(150), size)
	assert.Equal(t, 2, count)

	size, count = DirSize(filepath.Join(dir, "missing"))
	assert.Zero(t, size)
	assert.Zero(t, count)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(0))
	assert.Equal(t, "1.0 KiB", FormatSize(1024))
	assert.Equal(t, "0 B", FormatSize(-5))
}

func TestMeasure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), make([]byte, 10), 0o644))

	stats, total := Measure(map[string]string{"Units": dir, "Downloads": filepath.Join(dir, "none")})
	require.Len(t, stats, 2)
	assert.Equal(t, "Downloads", stats[0].Label)
	assert.Equal(t, "Units", stats[1].Label)
	assert.Equal(t, int64(10), total)
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.part")
	fresh := filepath.Join(dir, "fresh.part")
	other := filepath.Join(dir, "keep.txt")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	removed, err := RemoveStale(dir, "*.part", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{old}, removed)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
	assert.NoFileExists(t, old)
}
