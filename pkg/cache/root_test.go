package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bookfetch/pkg/location"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	k := KeyFor(location.Classify("microsoft/azuredatastudio"), "v1.2.0")
	assert.Equal(t, Key{Provider: "github-microsoft--azuredatastudio", Version: "v1.2.0"}, k)
	assert.Equal(t, k, KeyFor(location.Classify("https://github.com/Microsoft/AzureDataStudio"), "v1.2.0"))

	shared := KeyFor(location.Classify("https://example.com/book.zip"), "")
	assert.Equal(t, "shared-example.com", shared.Provider)
	assert.Len(t, shared.Version, 16)

	indexed := KeyFor(location.Classify("https://example.com/book.zip"), "2.0.0")
	assert.Equal(t, shared.Provider, indexed.Provider)
	assert.Equal(t, shared.Version+"-2.0.0", indexed.Version)
	assert.Equal(t, shared, KeyFor(location.Classify("https://example.com/book.zip#x"), ""))
	assert.NotEqual(t, shared, KeyFor(location.Classify("https://example.com/other.zip"), ""))

	local := KeyFor(location.Classify("file:///tmp/book.zip"), "")
	assert.Equal(t, "shared-local", local.Provider)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "v1.2.0", sanitize("v1.2.0"))

	for _, in := range []string{"..", "../../etc", "release/2024", "", "a b", ".hidden"} {
		out := sanitize(in)
		assert.NotContains(t, out, "/", in)
		assert.False(t, strings.HasPrefix(out, "."), in)
		assert.NotEqual(t, "..", out)
	}
	assert.NotEqual(t, sanitize("a/b"), sanitize("a_b"), "rewrites must not collide with literal names")
}

func TestRootLayout(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRoot(dir)
	require.NoError(t, err)

	assert.DirExists(t, r.DownloadDir())
	k := Key{Provider: "github-o--r", Version: "v1"}
	assert.Equal(t, filepath.Join(dir, "github-o--r", "v1"), r.UnitPath(k))
	assert.Equal(t, filepath.Join(dir, ".locks", "github-o--r", "v1.lock"), r.LockPath(k))

	_, err = NewRoot("")
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	r, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	k := Key{Provider: "github-o--r", Version: "v1"}

	assert.False(t, r.Valid(k), "missing unit")

	require.NoError(t, os.MkdirAll(r.UnitPath(k), 0o755))
	require.NoError(t, WriteManifest(r.UnitPath(k), &Manifest{Key: k.String()}))
	assert.False(t, r.Valid(k), "manifest only")

	require.NoError(t, os.WriteFile(filepath.Join(r.UnitPath(k), "README.md"), []byte("x"), 0o644))
	assert.True(t, r.Valid(k))

	require.NoError(t, WriteManifest(r.UnitPath(k), &Manifest{Key: "other/key"}))
	assert.False(t, r.Valid(k), "manifest for another key")

	require.NoError(t, os.WriteFile(filepath.Join(r.UnitPath(k), ManifestName), []byte("{"), 0o644))
	assert.False(t, r.Valid(k), "corrupt manifest")
	_, err = ReadManifest(r.UnitPath(k))
	assert.ErrorIs(t, err, ErrMalformedUnit)
}

func TestValidRegistered(t *testing.T) {
	r, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	k := Key{Provider: "github-o--r", Version: "v1"}
	writeUnit(t, r, k)
	r.Register(k)

	manifest := filepath.Join(r.UnitPath(k), ManifestName)
	require.NoError(t, os.WriteFile(manifest, []byte("{"), 0o644))
	assert.True(t, r.Valid(k), "registered units skip the manifest parse")

	require.NoError(t, os.Remove(manifest))
	assert.False(t, r.Valid(k))
	assert.False(t, r.Registered(k), "a vanished unit is forgotten")

	writeUnit(t, r, k)
	require.NoError(t, os.WriteFile(manifest, []byte("{"), 0o644))
	assert.False(t, r.Valid(k), "unregistered units are parsed again")
}

func TestUnitsAndRemove(t *testing.T) {
	r, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	a := Key{Provider: "github-o--r", Version: "v2"}
	b := Key{Provider: "github-o--r", Version: "v1"}
	writeUnit(t, r, a)
	writeUnit(t, r, b)
	require.NoError(t, os.MkdirAll(r.UnitPath(a)+".staging-123", 0o755))

	units, err := r.Units()
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, b, units[0].Key)
	assert.Equal(t, a, units[1].Key)
	assert.Equal(t, "v2", units[1].Manifest.Tag)

	r.Register(a)
	assert.True(t, r.Registered(a))
	require.NoError(t, r.Remove(context.Background(), a))
	assert.False(t, r.Registered(a))
	assert.NoDirExists(t, r.UnitPath(a))

	stats, total := r.Usage()
	assert.NotEmpty(t, stats)
	assert.Positive(t, total)
}

func TestPrune(t *testing.T) {
	r, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	k := Key{Provider: "github-o--r", Version: "v1"}
	writeUnit(t, r, k)

	part := filepath.Join(r.DownloadDir(), "x.part")
	staging := r.UnitPath(k) + ".staging-abc"
	require.NoError(t, os.WriteFile(part, []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(staging, 0o755))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(part, past, past))
	require.NoError(t, os.Chtimes(staging, past, past))

	removed, err := r.Prune(time.Hour)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{part, staging}, removed)
	assert.True(t, r.Valid(k), "complete units survive pruning")
}

func TestEnumerate(t *testing.T) {
	r, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	k := Key{Provider: "p", Version: "v"}
	writeUnit(t, r, k)
	dir := r.UnitPath(k)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a-notes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "LICENSE"), []byte("x"), 0o644))

	paths, err := Enumerate(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "LICENSE"),
		filepath.Join(dir, "a-notes"),
		filepath.Join(dir, "book"),
	}, paths)

	paths, err = Enumerate(dir, HasMarker("_config.yml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "book")}, paths)

	onlyDirs := func(_ string, d fs.DirEntry) bool { return d.IsDir() }
	paths, err = Enumerate(dir, onlyDirs)
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	_, err = Enumerate(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}
