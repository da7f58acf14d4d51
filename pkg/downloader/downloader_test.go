package downloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTask struct {
	lastPercent int
	lastMsg     string
	stage       string
}

func (m *mockTask) Log(msg string)                      {}
func (m *mockTask) SetStage(name string, target string) { m.stage = name }
func (m *mockTask) Progress(percent int, message string) {
	m.lastPercent = percent
	m.lastMsg = message
}
func (m *mockTask) Done() {}

func TestHTTPDownload(t *testing.T) {
	content := []byte("some large content to test download")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
	defer ts.Close()

	d := NewDefaultDownloader()
	buf := &bytes.Buffer{}
	task := &mockTask{}

	err := d.Download(context.Background(), ts.URL, buf, task)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, 100, task.lastPercent)
}

func TestHTTPRedirect(t *testing.T) {
	content := []byte("redirected content")

	// Target server
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
	defer ts.Close()

	// Redirect server
	rs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, ts.URL, http.StatusMovedPermanently)
	}))
	defer rs.Close()

	d := NewDefaultDownloader()
	buf := &bytes.Buffer{}

	err := d.Download(context.Background(), rs.URL, buf, &mockTask{})
	require.NoError(t, err)
	assert.Equal(t, string(content), buf.String())
}

func TestUnknownLengthProgress(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk one"))
		w.(http.Flusher).Flush()
		w.Write([]byte("chunk two"))
	}))
	defer ts.Close()

	task := &mockTask{}
	buf := &bytes.Buffer{}
	require.NoError(t, NewDefaultDownloader().Download(context.Background(), ts.URL, buf, task))
	assert.Equal(t, "chunk onechunk two", buf.String())
	assert.Equal(t, -1, task.lastPercent)
	assert.Contains(t, task.lastMsg, "downloaded")
}

func TestUnsupportedScheme(t *testing.T) {
	d := NewDefaultDownloader()
	err := d.Download(context.Background(), "ftp://example.com", &bytes.Buffer{}, &mockTask{})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.ErrorContains(t, err, "unsupported scheme")
}

func newFetcher(t *testing.T) (*Fetcher, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".downloads")
	return NewFetcher(NewDefaultDownloader(), dir), dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left in %s", dir)
}

func TestFetch(t *testing.T) {
	content := bytes.Repeat([]byte("book"), 4096)
	sum := sha256.Sum256(content)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(content)
	}))
	defer ts.Close()

	f, dir := newFetcher(t)
	task := &mockTask{}
	a, err := f.Fetch(context.Background(), ts.URL+"/book.zip", task)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(a.Path))
	assert.Equal(t, PartSuffix, filepath.Ext(a.Path))
	assert.Equal(t, int64(len(content)), a.Size)
	assert.Equal(t, hex.EncodeToString(sum[:]), a.SHA256)
	assert.Equal(t, "application/zip", a.ContentType)
	assert.Equal(t, ts.URL+"/book.zip", a.SourceURL)
	assert.Equal(t, "Download", task.stage)

	got, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, a.Remove())
	require.NoError(t, a.Remove())
	assertEmptyDir(t, dir)
}

func TestFetchTruncated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 500))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer ts.Close()

	f, dir := newFetcher(t)
	a, err := f.Fetch(context.Background(), ts.URL, nil)
	assert.Nil(t, a)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ts.URL, fe.URL)
	assert.ErrorIs(t, err, ErrTruncated)
	assertEmptyDir(t, dir)
}

func TestFetchBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	f, dir := newFetcher(t)
	_, err := f.Fetch(context.Background(), ts.URL+"/missing.zip", nil)

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "status", fe.Op)
	assertEmptyDir(t, dir)
}

func TestFetchUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	f, dir := newFetcher(t)
	_, err := f.Fetch(context.Background(), url, nil)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "request", fe.Op)
	assertEmptyDir(t, dir)
}

func TestFetchCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("never read"))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, dir := newFetcher(t)
	_, err := f.Fetch(ctx, ts.URL, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assertEmptyDir(t, dir)
}

func TestFetchDigest(t *testing.T) {
	content := []byte("verified content")
	sum := sha256.Sum256(content)
	good := hex.EncodeToString(sum[:])
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer ts.Close()

	f, dir := newFetcher(t)

	a, err := f.Fetch(context.Background(), ts.URL, nil, ExpectDigest("sha256:"+good))
	require.NoError(t, err)
	require.NoError(t, a.Remove())

	a, err = f.Fetch(context.Background(), ts.URL, nil, ExpectDigest("sha512:abcdef"))
	require.NoError(t, err, "unknown algorithms are not verified")
	require.NoError(t, a.Remove())

	_, err = f.Fetch(context.Background(), ts.URL, nil, ExpectDigest("sha256:"+hex.EncodeToString(make([]byte, 32))))
	assert.ErrorIs(t, err, ErrDigestMismatch)
	assertEmptyDir(t, dir)
}

func TestFetchFileScheme(t *testing.T) {
	src := filepath.Join(t.TempDir(), "shared.zip")
	require.NoError(t, os.WriteFile(src, []byte("local archive"), 0o644))

	f, _ := newFetcher(t)
	a, err := f.Fetch(context.Background(), "file://"+filepath.ToSlash(src), nil)
	require.NoError(t, err)
	defer a.Remove()
	assert.Equal(t, int64(len("local archive")), a.Size)

	_, err = f.Fetch(context.Background(), "file:///does/not/exist.zip", nil)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "open", fe.Op)
}
