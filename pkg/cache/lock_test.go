package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSimple(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "nested", "myfile.lock")

	unlock, err := Lock(context.Background(), lockFile)
	require.NoError(t, err)
	assert.FileExists(t, lockFile)
	require.NoError(t, unlock())
}

func TestLockConcurrent(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "concurrent.lock")

	var wg sync.WaitGroup
	wg.Add(2)
	held := make(chan struct{})

	// Goroutine 1 grabs lock, holds it for a bit
	go func() {
		defer wg.Done()
		unlock, err := Lock(context.Background(), lockFile)
		if !assert.NoError(t, err) {
			close(held)
			return
		}
		close(held)
		time.Sleep(500 * time.Millisecond)
		assert.NoError(t, unlock())
	}()

	// Goroutine 2 tries to grab lock, should wait
	go func() {
		defer wg.Done()
		<-held
		start := time.Now()
		unlock, err := Lock(context.Background(), lockFile)
		if !assert.NoError(t, err) {
			return
		}
		assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond, "G2 acquired lock too fast")
		assert.NoError(t, unlock())
	}()

	wg.Wait()
}

func TestLockHonoursContext(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "ctx.lock")
	unlock, err := Lock(context.Background(), lockFile)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = Lock(ctx, lockFile)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func writeUnit(t *testing.T, r *Root, k Key) {
	t.Helper()
	dir := r.UnitPath(k)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "book"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book", "_config.yml"), []byte("title: x"), 0o644))
	require.NoError(t, WriteManifest(dir, &Manifest{Key: k.String(), Location: "o/r", Tag: k.Version}))
}

func TestEnsure(t *testing.T) {
	r, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	k := Key{Provider: "github-o--r", Version: "v1"}

	var calls atomic.Int32
	fn := func() error {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		writeUnit(t, r, k)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Ensure(context.Background(), k, false, fn)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, r.Valid(k))

	ran, err := r.Ensure(context.Background(), k, true, func() error { return nil })
	require.NoError(t, err)
	assert.True(t, ran, "force always runs fn")
}

func TestEnsureBusy(t *testing.T) {
	r, err := NewRoot(t.TempDir(), WithLockTimeout(100*time.Millisecond))
	require.NoError(t, err)
	k := Key{Provider: "shared-example.com", Version: "abc"}

	unlock, err := Lock(context.Background(), r.LockPath(k))
	require.NoError(t, err)
	defer unlock()

	_, err = r.Ensure(context.Background(), k, false, func() error {
		t.Fatal("fn must not run while the key is held")
		return nil
	})
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, k, ce.Key)
}

func TestEnsurePropagatesError(t *testing.T) {
	r, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	boom := errors.New("boom")

	ran, err := r.Ensure(context.Background(), Key{Provider: "p", Version: "v"}, false, func() error { return boom })
	assert.False(t, ran)
	assert.ErrorIs(t, err, boom)
}
