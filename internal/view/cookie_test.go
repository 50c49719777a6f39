package view

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCookieSyncRoundTrip(t *testing.T) {
	t.Parallel()

	var jar *CookieJar

	// The plant hook plays the role of backend plus ingestion: the
	// cookie's own event comes back and closes the wait.
	plant := func(dir, name string) error {
		go jar.Observe(name, 42)
		return nil
	}

	jar = NewCookieJar(t.TempDir(), plant, func(string) {
		t.Error("escalate must not fire on a successful sync")
	}, discardLogger())

	tick, err := jar.SyncToNow(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), tick)
}

func TestCookieSyncTimeoutSchedulesExactlyOneRecrawl(t *testing.T) {
	t.Parallel()

	recrawler := NewRecrawler()

	var initiated int
	var mu sync.Mutex

	jar := NewCookieJar(t.TempDir(), func(string, string) error { return nil },
		func(reason string) {
			mu.Lock()
			defer mu.Unlock()

			if recrawler.Schedule(reason) {
				initiated++
			}
		}, discardLogger())

	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := jar.SyncToNow(context.Background(), 10*time.Millisecond)
			assert.ErrorIs(t, err, ErrBackendUnresponsive)
		}()
	}

	wg.Wait()

	// Concurrent failing syncs coalesce into one recrawl pass.
	mu.Lock()
	assert.Equal(t, 1, initiated)
	mu.Unlock()

	state, reasons, _ := recrawler.Status()
	assert.Equal(t, RecrawlRequested, state)
	assert.Len(t, reasons, 4)
}

func TestCookieSyncCanceled(t *testing.T) {
	t.Parallel()

	jar := NewCookieJar(t.TempDir(), func(string, string) error { return nil },
		func(string) {}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := jar.SyncToNow(ctx, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrBackendUnresponsive))
}

func TestCookiePlantFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")

	jar := NewCookieJar(t.TempDir(), func(string, string) error { return boom },
		func(string) {}, discardLogger())

	_, err := jar.SyncToNow(context.Background(), time.Minute)
	assert.ErrorIs(t, err, boom)
}

func TestObserveIgnoresOrdinaryPaths(t *testing.T) {
	t.Parallel()

	jar := NewCookieJar(t.TempDir(), nil, func(string) {}, discardLogger())

	assert.False(t, jar.Observe("src/main.go", 1))
	assert.True(t, jar.Observe(cookiePrefix+"deadbeef", 1))
	assert.True(t, jar.Observe("sub/dir/"+cookiePrefix+"deadbeef", 1))
}

func TestIsCookiePath(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCookiePath(cookiePrefix+"x"))
	assert.True(t, IsCookiePath("nested/"+cookiePrefix+"x"))
	assert.False(t, IsCookiePath("regular.txt"))
	assert.False(t, IsCookiePath("dir"+cookiePrefix+"/file"))
}
