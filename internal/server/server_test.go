package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/treewatch/internal/registry"
	"github.com/tonimelisma/treewatch/internal/view"
)

type testDaemon struct {
	ts   *httptest.Server
	reg  *registry.Registry
	root string
}

func newTestDaemon(t *testing.T) *testDaemon {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New(registry.Settings{
		CookieTimeout:      5 * time.Second,
		TombstoneRetention: time.Hour,
		ContentCacheSize:   16,
		SymlinkCacheSize:   16,
	}, nil, logger)
	t.Cleanup(reg.CloseAll)

	srv := New("127.0.0.1:0", reg, logger)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	d := &testDaemon{ts: ts, reg: reg, root: t.TempDir()}

	d.post(t, "/watch", map[string]string{"root": d.root}, http.StatusOK)
	d.waitSettled(t)

	return d
}

func (d *testDaemon) waitSettled(t *testing.T) {
	t.Helper()

	engine, err := d.reg.Get(d.root)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, _, generation := engine.RecrawlStatus()
		return state == "settled" && generation >= 1
	}, 5*time.Second, 5*time.Millisecond)
}

// post sends a JSON body and decodes the JSON response.
func (d *testDaemon) post(t *testing.T, path string, body any, wantStatus int) map[string]json.RawMessage {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(d.ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)

	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))

	return decoded
}

func (d *testDaemon) get(t *testing.T, path string, wantStatus int) map[string]json.RawMessage {
	t.Helper()

	resp, err := http.Get(d.ts.URL + path)
	require.NoError(t, err)

	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))

	return decoded
}

func rawString(t *testing.T, raw json.RawMessage) string {
	t.Helper()

	var s string
	require.NoError(t, json.Unmarshal(raw, &s))

	return s
}

func TestWatchListAndUnwatch(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	body := d.get(t, "/watch-list", http.StatusOK)

	var roots []string
	require.NoError(t, json.Unmarshal(body["roots"], &roots))
	assert.Equal(t, []string{d.root}, roots)

	// Watching the same root again conflicts.
	d.post(t, "/watch", map[string]string{"root": d.root}, http.StatusConflict)

	d.post(t, "/unwatch", map[string]string{"root": d.root}, http.StatusOK)

	body = d.get(t, "/watch-list", http.StatusOK)
	require.NoError(t, json.Unmarshal(body["roots"], &roots))
	assert.Empty(t, roots)

	d.post(t, "/unwatch", map[string]string{"root": d.root}, http.StatusNotFound)
}

func TestQuerySnapshotAndPrefix(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	require.NoError(t, os.MkdirAll(filepath.Join(d.root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(d.root, "src", "main.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d.root, "readme.md"), []byte("y"), 0o644))

	require.Eventually(t, func() bool {
		body := d.post(t, "/query", map[string]string{"root": d.root}, http.StatusOK)

		var files []view.FileStateRecord
		if body["files"] == nil {
			return false
		}

		require.NoError(t, json.Unmarshal(body["files"], &files))

		return len(files) == 3
	}, 10*time.Second, 20*time.Millisecond)

	body := d.post(t, "/query", map[string]string{
		"root":        d.root,
		"path_prefix": "src",
	}, http.StatusOK)

	var files []view.FileStateRecord
	require.NoError(t, json.Unmarshal(body["files"], &files))
	require.Len(t, files, 2)
	assert.Equal(t, "src", files[0].Path)
	assert.Equal(t, "src/main.go", files[1].Path)
}

func TestQueryIncrementalOverHTTP(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	d.post(t, "/query", map[string]string{"root": d.root, "cursor": "ci"}, http.StatusOK)

	require.NoError(t, os.WriteFile(filepath.Join(d.root, "new.txt"), []byte("z"), 0o644))

	require.Eventually(t, func() bool {
		body := d.post(t, "/query", map[string]string{"root": d.root, "cursor": "ci"}, http.StatusOK)

		if body["changes"] == nil {
			return false
		}

		var changes []view.JournalEntry
		require.NoError(t, json.Unmarshal(body["changes"], &changes))

		for _, c := range changes {
			if c.Path == "new.txt" && c.Kind == view.ChangeCreated {
				return true
			}
		}

		return false
	}, 10*time.Second, 20*time.Millisecond)
}

func TestQueryUnknownRoot(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	body := d.post(t, "/query", map[string]string{"root": "/no/such/root"}, http.StatusNotFound)
	assert.Contains(t, rawString(t, body["error"]), "not watched")
}

func TestClock(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	body := d.get(t, "/clock?root="+d.root, http.StatusOK)

	var tick uint64
	require.NoError(t, json.Unmarshal(body["tick"], &tick))
	assert.Positive(t, tick)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	body := d.get(t, "/status", http.StatusOK)

	var statuses []map[string]any
	require.NoError(t, json.Unmarshal(body["roots"], &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, d.root, statuses[0]["root"])
	assert.Equal(t, "settled", statuses[0]["recrawl_state"])
}

func TestDebugRecrawl(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	body := d.post(t, "/debug/recrawl", map[string]string{
		"root":   d.root,
		"reason": "operator test",
	}, http.StatusOK)

	var initiated bool
	require.NoError(t, json.Unmarshal(body["initiated"], &initiated))
	assert.True(t, initiated)

	d.waitSettled(t)

	engine, err := d.reg.Get(d.root)
	require.NoError(t, err)

	_, _, generation := engine.RecrawlStatus()
	assert.GreaterOrEqual(t, generation, uint64(2))
}

func TestDebugCursorsAndAgeout(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	d.post(t, "/query", map[string]string{"root": d.root, "cursor": "tracked"}, http.StatusOK)

	body := d.get(t, "/debug/cursors?root="+d.root, http.StatusOK)

	var cursors map[string]uint64
	require.NoError(t, json.Unmarshal(body["cursors"], &cursors))
	assert.Contains(t, cursors, "tracked")

	// Delete a file, then force an immediate sweep.
	file := filepath.Join(d.root, "doomed.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	engine, err := d.reg.Get(d.root)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, qerr := engine.Query(context.Background(), "tracked", nil)
		return qerr == nil && len(res.Changes) > 0
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(file))

	require.Eventually(t, func() bool {
		body := d.post(t, "/debug/ageout", map[string]any{
			"root":              d.root,
			"retention_seconds": 0,
		}, http.StatusOK)

		var removed int
		require.NoError(t, json.Unmarshal(body["removed"], &removed))

		return removed > 0
	}, 10*time.Second, 50*time.Millisecond)
}

func TestDebugPoisonRoundTrip(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	d.post(t, "/debug/poison", map[string]string{"root": d.root, "reason": "drill"}, http.StatusOK)

	body := d.post(t, "/query", map[string]string{"root": d.root}, http.StatusServiceUnavailable)
	assert.Contains(t, rawString(t, body["error"]), "poisoned")

	body = d.post(t, "/debug/poison-clear", map[string]string{"root": d.root}, http.StatusOK)

	var cleared bool
	require.NoError(t, json.Unmarshal(body["cleared"], &cleared))
	assert.True(t, cleared)

	d.post(t, "/query", map[string]string{"root": d.root}, http.StatusOK)
}

func TestDebugCacheStats(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	body := d.get(t, "/debug/cache-stats?root="+d.root, http.StatusOK)

	var supported bool
	require.NoError(t, json.Unmarshal(body["supported"], &supported))
	assert.True(t, supported)
	assert.NotNil(t, body["content_hash"])
	assert.NotNil(t, body["symlink_target"])
}

func TestSubscribeWebSocket(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	wsURL := "ws" + strings.TrimPrefix(d.ts.URL, "http") + "/subscribe?root=" + d.root + "&name=live"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)

	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the subscription to register server-side before writing.
	engine, err := d.reg.Get(d.root)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(engine.Subscriptions()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(d.root, "pushed.txt"), []byte("x"), 0o644))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var update struct {
		Root    string              `json:"root"`
		Name    string              `json:"name"`
		Entries []view.JournalEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &update))
	assert.Equal(t, d.root, update.Root)
	assert.Equal(t, "live", update.Name)
	require.NotEmpty(t, update.Entries)
	assert.Equal(t, "pushed.txt", update.Entries[len(update.Entries)-1].Path)

	// A second subscription under the same name conflicts.
	resp, err := http.Get(d.ts.URL + "/subscribe?root=" + d.root + "&name=live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubscriptionsPausedEndpoint(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t)

	engine, err := d.reg.Get(d.root)
	require.NoError(t, err)

	_, err = engine.Subscribe("build", nil)
	require.NoError(t, err)

	body := d.post(t, "/debug/subscriptions-paused", map[string]any{
		"root":   d.root,
		"name":   "build",
		"paused": true,
	}, http.StatusOK)

	var oldState, newState bool
	require.NoError(t, json.Unmarshal(body["old"], &oldState))
	require.NoError(t, json.Unmarshal(body["new"], &newState))
	assert.False(t, oldState)
	assert.True(t, newState)

	d.post(t, "/debug/subscriptions-paused", map[string]any{
		"root":   d.root,
		"name":   "ghost",
		"paused": true,
	}, http.StatusNotFound)
}
