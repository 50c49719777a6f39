package view

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecrawlerCoalescesRequests(t *testing.T) {
	t.Parallel()

	r := NewRecrawler()

	assert.True(t, r.Schedule("overflow"))
	assert.False(t, r.Schedule("cookie sync timeout"))
	assert.False(t, r.Schedule("cookie sync timeout"))

	gen, reasons, ok := r.Begin()
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, []string{"overflow", "cookie sync timeout", "cookie sync timeout"}, reasons)

	// Only one signal was queued for the three requests.
	select {
	case <-r.Pending():
	default:
		t.Fatal("expected one pending signal")
	}

	select {
	case <-r.Pending():
		t.Fatal("coalesced requests must not queue extra signals")
	default:
	}
}

func TestRecrawlerSettlesOnSuccess(t *testing.T) {
	t.Parallel()

	r := NewRecrawler()
	r.Schedule("test")

	_, _, ok := r.Begin()
	require.True(t, ok)
	assert.True(t, r.Active())

	r.Complete(nil)
	assert.False(t, r.Active())

	state, reasons, _ := r.Status()
	assert.Equal(t, RecrawlSettled, state)
	assert.Empty(t, reasons)
}

func TestRecrawlerRequestDuringRunRunsAgain(t *testing.T) {
	t.Parallel()

	r := NewRecrawler()
	r.Schedule("first")
	<-r.Pending()

	_, _, ok := r.Begin()
	require.True(t, ok)

	// The pass already underway may have missed this.
	assert.False(t, r.Schedule("mid-pass change"))

	r.Complete(nil)

	state, _, _ := r.Status()
	assert.Equal(t, RecrawlRequested, state)

	gen, reasons, ok := r.Begin()
	require.True(t, ok)
	assert.Equal(t, uint64(2), gen)
	assert.Contains(t, reasons, "mid-pass change")
}

func TestRecrawlerRetriesAfterFailure(t *testing.T) {
	t.Parallel()

	r := NewRecrawler()
	r.Schedule("first")

	_, _, ok := r.Begin()
	require.True(t, ok)

	r.Complete(errors.New("walk failed"))

	// Failure re-requests so the runner retries, and the engine keeps
	// denying incremental queries throughout.
	assert.True(t, r.Active())

	state, reasons, _ := r.Status()
	assert.Equal(t, RecrawlRequested, state)
	assert.Contains(t, reasons, "retry after failed recrawl")

	gen, _, ok := r.Begin()
	require.True(t, ok)
	assert.Equal(t, uint64(2), gen)

	r.Complete(nil)
	assert.False(t, r.Active())
}

func TestRecrawlerBeginWithoutRequest(t *testing.T) {
	t.Parallel()

	r := NewRecrawler()

	_, _, ok := r.Begin()
	assert.False(t, ok)
}
