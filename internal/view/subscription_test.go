package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(pred func(*JournalEntry) bool) *Subscription {
	return &Subscription{
		name:    "test",
		pred:    pred,
		updates: make(chan []JournalEntry, subscriptionBuffer),
	}
}

func TestSubscriptionDelivers(t *testing.T) {
	t.Parallel()

	sub := newTestSubscription(nil)
	sub.deliver([]JournalEntry{entryAt(1, "a", 1), entryAt(1, "b", 1)})

	select {
	case batch := <-sub.Updates():
		require.Len(t, batch, 2)
		assert.Equal(t, "a", batch[0].Path)
	default:
		t.Fatal("expected a delivered batch")
	}
}

func TestSubscriptionPredicateFilters(t *testing.T) {
	t.Parallel()

	sub := newTestSubscription(func(e *JournalEntry) bool {
		return e.Kind == ChangeDeleted
	})

	sub.deliver([]JournalEntry{
		entryAt(1, "kept", 1),
		{Tick: 1, Path: "gone", Kind: ChangeDeleted, At: 1},
	})

	batch := <-sub.Updates()
	require.Len(t, batch, 1)
	assert.Equal(t, "gone", batch[0].Path)

	// A batch with no matches delivers nothing at all.
	sub.deliver([]JournalEntry{entryAt(2, "other", 2)})

	select {
	case <-sub.Updates():
		t.Fatal("unexpected delivery for non-matching batch")
	default:
	}
}

func TestSubscriptionPauseQueuesAndResumeFlushes(t *testing.T) {
	t.Parallel()

	sub := newTestSubscription(nil)

	oldState, newState := sub.SetPaused(true)
	assert.False(t, oldState)
	assert.True(t, newState)

	sub.deliver([]JournalEntry{entryAt(1, "a", 1)})
	sub.deliver([]JournalEntry{entryAt(2, "b", 2)})

	select {
	case <-sub.Updates():
		t.Fatal("paused subscription must not deliver")
	default:
	}

	oldState, newState = sub.SetPaused(false)
	assert.True(t, oldState)
	assert.False(t, newState)

	batch := <-sub.Updates()
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Path)
	assert.Equal(t, "b", batch[1].Path)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sub := newTestSubscription(nil)
	sub.close()
	sub.close()

	_, open := <-sub.Updates()
	assert.False(t, open)

	// Delivering after close is a no-op, not a panic.
	sub.deliver([]JournalEntry{entryAt(1, "a", 1)})
}
