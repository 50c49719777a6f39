package view

import "sync"

// subscriptionBuffer is the update channel depth per subscription.
const subscriptionBuffer = 64

// Subscription is a named consumer receiving matching journal entries
// pushed asynchronously. A subscription may be paused and resumed
// without losing queued entries.
type Subscription struct {
	name string
	pred func(*JournalEntry) bool

	mu     sync.Mutex
	paused bool
	queued []JournalEntry
	closed bool

	updates chan []JournalEntry
}

// Name returns the subscription's registered name.
func (s *Subscription) Name() string {
	return s.name
}

// Updates returns the push channel. Batches preserve journal order.
func (s *Subscription) Updates() <-chan []JournalEntry {
	return s.updates
}

// SetPaused pauses or resumes delivery, returning the old and new
// states. Entries arriving while paused are queued and flushed on
// resume.
func (s *Subscription) SetPaused(paused bool) (oldState, newState bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldState = s.paused
	s.paused = paused

	if !paused {
		s.flushLocked()
	}

	return oldState, paused
}

// deliver routes matching entries to the consumer, queueing while
// paused or while the consumer is slow. Never blocks the caller.
func (s *Subscription) deliver(entries []JournalEntry) {
	var matched []JournalEntry

	for i := range entries {
		if s.pred == nil || s.pred(&entries[i]) {
			matched = append(matched, entries[i])
		}
	}

	if len(matched) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.queued = append(s.queued, matched...)

	if !s.paused {
		s.flushLocked()
	}
}

// flushLocked pushes the queue to the channel without blocking; what
// does not fit stays queued for the next delivery. Callers hold s.mu.
func (s *Subscription) flushLocked() {
	if len(s.queued) == 0 {
		return
	}

	select {
	case s.updates <- s.queued:
		s.queued = nil
	default:
	}
}

// close shuts the update channel. Called by the engine on unsubscribe.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.updates)
	}
}
