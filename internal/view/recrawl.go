package view

import "sync"

// RecrawlState is the recovery state machine's position.
type RecrawlState int

// States: Settled → Requested → InProgress → Settled, with Failed →
// Requested on retry.
const (
	RecrawlSettled RecrawlState = iota
	RecrawlRequested
	RecrawlInProgress
	RecrawlFailed
)

// String returns a human-readable state name.
func (s RecrawlState) String() string {
	switch s {
	case RecrawlSettled:
		return "settled"
	case RecrawlRequested:
		return "requested"
	case RecrawlInProgress:
		return "in-progress"
	case RecrawlFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Recrawler drives full-tree rescans when the notification stream is
// judged unreliable. Requests are coalesced: repeated scheduling while
// one is already requested or running keeps the first reason and
// appends the rest for diagnostics (the reason list is diagnostic only,
// not part of the correctness contract).
type Recrawler struct {
	mu         sync.Mutex
	state      RecrawlState
	reasons    []string
	generation uint64
	again      bool

	pending chan struct{}
}

// NewRecrawler creates a settled recrawler.
func NewRecrawler() *Recrawler {
	return &Recrawler{pending: make(chan struct{}, 1)}
}

// Schedule requests a recrawl. Returns true when this call initiated a
// new pass (as opposed to being coalesced into one already pending).
func (r *Recrawler) Schedule(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case RecrawlSettled, RecrawlFailed:
		r.state = RecrawlRequested
		r.reasons = []string{reason}
		r.signalLocked()

		return true

	case RecrawlRequested:
		r.reasons = append(r.reasons, reason)

		return false

	case RecrawlInProgress:
		// A request while running means the current pass may already be
		// stale; run once more after it completes.
		r.again = true
		r.reasons = append(r.reasons, reason)

		return false
	}

	return false
}

// Begin transitions Requested → InProgress, returning the new
// generation and the accumulated reasons. ok is false when no recrawl
// is pending.
func (r *Recrawler) Begin() (generation uint64, reasons []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecrawlRequested {
		return 0, nil, false
	}

	r.state = RecrawlInProgress
	r.generation++
	r.again = false

	return r.generation, append([]string(nil), r.reasons...), true
}

// Complete finishes the in-progress pass. On failure the machine moves
// to Failed and re-requests itself so the runner retries. On success it
// settles, unless a request arrived mid-pass, in which case it goes
// straight back to Requested.
func (r *Recrawler) Complete(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecrawlInProgress {
		return
	}

	if err != nil {
		r.state = RecrawlFailed
		r.schedRetryLocked("retry after failed recrawl")

		return
	}

	if r.again {
		r.state = RecrawlRequested
		r.again = false
		r.signalLocked()

		return
	}

	r.state = RecrawlSettled
	r.reasons = nil
}

// Active reports whether incremental queries must be denied: any state
// other than Settled means the mirror cannot vouch for completeness.
func (r *Recrawler) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state != RecrawlSettled
}

// Pending returns the runner's wakeup channel.
func (r *Recrawler) Pending() <-chan struct{} {
	return r.pending
}

// Status returns the state, a copy of the reason list, and the
// generation counter.
func (r *Recrawler) Status() (RecrawlState, []string, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state, append([]string(nil), r.reasons...), r.generation
}

// schedRetryLocked moves Failed → Requested keeping prior reasons.
// Callers hold r.mu.
func (r *Recrawler) schedRetryLocked(reason string) {
	r.state = RecrawlRequested
	r.reasons = append(r.reasons, reason)
	r.signalLocked()
}

// signalLocked wakes the runner without blocking; one pending signal is
// enough. Callers hold r.mu.
func (r *Recrawler) signalLocked() {
	select {
	case r.pending <- struct{}{}:
	default:
	}
}
