package view

import "sync"

// CursorRegistry maps named consumers to their last-acknowledged tick.
// A cursor is created on first acknowledgment, never decreases, and
// bounds how far back the journal must retain history. Access is
// through this synchronized API only — the raw map is never exposed.
type CursorRegistry struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

// NewCursorRegistry creates an empty registry.
func NewCursorRegistry() *CursorRegistry {
	return &CursorRegistry{cursors: make(map[string]uint64)}
}

// Ack records that the named consumer has observed everything up to
// tick. Acknowledgments never move a cursor backwards; the effective
// (possibly higher, pre-existing) tick is returned.
func (r *CursorRegistry) Ack(name string, tick uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.cursors[name]; ok && current >= tick {
		return current
	}

	r.cursors[name] = tick

	return tick
}

// Get returns the named cursor's tick.
func (r *CursorRegistry) Get(name string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tick, ok := r.cursors[name]

	return tick, ok
}

// List returns a copy of all cursors.
func (r *CursorRegistry) List() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]uint64, len(r.cursors))
	for name, tick := range r.cursors {
		out[name] = tick
	}

	return out
}

// MinTick returns the lowest acknowledged tick across all cursors, and
// false when no cursors are registered.
func (r *CursorRegistry) MinTick() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.cursors) == 0 {
		return 0, false
	}

	first := true

	var min uint64

	for _, tick := range r.cursors {
		if first || tick < min {
			min = tick
			first = false
		}
	}

	return min, true
}

// Expire removes a cursor, forcing its consumer to a full resync on
// next use. Returns false if the cursor did not exist.
func (r *CursorRegistry) Expire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cursors[name]; !ok {
		return false
	}

	delete(r.cursors, name)

	return true
}
