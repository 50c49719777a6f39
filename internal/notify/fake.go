package notify

import "sync"

// FakeBackend is an in-memory Backend for tests. Events are injected
// with Emit and overflow with EmitOverflow.
type FakeBackend struct {
	events    chan Event
	overflows chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewFakeBackend creates a fake backend with the given event buffer size.
func NewFakeBackend(buffer int) *FakeBackend {
	return &FakeBackend{
		events:    make(chan Event, buffer),
		overflows: make(chan struct{}, 1),
	}
}

// Events returns the injected event stream.
func (f *FakeBackend) Events() <-chan Event {
	return f.events
}

// Overflows returns the injected overflow signal channel.
func (f *FakeBackend) Overflows() <-chan struct{} {
	return f.overflows
}

// Emit injects one event. Panics if called after Close (like a real
// backend producing after shutdown would).
func (f *FakeBackend) Emit(ev Event) {
	f.events <- ev
}

// EmitOverflow injects an overflow signal.
func (f *FakeBackend) EmitOverflow() {
	select {
	case f.overflows <- struct{}{}:
	default:
	}
}

// Close closes the event stream.
func (f *FakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.events)
	}

	return nil
}
