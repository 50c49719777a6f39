package view

import (
	"sync"
	"time"
)

// poisonGate holds the administrative poison condition. Once set, every
// query fails fast with the recorded reason until explicitly cleared.
type poisonGate struct {
	mu  sync.RWMutex
	err *PoisonedError
}

// set records the poison condition, keeping the first reason if one is
// already set, and returns the effective condition.
func (g *poisonGate) set(reason string) *PoisonedError {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err == nil {
		g.err = &PoisonedError{Reason: reason, At: time.Now()}
	}

	return g.err
}

// clear removes the poison condition, returning whether one was set.
func (g *poisonGate) clear() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	wasSet := g.err != nil
	g.err = nil

	return wasSet
}

// check returns the poison condition as an error, or nil.
func (g *poisonGate) check() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.err == nil {
		return nil
	}

	return g.err
}

// current returns the poison condition without converting to error.
func (g *poisonGate) current() *PoisonedError {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.err
}
