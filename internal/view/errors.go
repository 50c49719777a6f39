package view

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by the engine's query path. Callers are
// expected to branch on these with errors.Is.
var (
	// ErrHistoryExpired means the journal no longer retains entries back
	// to the requested cursor. The caller must fall back to a full
	// snapshot; this is not a fatal condition.
	ErrHistoryExpired = errors.New("view: journal history expired for requested cursor")

	// ErrRecrawlInProgress means incremental results would be an
	// under-approximation because a recrawl is pending or running.
	// Transient — retry after the recrawl settles.
	ErrRecrawlInProgress = errors.New("view: recrawl in progress")

	// ErrBackendUnresponsive means a sync cookie never round-tripped
	// through the notification backend within the configured bound.
	ErrBackendUnresponsive = errors.New("view: notification backend unresponsive")

	// ErrSubscriptionExists is returned when registering a subscription
	// under a name already in use.
	ErrSubscriptionExists = errors.New("view: subscription name already registered")

	// ErrSubscriptionUnknown is returned for operations on a
	// subscription name this engine does not know.
	ErrSubscriptionUnknown = errors.New("view: no such subscription")
)

// PoisonedError marks the engine administratively unreliable. Once set,
// all queries fail with it until explicitly cleared — fatal-until-reset
// so the operational condition stays visible, never retried away.
type PoisonedError struct {
	Reason string
	At     time.Time
}

// Error implements the error interface.
func (e *PoisonedError) Error() string {
	return fmt.Sprintf("view: engine poisoned at %s: %s", e.At.Format(time.RFC3339), e.Reason)
}
