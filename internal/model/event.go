package model

import "time"

// IPBlockedEvent represents an IP crossing the violation threshold.
type IPBlockedEvent struct {
	IP         string
	Violations int
	BlockedAt  time.Time
	ExpiresAt  time.Time
}

// BreakerOpenedEvent represents a circuit breaker tripping open.
type BreakerOpenedEvent struct {
	Service  string
	Failures int
	OpenedAt time.Time
}

// BreakerClosedEvent represents a circuit breaker recovering after a
// successful probe.
type BreakerClosedEvent struct {
	Service   string
	OpenedFor time.Duration
	ClosedAt  time.Time
}

// BreakerState enumerates the circuit breaker states.
type BreakerState int

const (
	// BreakerClosed passes calls through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen fails calls fast without invoking the downstream.
	BreakerOpen
	// BreakerHalfOpen allows a single probe call after the cool-down.
	BreakerHalfOpen
)

// String returns the canonical state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSnapshot is the externally persisted view of one breaker.
// When the shared store is reachable it is the source of truth; each
// process otherwise falls back to its local copy.
type BreakerSnapshot struct {
	Service  string       `json:"service"`
	State    BreakerState `json:"state"`
	Failures int          `json:"failures"`
	OpenedAt time.Time    `json:"opened_at"`
}
