// Package model holds the shared domain types of the protection layer.
package model

import (
	"strconv"
	"time"
)

// Scope identifies which identity a fixed-window quota applies to.
type Scope string

const (
	// ScopeIP counts requests per client IP, regardless of authentication.
	ScopeIP Scope = "ip"
	// ScopeUser counts requests per authenticated user.
	ScopeUser Scope = "user"
	// ScopeEndpoint counts requests per API endpoint across all callers.
	ScopeEndpoint Scope = "endpoint"
)

// RateLimitKey addresses one fixed-window counter.
type RateLimitKey struct {
	Scope      Scope
	Identifier string
}

// CounterKey renders the shared-store key for the window starting at
// windowStart. Aligning the window start into the key makes counters
// self-resetting: a new window is simply a new key, and the TTL removes
// the old one.
//
// Format: rate:{scope}:{identifier}:{window_start_unix}
func (k RateLimitKey) CounterKey(windowStart time.Time) string {
	return "rate:" + string(k.Scope) + ":" + k.Identifier + ":" + formatUnix(windowStart)
}

// Decision is the outcome of an admission check. Denials carry a
// machine-readable reason and, where applicable, a retry hint.
type Decision struct {
	Allowed    bool
	Scope      Scope
	Reason     string
	RetryAfter time.Duration
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision for the given scope and reason.
func Deny(scope Scope, reason string, retryAfter time.Duration) Decision {
	return Decision{Scope: scope, Reason: reason, RetryAfter: retryAfter}
}

// ValidationResult is the outcome of structural request validation.
// Passed=false never implies an internal failure: malformed input is a
// normal, expected outcome.
type ValidationResult struct {
	Passed         bool
	ReasonCode     string
	OffendingField string
}

// BlockEntry records a temporary ban of an IP that accumulated too many
// quota violations inside the sliding violation window.
type BlockEntry struct {
	IP        string    `json:"ip"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the ban has lapsed at the given instant.
func (b BlockEntry) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// BlockKey renders the shared-store key holding the block entry for an IP.
func BlockKey(ip string) string {
	return "block:" + ip
}

// QueueEntry is one parked request inside the bounded FIFO. The queue owns
// the entry from enqueue until dequeue or deadline expiry.
type QueueEntry struct {
	RequestID   string
	EnqueueTime time.Time
	Deadline    time.Time

	ready chan struct{}
}

// NewQueueEntry creates an entry whose deadline is enqueueTime+maxWait.
func NewQueueEntry(requestID string, enqueueTime time.Time, maxWait time.Duration) *QueueEntry {
	return &QueueEntry{
		RequestID:   requestID,
		EnqueueTime: enqueueTime,
		Deadline:    enqueueTime.Add(maxWait),
		ready:       make(chan struct{}),
	}
}

// Expired reports whether the entry's deadline has passed.
func (e *QueueEntry) Expired(now time.Time) bool {
	return now.After(e.Deadline)
}

// Release signals the waiting caller that its turn has come.
// Releasing twice is a programmer error.
func (e *QueueEntry) Release() {
	close(e.ready)
}

// Ready is closed when the drainer releases the entry.
func (e *QueueEntry) Ready() <-chan struct{} {
	return e.ready
}

// LoadSample is one observation of system load fed to the backpressure
// manager.
type LoadSample struct {
	Timestamp    time.Time
	InFlight     int
	QueueDepth   int
	StoreLatency time.Duration
}

// BackpressureDecision is the admission verdict near capacity.
type BackpressureDecision int

const (
	// DecisionAccept admits the request directly.
	DecisionAccept BackpressureDecision = iota
	// DecisionQueue parks the request in the bounded FIFO.
	DecisionQueue
	// DecisionReject sheds the request immediately.
	DecisionReject
)

// String returns the lowercase name of the decision for logging.
func (d BackpressureDecision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionQueue:
		return "queue"
	case DecisionReject:
		return "reject"
	default:
		return "unknown"
	}
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
