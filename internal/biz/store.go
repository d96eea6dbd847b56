package biz

import (
	"context"
	"time"

	"Bastion/internal/model"
)

// CounterStore is the narrow interface onto the shared counter store.
// Any TTL-capable key-value store satisfies it; absence is a supported
// configuration, signalled by Available returning false.
//
// Interfaces are defined in the biz layer; implementations live in data.
type CounterStore interface {
	// Available reports whether the backing store is configured at all.
	// A configured store can still fail per call; callers handle both.
	Available() bool

	// IncrementWithTTL atomically increments key and returns the new
	// count. The TTL is set when the key is created, so counters are
	// self-resetting.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the value for key, with found=false when absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// SetWithTTL stores value under key with the given TTL.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// FallbackStore is the in-process CounterStore used when the shared store
// is unreachable or not configured. It is exclusively owned by its process
// and destroyed at shutdown.
type FallbackStore interface {
	CounterStore
}

// BreakerStateRepo persists circuit breaker state to the shared store so
// that any process observes a peer's open breaker. All operations are
// best-effort: callers degrade to local state on error.
type BreakerStateRepo interface {
	// Load returns the persisted snapshot for service, or (nil, nil)
	// when none exists.
	Load(ctx context.Context, service string) (*model.BreakerSnapshot, error)

	// Save persists the snapshot for service.
	Save(ctx context.Context, service string, snap *model.BreakerSnapshot) error

	// AcquireProbe atomically claims the single half-open probe slot for
	// service. The claim expires after ttl so a crashed prober cannot
	// wedge the breaker.
	AcquireProbe(ctx context.Context, service string, ttl time.Duration) (bool, error)

	// ReleaseProbe clears the probe slot after the probe resolves.
	ReleaseProbe(ctx context.Context, service string) error
}

// ProtectionAuditRepo records block and breaker transitions for operator
// forensics. Writes are best-effort and asynchronous; a failed write is
// logged, never surfaced.
type ProtectionAuditRepo interface {
	LogIPBlocked(ctx context.Context, ev model.IPBlockedEvent)
	LogBreakerOpened(ctx context.Context, ev model.BreakerOpenedEvent)
	LogBreakerClosed(ctx context.Context, ev model.BreakerClosedEvent)

	// RecentBlocks returns the most recent block events, newest first.
	RecentBlocks(ctx context.Context, limit int) ([]model.IPBlockedEvent, error)

	// TrimBefore deletes audit rows older than cutoff and returns the
	// number removed.
	TrimBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
