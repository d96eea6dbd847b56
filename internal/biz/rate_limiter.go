package biz

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"Bastion/internal/conf"
	"Bastion/internal/model"
	pkgerrors "Bastion/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// RateLimiterUseCase enforces per-IP, per-user and per-endpoint fixed-window
// quotas with escalating IP blocking. Counters live in the shared store when
// it is reachable; on a store error the affected call falls back to the
// in-process store for that invocation only (availability over strict
// accuracy), emits a warning, and the request is still evaluated.
type RateLimiterUseCase struct {
	store    CounterStore
	fallback FallbackStore
	cfg      *conf.Protection_RateLimit
	audit    ProtectionAuditRepo
	logger   *log.Helper

	// now is swapped in tests.
	now func() time.Time

	mu         sync.Mutex
	violations map[string][]time.Time
}

// NewRateLimiterUseCase creates a new rate limiter use case.
func NewRateLimiterUseCase(store CounterStore, fallback FallbackStore, p *conf.Protection, audit ProtectionAuditRepo, logger log.Logger) *RateLimiterUseCase {
	return &RateLimiterUseCase{
		store:      store,
		fallback:   fallback,
		cfg:        p.RateLimit,
		audit:      audit,
		logger:     log.NewHelper(logger),
		now:        time.Now,
		violations: make(map[string][]time.Time),
	}
}

// scopeCheck is one quota to evaluate, cheapest first.
type scopeCheck struct {
	key   model.RateLimitKey
	quota *conf.Protection_Quota
}

// CheckAndRecord evaluates every applicable quota for the request and
// records the hit. The block list is consulted before any counter is
// touched; scopes are then checked IP → user → endpoint, short-circuiting
// on the first violation.
func (uc *RateLimiterUseCase) CheckAndRecord(ctx context.Context, ip, userID, endpoint string) model.Decision {
	now := uc.now()

	if entry := uc.lookupBlock(ctx, ip, now); entry != nil {
		retry := entry.ExpiresAt.Sub(now)
		uc.logger.WithContext(ctx).Infow(
			"msg", "request denied: ip blocked",
			"ip", ip,
			"blocked_until", entry.ExpiresAt,
		)
		return model.Deny(model.ScopeIP, pkgerrors.ReasonBlocked, retry)
	}

	checks := []scopeCheck{
		{model.RateLimitKey{Scope: model.ScopeIP, Identifier: ip}, uc.cfg.IP},
	}
	if userID != "" && uc.cfg.User != nil && uc.cfg.User.Limit > 0 {
		checks = append(checks, scopeCheck{model.RateLimitKey{Scope: model.ScopeUser, Identifier: userID}, uc.cfg.User})
	}
	if q, ok := uc.cfg.Endpoint[endpoint]; ok && q.Limit > 0 {
		checks = append(checks, scopeCheck{model.RateLimitKey{Scope: model.ScopeEndpoint, Identifier: endpoint}, q})
	}

	for _, c := range checks {
		window := c.quota.Window.AsDuration()
		windowStart := now.Truncate(window)
		count := uc.incrementWithFallback(ctx, c.key.CounterKey(windowStart), window)

		if count > c.quota.Limit {
			retry := windowStart.Add(window).Sub(now)
			uc.recordViolation(ctx, ip, now)
			uc.logger.WithContext(ctx).Infow(
				"msg", "request denied: quota exceeded",
				"scope", string(c.key.Scope),
				"identifier", c.key.Identifier,
				"count", count,
				"limit", c.quota.Limit,
				"retry_after", retry,
			)
			return model.Deny(c.key.Scope, pkgerrors.ReasonRateLimited, retry)
		}
	}

	return model.Allow()
}

// Unblock removes an IP's block entry from both stores. Used by operators
// when a legitimate caller was caught by the escalation policy.
func (uc *RateLimiterUseCase) Unblock(ctx context.Context, ip string) {
	key := model.BlockKey(ip)
	if uc.store.Available() {
		if err := uc.store.Delete(ctx, key); err != nil {
			uc.logger.Warnf("failed to delete block entry for %s from store: %v", ip, err)
		}
	}
	if err := uc.fallback.Delete(ctx, key); err != nil {
		uc.logger.Warnf("failed to delete fallback block entry for %s: %v", ip, err)
	}

	uc.mu.Lock()
	delete(uc.violations, ip)
	uc.mu.Unlock()
}

// CompactViolations prunes violation timestamps older than the sliding
// window. Called periodically by the maintenance cron.
func (uc *RateLimiterUseCase) CompactViolations() int {
	cutoff := uc.now().Add(-uc.cfg.ViolationWindow.AsDuration())

	uc.mu.Lock()
	defer uc.mu.Unlock()

	removed := 0
	for ip, stamps := range uc.violations {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		removed += len(stamps) - len(kept)
		if len(kept) == 0 {
			delete(uc.violations, ip)
		} else {
			uc.violations[ip] = kept
		}
	}
	return removed
}

// incrementWithFallback increments the counter in the shared store, taking
// the in-memory path when the store is absent or failing. A total failure
// returns 0, which admits the request.
func (uc *RateLimiterUseCase) incrementWithFallback(ctx context.Context, key string, ttl time.Duration) int64 {
	if uc.store.Available() {
		count, err := uc.store.IncrementWithTTL(ctx, key, ttl)
		if err == nil {
			return count
		}
		uc.logger.Warnf("counter store increment failed for %s: %v (falling back to memory)", key, err)
	}

	count, err := uc.fallback.IncrementWithTTL(ctx, key, ttl)
	if err != nil {
		uc.logger.Warnf("fallback increment failed for %s: %v (request allowed)", key, err)
		return 0
	}
	return count
}

// lookupBlock returns the unexpired block entry for ip, or nil.
func (uc *RateLimiterUseCase) lookupBlock(ctx context.Context, ip string, now time.Time) *model.BlockEntry {
	key := model.BlockKey(ip)

	var raw string
	var found bool
	if uc.store.Available() {
		v, ok, err := uc.store.Get(ctx, key)
		if err != nil {
			uc.logger.Warnf("block lookup failed for %s: %v (falling back to memory)", ip, err)
		} else {
			raw, found = v, ok
		}
	}
	if !found {
		v, ok, err := uc.fallback.Get(ctx, key)
		if err != nil || !ok {
			return nil
		}
		raw = v
	}

	var entry model.BlockEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		uc.logger.Warnf("corrupt block entry for %s: %v", ip, err)
		return nil
	}
	if entry.Expired(now) {
		return nil
	}
	return &entry
}

// recordViolation feeds the sliding 5-violations tracker and creates a
// block entry once the threshold is crossed within the window.
func (uc *RateLimiterUseCase) recordViolation(ctx context.Context, ip string, now time.Time) {
	window := uc.cfg.ViolationWindow.AsDuration()
	cutoff := now.Add(-window)

	uc.mu.Lock()
	stamps := append(uc.violations[ip], now)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	uc.violations[ip] = kept
	crossed := len(kept) >= uc.cfg.ViolationThreshold
	if crossed {
		delete(uc.violations, ip)
	}
	violations := len(kept)
	uc.mu.Unlock()

	if !crossed {
		return
	}

	entry := model.BlockEntry{
		IP:        ip,
		BlockedAt: now,
		ExpiresAt: now.Add(uc.cfg.BlockDuration.AsDuration()),
	}
	uc.storeBlock(ctx, entry)

	uc.logger.WithContext(ctx).Warnw(
		"msg", "ip blocked after repeated violations",
		"ip", ip,
		"violations", violations,
		"expires_at", entry.ExpiresAt,
	)
	if uc.audit != nil {
		uc.audit.LogIPBlocked(ctx, model.IPBlockedEvent{
			IP:         ip,
			Violations: violations,
			BlockedAt:  entry.BlockedAt,
			ExpiresAt:  entry.ExpiresAt,
		})
	}
}

// storeBlock persists the block entry with a TTL matching its lifetime so
// the ban propagates to peer processes and expires on its own.
func (uc *RateLimiterUseCase) storeBlock(ctx context.Context, entry model.BlockEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		uc.logger.Errorf("failed to marshal block entry for %s: %v", entry.IP, err)
		return
	}
	ttl := entry.ExpiresAt.Sub(entry.BlockedAt)
	key := model.BlockKey(entry.IP)

	stored := false
	if uc.store.Available() {
		if err := uc.store.SetWithTTL(ctx, key, string(data), ttl); err != nil {
			uc.logger.Warnf("failed to persist block entry for %s: %v (falling back to memory)", entry.IP, err)
		} else {
			stored = true
		}
	}
	if !stored {
		if err := uc.fallback.SetWithTTL(ctx, key, string(data), ttl); err != nil {
			uc.logger.Warnf("failed to store fallback block entry for %s: %v", entry.IP, err)
		}
	}
}
