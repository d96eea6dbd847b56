package biz

import (
	"context"
	"errors"
	"sync"
	"time"

	"Bastion/internal/conf"
	"Bastion/internal/model"
	pkgerrors "Bastion/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// breaker is the per-service state machine. All transitions happen under
// mu, so concurrent callers never act on stale counters.
type breaker struct {
	mu            sync.Mutex
	state         model.BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// CircuitBreakerUseCase isolates calls to named downstream dependencies.
//
// The state machine: CLOSED counts failures and opens when the count
// strictly exceeds the threshold (the n+1-th failure opens, not the n-th);
// OPEN fails fast until the cool-down elapses; HALF_OPEN admits exactly one
// probe, whose outcome either closes the breaker (failure count reset to 0)
// or re-opens it with a fresh cool-down. A success in CLOSED resets the
// failure count to 0.
//
// State is mirrored to the shared store when reachable so peer processes
// observe an open breaker; on store errors the local copy is authoritative.
type CircuitBreakerUseCase struct {
	repo   BreakerStateRepo
	cfg    *conf.Protection_Breaker
	audit  ProtectionAuditRepo
	logger *log.Helper
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewCircuitBreakerUseCase creates a new circuit breaker use case.
// repo may be nil, in which case state is purely process-local.
func NewCircuitBreakerUseCase(repo BreakerStateRepo, p *conf.Protection, audit ProtectionAuditRepo, logger log.Logger) *CircuitBreakerUseCase {
	return &CircuitBreakerUseCase{
		repo:     repo,
		cfg:      p.Breaker,
		audit:    audit,
		logger:   log.NewHelper(logger),
		now:      time.Now,
		breakers: make(map[string]*breaker),
	}
}

// Call invokes op under the breaker for service. When the breaker is open
// the call fails fast with a CircuitOpen error and op is never invoked.
// Only errors returned by op (including its timeout) count as failures;
// errors raised by the breaker itself never feed the counter.
func (uc *CircuitBreakerUseCase) Call(ctx context.Context, service string, op func(context.Context) error) error {
	b := uc.breakerFor(service)

	b.mu.Lock()
	uc.adoptStored(ctx, service, b)
	now := uc.now()

	isProbe := false
	switch b.state {
	case model.BreakerOpen:
		remaining := b.openedAt.Add(uc.cfg.CoolDown.AsDuration()).Sub(now)
		if remaining > 0 {
			b.mu.Unlock()
			return pkgerrors.CircuitOpen(service, retrySeconds(remaining))
		}
		// Cool-down elapsed: move to half-open and race for the probe.
		b.state = model.BreakerHalfOpen
		if uc.acquireProbe(ctx, service, b) {
			b.probeInFlight = true
			isProbe = true
		} else {
			b.mu.Unlock()
			return pkgerrors.CircuitOpen(service, retrySeconds(uc.cfg.CoolDown.AsDuration()))
		}
	case model.BreakerHalfOpen:
		if b.probeInFlight || !uc.acquireProbe(ctx, service, b) {
			b.mu.Unlock()
			return pkgerrors.CircuitOpen(service, retrySeconds(uc.cfg.CoolDown.AsDuration()))
		}
		b.probeInFlight = true
		isProbe = true
	case model.BreakerClosed:
		// pass through
	}
	b.mu.Unlock()

	opCtx := ctx
	if timeout := uc.cfg.CallTimeout.AsDuration(); timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := op(opCtx)

	b.mu.Lock()
	uc.onResult(ctx, service, b, err, isProbe)
	b.mu.Unlock()

	return err
}

// errExternalFailure marks a failure signal that did not come from a
// wrapped call, e.g. sustained backpressure against the downstream.
var errExternalFailure = errors.New("external failure signal")

// RecordFailure feeds an external failure signal into the breaker for
// service, e.g. sustained backpressure against that downstream.
func (uc *CircuitBreakerUseCase) RecordFailure(ctx context.Context, service string) {
	b := uc.breakerFor(service)
	b.mu.Lock()
	uc.onResult(ctx, service, b, errExternalFailure, false)
	b.mu.Unlock()
}

// State returns a point-in-time snapshot of the breaker for service.
func (uc *CircuitBreakerUseCase) State(service string) model.BreakerSnapshot {
	b := uc.breakerFor(service)
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.BreakerSnapshot{
		Service:  service,
		State:    b.state,
		Failures: b.failures,
		OpenedAt: b.openedAt,
	}
}

// Reset forces the breaker for service back to closed. Operator escape
// hatch; the downstream is assumed healthy.
func (uc *CircuitBreakerUseCase) Reset(ctx context.Context, service string) {
	b := uc.breakerFor(service)
	b.mu.Lock()
	b.state = model.BreakerClosed
	b.failures = 0
	b.openedAt = time.Time{}
	b.probeInFlight = false
	uc.persist(ctx, service, b)
	b.mu.Unlock()

	if uc.repo != nil {
		if err := uc.repo.ReleaseProbe(ctx, service); err != nil {
			uc.logger.Warnf("failed to release probe slot for %s: %v", service, err)
		}
	}
	uc.logger.Infow("msg", "circuit breaker reset", "service", service)
}

// onResult applies the outcome of a call (or an external failure signal)
// to the state machine. Caller holds b.mu.
func (uc *CircuitBreakerUseCase) onResult(ctx context.Context, service string, b *breaker, err error, isProbe bool) {
	now := uc.now()

	if err == nil {
		if isProbe {
			openedFor := now.Sub(b.openedAt)
			b.state = model.BreakerClosed
			b.failures = 0
			b.openedAt = time.Time{}
			b.probeInFlight = false
			uc.releaseProbe(ctx, service)
			uc.persist(ctx, service, b)

			uc.logger.Infow(
				"msg", "circuit breaker closed after successful probe",
				"service", service,
				"open_for", openedFor,
			)
			if uc.audit != nil {
				uc.audit.LogBreakerClosed(ctx, model.BreakerClosedEvent{
					Service:   service,
					OpenedFor: openedFor,
					ClosedAt:  now,
				})
			}
			return
		}
		if b.state == model.BreakerClosed && b.failures > 0 {
			b.failures = 0
			uc.persist(ctx, service, b)
		}
		return
	}

	if isProbe {
		b.state = model.BreakerOpen
		b.openedAt = now
		b.probeInFlight = false
		uc.releaseProbe(ctx, service)
		uc.persist(ctx, service, b)
		uc.logger.Warnw(
			"msg", "circuit breaker probe failed, re-opening",
			"service", service,
			"error", err,
		)
		return
	}

	if b.state != model.BreakerClosed {
		return
	}

	b.failures++
	if b.failures > uc.cfg.FailureThreshold {
		b.state = model.BreakerOpen
		b.openedAt = now
		uc.persist(ctx, service, b)

		uc.logger.Warnw(
			"msg", "circuit breaker opened",
			"service", service,
			"failures", b.failures,
			"cool_down", uc.cfg.CoolDown.AsDuration(),
		)
		if uc.audit != nil {
			uc.audit.LogBreakerOpened(ctx, model.BreakerOpenedEvent{
				Service:  service,
				Failures: b.failures,
				OpenedAt: now,
			})
		}
		return
	}
	uc.persist(ctx, service, b)
}

// breakerFor returns the state machine for service, creating it closed.
func (uc *CircuitBreakerUseCase) breakerFor(service string) *breaker {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	b, ok := uc.breakers[service]
	if !ok {
		b = &breaker{state: model.BreakerClosed}
		uc.breakers[service] = b
	}
	return b
}

// adoptStored pulls the persisted snapshot so a breaker opened by a peer
// process fails fast here too. Skipped mid-probe: the probe outcome is
// about to overwrite the state anyway. Caller holds b.mu.
func (uc *CircuitBreakerUseCase) adoptStored(ctx context.Context, service string, b *breaker) {
	if uc.repo == nil || b.probeInFlight {
		return
	}
	snap, err := uc.repo.Load(ctx, service)
	if err != nil {
		uc.logger.Debugf("breaker state load failed for %s: %v (using local state)", service, err)
		return
	}
	if snap == nil {
		return
	}
	b.state = snap.State
	b.failures = snap.Failures
	b.openedAt = snap.OpenedAt
}

// persist mirrors the current state to the shared store, best-effort.
// Caller holds b.mu.
func (uc *CircuitBreakerUseCase) persist(ctx context.Context, service string, b *breaker) {
	if uc.repo == nil {
		return
	}
	snap := &model.BreakerSnapshot{
		Service:  service,
		State:    b.state,
		Failures: b.failures,
		OpenedAt: b.openedAt,
	}
	if err := uc.repo.Save(ctx, service, snap); err != nil {
		uc.logger.Warnf("failed to persist breaker state for %s: %v (local state remains authoritative)", service, err)
	}
}

// acquireProbe claims the single half-open probe slot, via the shared
// store when available so only one probe runs fleet-wide. Caller holds b.mu.
func (uc *CircuitBreakerUseCase) acquireProbe(ctx context.Context, service string, b *breaker) bool {
	if b.probeInFlight {
		return false
	}
	if uc.repo == nil {
		return true
	}
	ok, err := uc.repo.AcquireProbe(ctx, service, uc.cfg.CoolDown.AsDuration())
	if err != nil {
		uc.logger.Warnf("probe slot acquisition failed for %s: %v (using local slot)", service, err)
		return true
	}
	return ok
}

func (uc *CircuitBreakerUseCase) releaseProbe(ctx context.Context, service string) {
	if uc.repo == nil {
		return
	}
	if err := uc.repo.ReleaseProbe(ctx, service); err != nil {
		uc.logger.Warnf("failed to release probe slot for %s: %v", service, err)
	}
}

// retrySeconds converts a remaining duration into a client retry hint,
// never less than one second.
func retrySeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
