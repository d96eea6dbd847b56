package service

import (
	"context"
	"time"

	"Bastion/internal/biz"
	"Bastion/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerStatus is the admin view of one circuit breaker.
type BreakerStatus struct {
	Service  string `json:"service"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
	OpenedAt string `json:"opened_at,omitempty"`
}

// BlockedIP is the admin view of one block-ledger entry.
type BlockedIP struct {
	IP         string `json:"ip"`
	Violations int    `json:"violations"`
	BlockedAt  string `json:"blocked_at"`
	ExpiresAt  string `json:"expires_at"`
}

// ProtectionStatus is the load snapshot reported by the admin surface.
type ProtectionStatus struct {
	Shedding     bool   `json:"shedding"`
	InFlight     int    `json:"in_flight"`
	QueueDepth   int    `json:"queue_depth"`
	QueueCap     int    `json:"queue_capacity"`
	QueueExpired int64  `json:"queue_expired_total"`
	StoreLatency string `json:"store_latency"`
}

// AdminService exposes operator actions over the protection layer.
type AdminService struct {
	limiter      *biz.RateLimiterUseCase
	breaker      *biz.CircuitBreakerUseCase
	queue        *biz.RequestQueue
	backpressure *biz.BackpressureManager
	audit        biz.ProtectionAuditRepo
	logger       *log.Helper
}

// NewAdminService creates an AdminService.
func NewAdminService(
	limiter *biz.RateLimiterUseCase,
	breaker *biz.CircuitBreakerUseCase,
	queue *biz.RequestQueue,
	backpressure *biz.BackpressureManager,
	audit biz.ProtectionAuditRepo,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		limiter:      limiter,
		breaker:      breaker,
		queue:        queue,
		backpressure: backpressure,
		audit:        audit,
		logger:       log.NewHelper(logger),
	}
}

// BreakerState reports the breaker for the named downstream.
func (s *AdminService) BreakerState(ctx context.Context, service string) *BreakerStatus {
	snap := s.breaker.State(service)
	return breakerStatus(snap)
}

// ResetBreaker force-closes the breaker for the named downstream.
func (s *AdminService) ResetBreaker(ctx context.Context, service string) *BreakerStatus {
	s.logger.WithContext(ctx).Infow("msg", "breaker reset requested", "service", service)
	s.breaker.Reset(ctx, service)
	return breakerStatus(s.breaker.State(service))
}

// RecentBlocks lists the latest block-ledger entries, newest first.
func (s *AdminService) RecentBlocks(ctx context.Context, limit int) ([]*BlockedIP, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := s.audit.RecentBlocks(ctx, limit)
	if err != nil {
		s.logger.WithContext(ctx).Errorw("msg", "failed to read block ledger", "error", err)
		return nil, err
	}
	out := make([]*BlockedIP, 0, len(events))
	for _, ev := range events {
		out = append(out, &BlockedIP{
			IP:         ev.IP,
			Violations: ev.Violations,
			BlockedAt:  ev.BlockedAt.UTC().Format(time.RFC3339),
			ExpiresAt:  ev.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// Unblock removes the active block for ip ahead of its expiry.
func (s *AdminService) Unblock(ctx context.Context, ip string) {
	s.logger.WithContext(ctx).Infow("msg", "manual unblock", "ip", ip)
	s.limiter.Unblock(ctx, ip)
}

// Status reports the current load picture used for shedding decisions.
func (s *AdminService) Status(ctx context.Context) *ProtectionStatus {
	sample := s.backpressure.Sample()
	return &ProtectionStatus{
		Shedding:     s.backpressure.Shedding(),
		InFlight:     sample.InFlight,
		QueueDepth:   s.queue.Depth(),
		QueueCap:     s.queue.Capacity(),
		QueueExpired: s.queue.ExpiredCount(),
		StoreLatency: sample.StoreLatency.String(),
	}
}

func breakerStatus(snap model.BreakerSnapshot) *BreakerStatus {
	st := &BreakerStatus{
		Service:  snap.Service,
		State:    snap.State.String(),
		Failures: snap.Failures,
	}
	if !snap.OpenedAt.IsZero() {
		st.OpenedAt = snap.OpenedAt.UTC().Format(time.RFC3339)
	}
	return st
}
