package main

import (
	"context"
	"time"

	"Bastion/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// auditRetention is how long block-ledger rows are kept.
const auditRetention = 30 * 24 * time.Hour

// startMaintenanceCron runs the periodic housekeeping of the protection
// layer: sweeping expired queue entries, compacting the in-memory
// violation tracker, and trimming old ledger rows.
func startMaintenanceCron(
	queue *biz.RequestQueue,
	limiter *biz.RateLimiterUseCase,
	audit biz.ProtectionAuditRepo,
	logger log.Logger,
) *cron.Cron {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds())

	// Every minute: drop abandoned queue entries and stale violations.
	_, err := c.AddFunc("0 * * * * *", func() {
		swept := queue.Sweep()
		compacted := limiter.CompactViolations()
		if swept > 0 || compacted > 0 {
			helper.Infow("msg", "maintenance sweep", "queue_swept", swept, "violations_compacted", compacted)
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register sweep job", "error", err)
		return nil
	}

	// Hourly: trim ledger rows past retention.
	_, err = c.AddFunc("0 0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		trimmed, trimErr := audit.TrimBefore(ctx, time.Now().Add(-auditRetention))
		if trimErr != nil {
			helper.Errorw("msg", "ledger trim failed", "error", trimErr)
			return
		}
		if trimmed > 0 {
			helper.Infow("msg", "ledger trimmed", "rows", trimmed)
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register ledger trim job", "error", err)
	}

	c.Start()
	helper.Info("maintenance cron started")

	return c
}
