package data

import (
	"context"
	"encoding/json"
	"time"

	"Bastion/internal/model"
	pkgerrors "Bastion/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// Audit event type constants for the protection_audit_logs table.
const (
	AuditEventIPBlocked     = "IP_BLOCKED"
	AuditEventBreakerOpened = "BREAKER_OPENED"
	AuditEventBreakerClosed = "BREAKER_CLOSED"
)

// AuditLog is the GORM model for the protection_audit_logs table.
type AuditLog struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	EventType  string    `gorm:"column:event_type;type:varchar(50);not null;index"`
	Identifier string    `gorm:"column:identifier;type:varchar(255);not null;index"`
	Details    string    `gorm:"column:details;type:json"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName specifies the table name for GORM.
func (AuditLog) TableName() string {
	return "protection_audit_logs"
}

// ProtectionAudit implements biz.ProtectionAuditRepo. Writes go through a
// buffered channel and a background goroutine so a slow database never
// blocks an admission decision. A nil db disables the ledger: events are
// logged and dropped.
type ProtectionAudit struct {
	db      *gorm.DB
	webhook *WebhookClient
	logChan chan *AuditLog
	logger  *log.Helper
}

// NewProtectionAudit creates a new audit ledger writer. Events are also
// forwarded to the webhook client, independent of ledger availability.
func NewProtectionAudit(db *gorm.DB, webhook *WebhookClient, logger log.Logger) *ProtectionAudit {
	a := &ProtectionAudit{
		db:      db,
		webhook: webhook,
		logChan: make(chan *AuditLog, 1000),
		logger:  log.NewHelper(logger),
	}

	if db != nil {
		go a.start()
	} else {
		a.logger.Warn("audit database not configured, block ledger disabled")
	}

	return a
}

// start drains the event channel into the database.
func (a *ProtectionAudit) start() {
	for event := range a.logChan {
		ctx := context.Background()
		if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
			dbErr := pkgerrors.ClassifyDBError(err)
			if dbErr.Transient() {
				a.logger.Warnw("msg", "transient audit write failure",
					"event_type", event.EventType,
					"identifier", event.Identifier,
					"error", err)
			} else {
				a.logger.Errorw("msg", "failed to write audit log",
					"event_type", event.EventType,
					"identifier", event.Identifier,
					"error", err)
			}
		}
	}
}

// LogIPBlocked records an IP crossing the violation threshold.
func (a *ProtectionAudit) LogIPBlocked(ctx context.Context, ev model.IPBlockedEvent) {
	a.enqueue(AuditEventIPBlocked, ev.IP, map[string]interface{}{
		"violations": ev.Violations,
		"blocked_at": ev.BlockedAt.Format(time.RFC3339),
		"expires_at": ev.ExpiresAt.Format(time.RFC3339),
	})
}

// LogBreakerOpened records a circuit breaker tripping open.
func (a *ProtectionAudit) LogBreakerOpened(ctx context.Context, ev model.BreakerOpenedEvent) {
	a.enqueue(AuditEventBreakerOpened, ev.Service, map[string]interface{}{
		"failures":  ev.Failures,
		"opened_at": ev.OpenedAt.Format(time.RFC3339),
	})
}

// LogBreakerClosed records a circuit breaker recovering.
func (a *ProtectionAudit) LogBreakerClosed(ctx context.Context, ev model.BreakerClosedEvent) {
	a.enqueue(AuditEventBreakerClosed, ev.Service, map[string]interface{}{
		"open_for_seconds": ev.OpenedFor.Seconds(),
		"closed_at":        ev.ClosedAt.Format(time.RFC3339),
	})
}

// RecentBlocks returns the most recent IP block events, newest first.
func (a *ProtectionAudit) RecentBlocks(ctx context.Context, limit int) ([]model.IPBlockedEvent, error) {
	if a.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []AuditLog
	err := a.db.WithContext(ctx).
		Where("event_type = ?", AuditEventIPBlocked).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}

	events := make([]model.IPBlockedEvent, 0, len(rows))
	for _, row := range rows {
		var details struct {
			Violations int    `json:"violations"`
			BlockedAt  string `json:"blocked_at"`
			ExpiresAt  string `json:"expires_at"`
		}
		if err := json.Unmarshal([]byte(row.Details), &details); err != nil {
			a.logger.Warnf("corrupt audit row %d: %v (skipping)", row.ID, err)
			continue
		}
		blockedAt, _ := time.Parse(time.RFC3339, details.BlockedAt)
		expiresAt, _ := time.Parse(time.RFC3339, details.ExpiresAt)
		events = append(events, model.IPBlockedEvent{
			IP:         row.Identifier,
			Violations: details.Violations,
			BlockedAt:  blockedAt,
			ExpiresAt:  expiresAt,
		})
	}
	return events, nil
}

// TrimBefore deletes audit rows older than cutoff. Called by the retention
// cron.
func (a *ProtectionAudit) TrimBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if a.db == nil {
		return 0, nil
	}

	result := a.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&AuditLog{})
	if result.Error != nil {
		return 0, pkgerrors.ClassifyDBError(result.Error)
	}
	return result.RowsAffected, nil
}

// enqueue marshals and queues one event, dropping it when the channel or
// the database is unavailable. The webhook fires regardless.
func (a *ProtectionAudit) enqueue(eventType, identifier string, details map[string]interface{}) {
	details["identifier"] = identifier
	if a.webhook != nil {
		a.webhook.Notify(eventType, details)
	}

	if a.db == nil {
		a.logger.Debugw("msg", "audit event dropped (ledger disabled)",
			"event_type", eventType,
			"identifier", identifier)
		return
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit details", "error", err)
		return
	}

	event := &AuditLog{
		EventType:  eventType,
		Identifier: identifier,
		Details:    string(detailsJSON),
	}

	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"event_type", eventType,
			"identifier", identifier)
	}
}
