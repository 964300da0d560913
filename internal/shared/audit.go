package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditEvent represents a record stored in audit_logs.
type AuditEvent struct {
	ActorID    int64
	Action     string
	Category   string
	Details    map[string]any
	TargetID   string
	TargetType string
	Severity   string
	At         time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{pool: pool, logger: logger}
}

// Record persists the event.
func (l *AuditLogger) Record(ctx context.Context, ev AuditEvent) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if ev.Action == "" || ev.TargetType == "" || ev.TargetID == "" {
		return errors.New("audit event requires action/target_type/target_id")
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return err
	}
	var at any
	if !ev.At.IsZero() {
		at = ev.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, category, details, target_id, target_type, severity, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`, ev.ActorID, ev.Action, ev.Category, details, ev.TargetID, ev.TargetType, ev.Severity, at)
	return err
}

// AuditRecorder is the write side used by services.
type AuditRecorder interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// RecordAuditEvent records ev without propagating failures; they are only logged.
func RecordAuditEvent(ctx context.Context, recorder AuditRecorder, logger *slog.Logger, ev AuditEvent) {
	if recorder == nil {
		return
	}
	if err := recorder.Record(ctx, ev); err != nil && logger != nil {
		logger.Warn("record audit event", slog.String("action", ev.Action), slog.String("target_id", ev.TargetID), slog.Any("error", err))
	}
}
