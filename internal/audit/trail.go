// Package audit owns the compliance record of operator activity. Every event
// is written to the database before the request that caused it completes;
// copies are then shipped best-effort to any external destinations (webhook,
// JSON-lines file) so records can reach a SIEM independently of the app logs.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orion-pds/orion/internal/db/models"
	"github.com/orion-pds/orion/internal/db/repositories"
	"github.com/orion-pds/orion/internal/safego"
	"github.com/orion-pds/orion/internal/telemetry"
)

var (
	// ErrStorage wraps any failure to persist or read audit records.
	ErrStorage = errors.New("audit storage failure")
	// ErrInvalidEvent is returned for an event kind outside the known set.
	ErrInvalidEvent = errors.New("invalid audit event")
)

const shipTimeout = 15 * time.Second

// Store is the persistence behind a Trail.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters) ([]*models.AuditLog, error)
}

// Trail appends and lists audit records.
type Trail struct {
	store   Store
	shipper Shipper
}

// NewTrail creates a Trail. shipper may be nil.
func NewTrail(store Store, shipper Shipper) *Trail {
	return &Trail{store: store, shipper: shipper}
}

// Append durably records event for actorID. An empty description is stored
// as NULL.
func (t *Trail) Append(ctx context.Context, actorID string, event models.AuditEvent, description string) (*models.AuditLog, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEvent, event)
	}

	log := &models.AuditLog{
		UserID: actorID,
		Event:  event,
	}
	if description != "" {
		log.Description = &description
	}

	if err := t.store.CreateAuditLog(ctx, log); err != nil {
		slog.Error("failed to write audit record", "event", event, "user_id", actorID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	telemetry.AuditRecordsTotal.WithLabelValues(string(event)).Inc()

	t.ship(log)
	return log, nil
}

// ship forwards log to external destinations without blocking the caller.
func (t *Trail) ship(log *models.AuditLog) {
	if t.shipper == nil {
		return
	}
	entry := EntryFromLog(log)
	safego.Go("audit-ship", func() {
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		defer cancel()
		if err := t.shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit record", "audit_id", entry.ID, "error", err)
		}
	})
}

// List returns every audit record, newest first.
func (t *Trail) List(ctx context.Context) ([]*models.AuditLog, error) {
	return t.Query(ctx, repositories.AuditFilters{})
}

// Query returns audit records matching filters, newest first.
func (t *Trail) Query(ctx context.Context, filters repositories.AuditFilters) ([]*models.AuditLog, error) {
	logs, err := t.store.ListAuditLogs(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return logs, nil
}
