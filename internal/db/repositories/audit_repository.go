// audit_repository.go implements AuditRepository, the append-only store behind
// the audit trail. Records are inserted and listed; there is no update or delete.
package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/orion-pds/orion/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters narrows ListAuditLogs. Zero values mean "no filter".
type AuditFilters struct {
	UserID *string
	Event  *models.AuditEvent
	Limit  int
}

// CreateAuditLog inserts log, assigning its ID. Seq and CreatedAt are
// assigned by the database at insertion.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()

	query := `
		INSERT INTO audit_logs (id, user_id, event, description)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		log.ID,
		log.UserID,
		log.Event,
		log.Description,
	).Scan(&log.Seq, &log.CreatedAt)
}

// ListAuditLogs returns audit records newest first. Records sharing a
// timestamp come back in reverse insertion order.
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters) ([]*models.AuditLog, error) {
	query := `
		SELECT a.id, a.seq, a.user_id, u.username, a.event, a.description, a.created_at
		FROM audit_logs a
		JOIN users u ON u.id = a.user_id
	`

	var (
		where []string
		args  []interface{}
	)
	if filters.UserID != nil {
		args = append(args, *filters.UserID)
		where = append(where, fmt.Sprintf("a.user_id = $%d", len(args)))
	}
	if filters.Event != nil {
		args = append(args, *filters.Event)
		where = append(where, fmt.Sprintf("a.event = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY a.created_at DESC, a.seq DESC"

	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	logs := make([]*models.AuditLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, err
	}
	return logs, nil
}
