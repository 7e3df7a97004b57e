// Package models - audit_log.go defines the AuditLog model: an append-only record
// of a security-relevant event performed by an operator.
package models

import "time"

// AuditEvent is the closed set of event kinds an audit record may carry.
// The same set is enforced by the valid_event_type CHECK constraint.
type AuditEvent string

const (
	AuditEventLogin          AuditEvent = "LOGIN"
	AuditEventLogout         AuditEvent = "LOGOUT"
	AuditEventDelete         AuditEvent = "DELETE"
	AuditEventTakedown       AuditEvent = "TAKEDOWN"
	AuditEventUntakedown     AuditEvent = "UNTAKEDOWN"
	AuditEventPasswordChange AuditEvent = "PASSWORD_CHANGE"
)

// AuditEvents lists every valid event kind in display order.
var AuditEvents = []AuditEvent{
	AuditEventLogin,
	AuditEventLogout,
	AuditEventDelete,
	AuditEventTakedown,
	AuditEventUntakedown,
	AuditEventPasswordChange,
}

// Valid reports whether e is one of the known event kinds.
func (e AuditEvent) Valid() bool {
	switch e {
	case AuditEventLogin, AuditEventLogout, AuditEventDelete,
		AuditEventTakedown, AuditEventUntakedown, AuditEventPasswordChange:
		return true
	}
	return false
}

// Label returns the human-readable name shown in the audit log view.
func (e AuditEvent) Label() string {
	switch e {
	case AuditEventLogin:
		return "Login"
	case AuditEventLogout:
		return "Logout"
	case AuditEventDelete:
		return "Delete"
	case AuditEventTakedown:
		return "Takedown"
	case AuditEventUntakedown:
		return "Untakedown"
	case AuditEventPasswordChange:
		return "Password Change"
	}
	return string(e)
}

// AuditLog represents an audit log entry. Records are never updated once written.
type AuditLog struct {
	ID          string     `db:"id" json:"id"`
	Seq         int64      `db:"seq" json:"-"`
	UserID      string     `db:"user_id" json:"user_id"`
	Username    string     `db:"username" json:"username"` // joined from users on read
	Event       AuditEvent `db:"event" json:"event"`
	Description *string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
