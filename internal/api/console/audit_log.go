package console

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orion-pds/orion/internal/db/models"
	"github.com/orion-pds/orion/internal/db/repositories"
)

// AuditQuerier reads audit records, newest first.
type AuditQuerier interface {
	Query(ctx context.Context, filters repositories.AuditFilters) ([]*models.AuditLog, error)
}

// AuditLogHandler serves the audit log view
type AuditLogHandler struct {
	audit AuditQuerier
}

// NewAuditLogHandler creates a new audit log handler
func NewAuditLogHandler(audit AuditQuerier) *AuditLogHandler {
	return &AuditLogHandler{audit: audit}
}

// auditLogEntry is one row of the audit log view.
type auditLogEntry struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	Event       models.AuditEvent `json:"event"`
	EventLabel  string            `json:"event_label"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ListAuditLogs returns audit records newest first.
// GET /audit-log/?event=TAKEDOWN&limit=100
func (h *AuditLogHandler) ListAuditLogs(c *gin.Context) {
	var filters repositories.AuditFilters

	if raw := c.Query("event"); raw != "" {
		event := models.AuditEvent(strings.ToUpper(raw))
		if !event.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event"})
			return
		}
		filters.Event = &event
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filters.Limit = limit
	}

	logs, err := h.audit.Query(c.Request.Context(), filters)
	if err != nil {
		slog.Error("failed to list audit logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit log"})
		return
	}

	entries := make([]auditLogEntry, 0, len(logs))
	for _, log := range logs {
		entry := auditLogEntry{
			ID:         log.ID,
			Username:   log.Username,
			Event:      log.Event,
			EventLabel: log.Event.Label(),
			CreatedAt:  log.CreatedAt,
		}
		if log.Description != nil {
			entry.Description = *log.Description
		}
		entries = append(entries, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"title":      "Audit Log",
		"audit_logs": entries,
		"events":     models.AuditEvents,
	})
}
