package accounts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orion-pds/orion/internal/db/models"
	"github.com/orion-pds/orion/internal/pds"
	"github.com/orion-pds/orion/internal/telemetry"
)

// InfoFetcher fetches best-effort detail for a single account.
type InfoFetcher interface {
	GetAccountInfo(ctx context.Context, did string) *pds.AccountInfo
}

// AuditAppender durably records an event. Errors must not be swallowed.
type AuditAppender interface {
	Append(ctx context.Context, actorID string, event models.AuditEvent, description string) (*models.AuditLog, error)
}

// Confirmation is what an operator sees before executing an action. Info is
// nil when the PDS could not be reached.
type Confirmation struct {
	Action Action            `json:"-"`
	DID    string            `json:"did"`
	Info   *pds.AccountInfo  `json:"account_info"`
	Event  models.AuditEvent `json:"event"`
}

// Outcome reports an executed action. Succeeded reflects the remote call;
// Record is written regardless.
type Outcome struct {
	Action    Action
	DID       string
	Succeeded bool
	Record    *models.AuditLog
}

// Dispatcher runs the confirm/execute protocol for moderation actions.
type Dispatcher struct {
	registry *Registry
	info     InfoFetcher
	audit    AuditAppender
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(registry *Registry, info InfoFetcher, audit AuditAppender) *Dispatcher {
	return &Dispatcher{registry: registry, info: info, audit: audit}
}

// Confirm validates actionName and loads account detail for display. It has
// no side effects and writes no audit record.
func (d *Dispatcher) Confirm(ctx context.Context, actionName, did string) (*Confirmation, error) {
	desc, err := d.registry.Lookup(actionName)
	if err != nil {
		return nil, err
	}
	return &Confirmation{
		Action: desc.Action,
		DID:    did,
		Info:   d.info.GetAccountInfo(ctx, did),
		Event:  desc.Event,
	}, nil
}

// Execute validates actionName, invokes the remote call, then appends an
// audit record whether or not the call succeeded. Only an audit failure is
// returned as an error.
func (d *Dispatcher) Execute(ctx context.Context, actorID, actionName, did string) (*Outcome, error) {
	desc, err := d.registry.Lookup(actionName)
	if err != nil {
		return nil, err
	}

	succeeded := desc.Execute(ctx, did)
	result := "succeeded"
	if !succeeded {
		result = "failed"
	}
	telemetry.AccountActionsTotal.WithLabelValues(desc.Action.String(), result).Inc()
	slog.Info("account action executed",
		"action", desc.Action.String(),
		"did", did,
		"actor_id", actorID,
		"result", result,
	)

	description := fmt.Sprintf("User performed %s on %s", desc.Action, did)
	record, err := d.audit.Append(ctx, actorID, desc.Event, description)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s on %s: %w", desc.Action, did, err)
	}

	return &Outcome{
		Action:    desc.Action,
		DID:       did,
		Succeeded: succeeded,
		Record:    record,
	}, nil
}
