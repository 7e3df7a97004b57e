// Package accounts implements account administration: enriching the PDS repo
// listing with account details, and dispatching moderation actions with an
// audit record for every execution.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/orion-pds/orion/internal/db/models"
)

// ErrInvalidAction is returned for an action name outside the known set.
var ErrInvalidAction = errors.New("invalid action")

// Action is a moderation action an operator can apply to an account.
type Action int

const (
	ActionTakedown Action = iota + 1
	ActionUntakedown
	ActionDelete
)

// Actions lists every known action.
var Actions = []Action{ActionTakedown, ActionUntakedown, ActionDelete}

// String returns the canonical lower-case name used in URLs and audit text.
func (a Action) String() string {
	switch a {
	case ActionTakedown:
		return "takedown"
	case ActionUntakedown:
		return "untakedown"
	case ActionDelete:
		return "delete"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction resolves name case-insensitively.
func ParseAction(name string) (Action, error) {
	switch strings.ToLower(name) {
	case "takedown":
		return ActionTakedown, nil
	case "untakedown":
		return ActionUntakedown, nil
	case "delete":
		return ActionDelete, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAction, name)
}

// Executor performs the remote side of each action. Implementations report
// success as a bool and never return transport errors.
type Executor interface {
	Takedown(ctx context.Context, did string) bool
	Untakedown(ctx context.Context, did string) bool
	DeleteAccount(ctx context.Context, did string) bool
}

// Descriptor binds an action to its audit event and remote call.
type Descriptor struct {
	Action  Action
	Event   models.AuditEvent
	Execute func(ctx context.Context, did string) bool
}

// Registry is the immutable action table built once at startup.
type Registry struct {
	descriptors map[Action]Descriptor
}

// NewRegistry binds every known action to exec.
func NewRegistry(exec Executor) *Registry {
	r := &Registry{descriptors: make(map[Action]Descriptor, len(Actions))}
	for _, a := range Actions {
		r.descriptors[a] = describe(a, exec)
	}
	return r
}

func describe(a Action, exec Executor) Descriptor {
	switch a {
	case ActionTakedown:
		return Descriptor{Action: a, Event: models.AuditEventTakedown, Execute: exec.Takedown}
	case ActionUntakedown:
		return Descriptor{Action: a, Event: models.AuditEventUntakedown, Execute: exec.Untakedown}
	case ActionDelete:
		return Descriptor{Action: a, Event: models.AuditEventDelete, Execute: exec.DeleteAccount}
	}
	panic(fmt.Sprintf("accounts: no descriptor for %v", a))
}

// Lookup returns the descriptor for name, or ErrInvalidAction.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	a, err := ParseAction(name)
	if err != nil {
		return Descriptor{}, err
	}
	return r.descriptors[a], nil
}
