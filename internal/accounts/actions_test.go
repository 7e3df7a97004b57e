package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-pds/orion/internal/db/models"
)

// recordingExecutor records which remote call was made.
type recordingExecutor struct {
	calls  []string
	result bool
}

func (e *recordingExecutor) Takedown(_ context.Context, did string) bool {
	e.calls = append(e.calls, "takedown:"+did)
	return e.result
}

func (e *recordingExecutor) Untakedown(_ context.Context, did string) bool {
	e.calls = append(e.calls, "untakedown:"+did)
	return e.result
}

func (e *recordingExecutor) DeleteAccount(_ context.Context, did string) bool {
	e.calls = append(e.calls, "delete:"+did)
	return e.result
}

// ---------------------------------------------------------------------------
// ParseAction
// ---------------------------------------------------------------------------

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{"takedown", ActionTakedown},
		{"TAKEDOWN", ActionTakedown},
		{"TakeDown", ActionTakedown},
		{"untakedown", ActionUntakedown},
		{"UnTakedown", ActionUntakedown},
		{"delete", ActionDelete},
		{"DELETE", ActionDelete},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseAction_Invalid(t *testing.T) {
	for _, name := range []string{"", "ban", "take down", "deletes", " delete"} {
		_, err := ParseAction(name)
		assert.ErrorIs(t, err, ErrInvalidAction, "name %q", name)
	}
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "takedown", ActionTakedown.String())
	assert.Equal(t, "untakedown", ActionUntakedown.String())
	assert.Equal(t, "delete", ActionDelete.String())
	assert.Equal(t, "Action(0)", Action(0).String())
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_MapsEventAndExecutor(t *testing.T) {
	tests := []struct {
		name      string
		wantEvent models.AuditEvent
		wantCall  string
	}{
		{"takedown", models.AuditEventTakedown, "takedown:did:plc:x"},
		{"Untakedown", models.AuditEventUntakedown, "untakedown:did:plc:x"},
		{"DELETE", models.AuditEventDelete, "delete:did:plc:x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{result: true}
			desc, err := NewRegistry(exec).Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEvent, desc.Event)

			assert.True(t, desc.Execute(context.Background(), "did:plc:x"))
			assert.Equal(t, []string{tt.wantCall}, exec.calls)
		})
	}
}

func TestRegistry_UnknownAction(t *testing.T) {
	exec := &recordingExecutor{}
	_, err := NewRegistry(exec).Lookup("suspend")
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Empty(t, exec.calls)
}

func TestRegistry_CoversEveryAction(t *testing.T) {
	r := NewRegistry(&recordingExecutor{})
	for _, a := range Actions {
		desc, err := r.Lookup(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, desc.Action)
		assert.True(t, desc.Event.Valid())
		assert.NotNil(t, desc.Execute)
	}
}
