package debugger

import (
	"testing"

	e "github.com/fansqz/debug-session/error"
	"github.com/stretchr/testify/assert"
)

type stubHandle struct{ valid bool }

func (h *stubHandle) IsValid() bool { return h.valid }

func TestCheck(t *testing.T) {
	var typedNil *stubHandle
	assert.ErrorIs(t, Check(nil), ErrInvalidHandle)
	assert.ErrorIs(t, Check(typedNil), ErrInvalidHandle)
	assert.ErrorIs(t, Check(&stubHandle{}), ErrInvalidHandle)
	assert.NoError(t, Check(&stubHandle{valid: true}))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("no-such-engine")
	assert.ErrorIs(t, err, e.ErrUnknownBackend)
	assert.Contains(t, err.Error(), "no-such-engine")
}

func TestRegisterTwicePanics(t *testing.T) {
	Register("stub-engine", func() (Debugger, error) { return nil, nil })
	assert.Contains(t, Backends(), "stub-engine")
	assert.Panics(t, func() {
		Register("stub-engine", func() (Debugger, error) { return nil, nil })
	})
}

func TestStateType(t *testing.T) {
	assert.True(t, StateExited.IsTerminal())
	assert.True(t, StateDetached.IsTerminal())
	assert.False(t, StateCrashed.IsTerminal())
	assert.True(t, StateCrashed.IsAlive())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.True(t, (EventSTDOUT | EventStateChanged).Has(EventSTDOUT))
	assert.False(t, EventSTDOUT.Has(EventSTDERR))
}
