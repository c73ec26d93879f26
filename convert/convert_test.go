package convert

import (
	"testing"

	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/debugger"
	"github.com/fansqz/debug-session/debugger/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumMapping(t *testing.T) {
	assert.Equal(t, constants.ProcessStopped, ProcessState(debugger.StateStopped))
	assert.Equal(t, constants.ProcessInvalid, ProcessState(debugger.StateType(99)))
	assert.Equal(t, constants.StopReasonPlanComplete, StopReason(debugger.StopReasonPlanComplete))
	assert.Equal(t, constants.StopReasonUnknown, StopReason(debugger.StopReasonInvalid))
	assert.Equal(t, constants.BreakpointLocationsResolved, BreakpointReason(debugger.BreakpointEventLocationsResolved))
	assert.Equal(t, constants.BreakpointChangeUnknown, BreakpointReason(debugger.BreakpointEventInvalid))
	assert.Equal(t,
		[]constants.ThreadChangeType{constants.ThreadStackChanged, constants.ThreadSelected},
		ThreadChanges(debugger.EventThreadSelected|debugger.EventStackChanged))
}

func TestModuleBaseAddress(t *testing.T) {
	m := Module(debugger.Module{
		UUID: "abc",
		Name: "a.out",
		Path: "/tmp/a.out",
		Sections: []debugger.Section{
			{Name: ".text", LoadAddress: 0x1000, Size: 0x50},
			{Name: ".data", LoadAddress: 0x2000, Size: 0x10},
		},
	})
	assert.Equal(t, "abc", m.Id)
	assert.Equal(t, uint64(0x1000), m.LoadAddress)
	assert.Equal(t, "0x1000-0x2010", m.AddressRange)
	assert.Equal(t, "Symbols not found.", m.SymbolStatus)

	bare := Module(debugger.Module{Path: "/tmp/b.out"})
	assert.Equal(t, uint64(0), bare.LoadAddress)
	assert.NotEmpty(t, bare.UUID)
	assert.Equal(t, bare.UUID, Module(debugger.Module{Path: "/tmp/b.out"}).UUID)
}

func TestFirstPosition(t *testing.T) {
	assert.Nil(t, FirstPosition(nil))
	pos := FirstPosition([]debugger.BreakpointLocation{
		{ID: 1, Address: 0x10},
		{ID: 2, Address: 0x20, Resolved: true, Line: debugger.LineEntry{File: "a.c", Line: 4}},
	})
	require.NotNil(t, pos)
	assert.Equal(t, "a.c", pos.File)
	assert.Equal(t, uint32(4), pos.Line)
}

func TestInstruction(t *testing.T) {
	insn := Instruction(debugger.Instruction{
		Address:  0x1000,
		Bytes:    []byte{0x55, 0x48},
		Mnemonic: "push",
		Operands: "rbp",
		Line:     debugger.LineEntry{File: "/src/a.c", Line: 3},
	})
	assert.Equal(t, "0x1000", insn.Address)
	assert.Equal(t, "55 48", insn.InstructionBytes)
	assert.Equal(t, "push rbp", insn.Instruction)
	require.NotNil(t, insn.Location)
	assert.Equal(t, "a.c", insn.Location.Name)
	assert.Equal(t, 3, insn.Line)
}

func TestEngineObjects(t *testing.T) {
	en := simulator.New(simulator.Options{})
	target, err := en.CreateTarget("/tmp/a.out", nil)
	require.NoError(t, err)
	p, err := target.Launch(&debugger.LaunchOptions{StopAtEntry: true})
	require.NoError(t, err)

	th := Thread(p.SelectedThread())
	assert.Equal(t, p.PID(), th.Id)
	assert.Equal(t, constants.StopReasonSignal, th.StopReason)
	require.NotNil(t, th.Frame)
	assert.Equal(t, "main", th.Frame.Name)
	assert.Equal(t, 1, th.Frame.Line)
	assert.Equal(t, "a.out.c", th.Frame.Source.Name)
	assert.Equal(t, "0x1000", th.Frame.InstructionPointerReference)

	frame := p.SelectedThread().Frame(0)
	point := Variable(frame.FindVariable("point"), 7)
	assert.Equal(t, 7, point.VariablesReference)
	assert.Equal(t, 2, point.NumChildren)
	message := Variable(frame.FindVariable("message"), 8)
	assert.Equal(t, 0, message.VariablesReference)
	assert.Equal(t, `"hello"`, message.Summary)
	assert.NotEmpty(t, message.MemoryReference)
}
