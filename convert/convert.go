// Package convert copies engine objects into wire objects. Callers validate
// handles before converting them.
package convert

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/debugger"
	"github.com/fansqz/debug-session/protocol"
	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var processStates = map[debugger.StateType]constants.ProcessState{
	debugger.StateUnloaded:  constants.ProcessUnloaded,
	debugger.StateConnected: constants.ProcessConnected,
	debugger.StateAttaching: constants.ProcessAttaching,
	debugger.StateLaunching: constants.ProcessLaunching,
	debugger.StateStopped:   constants.ProcessStopped,
	debugger.StateRunning:   constants.ProcessRunning,
	debugger.StateStepping:  constants.ProcessStepping,
	debugger.StateCrashed:   constants.ProcessCrashed,
	debugger.StateDetached:  constants.ProcessDetached,
	debugger.StateExited:    constants.ProcessExited,
	debugger.StateSuspended: constants.ProcessSuspended,
}

// ProcessState 引擎状态转协议状态
func ProcessState(s debugger.StateType) constants.ProcessState {
	if state, ok := processStates[s]; ok {
		return state
	}
	return constants.ProcessInvalid
}

var stopReasons = map[debugger.StopReason]constants.StoppedReasonType{
	debugger.StopReasonNone:            constants.StopReasonNone,
	debugger.StopReasonTrace:           constants.StopReasonTrace,
	debugger.StopReasonBreakpoint:      constants.StopReasonBreakpoint,
	debugger.StopReasonWatchpoint:      constants.StopReasonWatchpoint,
	debugger.StopReasonSignal:          constants.StopReasonSignal,
	debugger.StopReasonException:       constants.StopReasonException,
	debugger.StopReasonExec:            constants.StopReasonExec,
	debugger.StopReasonPlanComplete:    constants.StopReasonPlanComplete,
	debugger.StopReasonThreadExiting:   constants.StopReasonThreadExiting,
	debugger.StopReasonInstrumentation: constants.StopReasonInstrumentation,
	debugger.StopReasonFork:            constants.StopReasonFork,
}

func StopReason(r debugger.StopReason) constants.StoppedReasonType {
	if reason, ok := stopReasons[r]; ok {
		return reason
	}
	return constants.StopReasonUnknown
}

var breakpointReasons = map[debugger.BreakpointEventType]constants.BreakpointReasonType{
	debugger.BreakpointEventAdded:             constants.BreakpointAdded,
	debugger.BreakpointEventRemoved:           constants.BreakpointRemoved,
	debugger.BreakpointEventLocationsAdded:    constants.BreakpointLocationsAdded,
	debugger.BreakpointEventLocationsRemoved:  constants.BreakpointLocationsRemoved,
	debugger.BreakpointEventLocationsResolved: constants.BreakpointLocationsResolved,
	debugger.BreakpointEventEnabled:           constants.BreakpointEnabled,
	debugger.BreakpointEventDisabled:          constants.BreakpointDisabled,
	debugger.BreakpointEventConditionChanged:  constants.BreakpointConditionChanged,
	debugger.BreakpointEventCommandChanged:    constants.BreakpointCommandChanged,
}

func BreakpointReason(t debugger.BreakpointEventType) constants.BreakpointReasonType {
	if reason, ok := breakpointReasons[t]; ok {
		return reason
	}
	return constants.BreakpointChangeUnknown
}

// ThreadChanges 线程事件位按固定顺序转为变化类型
func ThreadChanges(t debugger.EventType) []constants.ThreadChangeType {
	var out []constants.ThreadChangeType
	for _, m := range []struct {
		bit  debugger.EventType
		kind constants.ThreadChangeType
	}{
		{debugger.EventStackChanged, constants.ThreadStackChanged},
		{debugger.EventThreadSuspended, constants.ThreadSuspended},
		{debugger.EventThreadResumed, constants.ThreadResumed},
		{debugger.EventSelectedFrameChanged, constants.ThreadSelectedFrameChanged},
		{debugger.EventThreadSelected, constants.ThreadSelected},
	} {
		if t.Has(m.bit) {
			out = append(out, m.kind)
		}
	}
	return out
}

// Source nil when the line entry has no file.
func Source(le debugger.LineEntry) *dap.Source {
	if le.File == "" {
		return nil
	}
	return &dap.Source{Name: filepath.Base(le.File), Path: le.File}
}

// StackFrame frame ids are the frame index within the thread.
func StackFrame(f debugger.Frame) dap.StackFrame {
	le := f.LineEntry()
	return dap.StackFrame{
		Id:                          int(f.Index()),
		Name:                        f.FunctionName(),
		Source:                      Source(le),
		Line:                        int(le.Line),
		Column:                      int(le.Column),
		InstructionPointerReference: Address(f.PC()),
		ModuleId:                    f.ModuleName(),
	}
}

// Thread includes the top frame when the thread is stopped.
func Thread(th debugger.Thread) protocol.Thread {
	out := protocol.Thread{
		Thread:          dap.Thread{Id: int(th.ID()), Name: th.Name()},
		Index:           th.Index(),
		Queue:           th.Queue(),
		StopReason:      StopReason(th.StopReason()),
		StopDescription: th.StopDescription(),
	}
	if th.NumFrames() > 0 {
		if f := th.Frame(0); debugger.Check(f) == nil {
			frame := StackFrame(f)
			out.Frame = &frame
		}
	}
	return out
}

// BaseAddress 第一个段的加载地址，没有段时为0
func BaseAddress(m debugger.Module) uint64 {
	if len(m.Sections) == 0 {
		return 0
	}
	return m.Sections[0].LoadAddress
}

func Module(m debugger.Module) protocol.Module {
	id := m.UUID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(m.Path)).String()
	}
	status := "Symbols not found."
	if m.SymbolsLoaded {
		status = "Symbols loaded."
	}
	out := protocol.Module{
		Module: dap.Module{
			Id:           id,
			Name:         m.Name,
			Path:         m.Path,
			SymbolStatus: status,
		},
		UUID:        id,
		LoadAddress: BaseAddress(m),
	}
	if len(m.Sections) > 0 {
		last := m.Sections[len(m.Sections)-1]
		out.AddressRange = fmt.Sprintf("%s-%s", Address(out.LoadAddress), Address(last.LoadAddress+last.Size))
	}
	return out
}

func Modules(ms []debugger.Module) []protocol.Module {
	return lo.Map(ms, func(m debugger.Module, _ int) protocol.Module { return Module(m) })
}

// Variable handle 0 means the value was not registered.
func Variable(v debugger.Value, handle uint64) protocol.Variable {
	out := protocol.Variable{
		Variable: dap.Variable{
			Name:  v.Name(),
			Value: v.Value(),
			Type:  v.TypeName(),
		},
		Handle:      handle,
		Address:     v.Address(),
		ByteSize:    v.ByteSize(),
		NumChildren: v.NumChildren(),
		Summary:     v.Summary(),
	}
	if out.Value == "" && out.Summary != "" {
		out.Value = out.Summary
	}
	if out.NumChildren > 0 {
		out.VariablesReference = int(handle)
		out.IndexedVariables = out.NumChildren
	}
	if out.Address != 0 {
		out.MemoryReference = Address(out.Address)
	}
	return out
}

func Instruction(insn debugger.Instruction) dap.DisassembledInstruction {
	text := insn.Mnemonic
	if insn.Operands != "" {
		text += " " + insn.Operands
	}
	if insn.Comment != "" {
		text += " ; " + insn.Comment
	}
	return dap.DisassembledInstruction{
		Address:          Address(insn.Address),
		InstructionBytes: hexBytes(insn.Bytes),
		Instruction:      text,
		Symbol:           insn.Symbol,
		Location:         Source(insn.Line),
		Line:             int(insn.Line.Line),
	}
}

func Instructions(insns []debugger.Instruction) []dap.DisassembledInstruction {
	return lo.Map(insns, func(insn debugger.Instruction, _ int) dap.DisassembledInstruction {
		return Instruction(insn)
	})
}

func Locations(locs []debugger.BreakpointLocation) []protocol.Location {
	return lo.Map(locs, func(l debugger.BreakpointLocation, _ int) protocol.Location {
		return protocol.Location{
			ID:       l.ID,
			Address:  l.Address,
			File:     l.Line.File,
			Line:     l.Line.Line,
			Column:   l.Line.Column,
			Resolved: l.Resolved,
		}
	})
}

// FirstPosition is the source position of the first resolved location with a file.
func FirstPosition(locs []debugger.BreakpointLocation) *protocol.SourcePosition {
	loc, ok := lo.Find(locs, func(l debugger.BreakpointLocation) bool {
		return l.Resolved && l.Line.File != ""
	})
	if !ok {
		return nil
	}
	return &protocol.SourcePosition{File: loc.Line.File, Line: loc.Line.Line, Column: loc.Line.Column}
}

func Address(a uint64) string {
	return fmt.Sprintf("0x%x", a)
}

func hexBytes(b []byte) string {
	parts := lo.Map(b, func(c byte, _ int) string { return hex.EncodeToString([]byte{c}) })
	return strings.Join(parts, " ")
}
