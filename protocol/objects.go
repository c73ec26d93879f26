package protocol

import (
	"github.com/fansqz/debug-session/constants"
	"github.com/google/go-dap"
)

// Variable is a value surfaced to the client. Handle stands in for the engine
// value; VariablesReference mirrors it when the value has children.
type Variable struct {
	dap.Variable
	Handle      uint64 `json:"handle"`
	Address     uint64 `json:"address,omitempty"`
	ByteSize    uint64 `json:"byteSize,omitempty"`
	NumChildren int    `json:"numChildren"`
	Summary     string `json:"summary,omitempty"`
}

// Thread 线程描述
type Thread struct {
	dap.Thread
	Index           uint32                      `json:"index"`
	Queue           string                      `json:"queue,omitempty"`
	StopReason      constants.StoppedReasonType `json:"stopReason,omitempty"`
	StopDescription string                      `json:"stopDescription,omitempty"`
	Frame           *dap.StackFrame             `json:"frame,omitempty"`
}

// Module adds the base load address to the DAP module description.
type Module struct {
	dap.Module
	UUID        string `json:"uuid"`
	LoadAddress uint64 `json:"loadAddress"`
}

// Location is one resolved (or pending) site of a breakpoint.
type Location struct {
	ID       int64  `json:"id"`
	Address  uint64 `json:"address"`
	File     string `json:"file,omitempty"`
	Line     uint32 `json:"line,omitempty"`
	Column   uint32 `json:"column,omitempty"`
	Resolved bool   `json:"resolved"`
}

// SourcePosition 源码位置
type SourcePosition struct {
	File   string `json:"file"`
	Line   uint32 `json:"line"`
	Column uint32 `json:"column,omitempty"`
}

// Breakpoint 断点记录
type Breakpoint struct {
	ID           int64                    `json:"id"`
	Kind         constants.BreakpointKind `json:"kind"`
	Line         *LineLocation            `json:"line,omitempty"`
	Address      *AddressLocation         `json:"address,omitempty"`
	Function     *FunctionLocation        `json:"function,omitempty"`
	Symbol       *SymbolLocation          `json:"symbol,omitempty"`
	Watch        *WatchLocation           `json:"watch,omitempty"`
	Condition    string                   `json:"condition,omitempty"`
	Enabled      bool                     `json:"enabled"`
	IgnoreCount  uint32                   `json:"ignoreCount,omitempty"`
	ThreadFilter *int32                   `json:"threadFilter,omitempty"`
	OneShot      bool                     `json:"oneShot,omitempty"`
	Locations    []Location               `json:"locations"`
}
