package protocol

import (
	"github.com/fansqz/debug-session/constants"
)

// Request 客户端请求，只允许填充一个变体字段
type Request struct {
	// Hash 由客户端提供，原样回填到响应中
	Hash string `json:"hash,omitempty"`

	CreateTarget        *CreateTargetRequest        `json:"createTarget,omitempty"`
	Launch              *LaunchRequest              `json:"launch,omitempty"`
	Attach              *AttachRequest              `json:"attach,omitempty"`
	Detach              *DetachRequest              `json:"detach,omitempty"`
	Kill                *KillRequest                `json:"kill,omitempty"`
	Continue            *ContinueRequest            `json:"continue,omitempty"`
	Suspend             *SuspendRequest             `json:"suspend,omitempty"`
	Step                *StepRequest                `json:"step,omitempty"`
	RunToAddress        *RunToAddressRequest        `json:"runToAddress,omitempty"`
	RunToLocation       *RunToLocationRequest       `json:"runToLocation,omitempty"`
	AddBreakpoint       *AddBreakpointRequest       `json:"addBreakpoint,omitempty"`
	RemoveBreakpoint    *RemoveBreakpointRequest    `json:"removeBreakpoint,omitempty"`
	UpdateBreakpoint    *UpdateBreakpointRequest    `json:"updateBreakpoint,omitempty"`
	ClearBreakpoints    *ClearBreakpointsRequest    `json:"clearBreakpoints,omitempty"`
	ListBreakpoints     *ListBreakpointsRequest     `json:"listBreakpoints,omitempty"`
	GetThreads          *GetThreadsRequest          `json:"getThreads,omitempty"`
	GetFrames           *GetFramesRequest           `json:"getFrames,omitempty"`
	GetVariables        *GetVariablesRequest        `json:"getVariables,omitempty"`
	GetVariableChildren *GetVariableChildrenRequest `json:"getVariableChildren,omitempty"`
	SetVariableValue    *SetVariableValueRequest    `json:"setVariableValue,omitempty"`
	GetRegisters        *GetRegistersRequest        `json:"getRegisters,omitempty"`
	Evaluate            *EvaluateRequest            `json:"evaluate,omitempty"`
	ReadMemory          *ReadMemoryRequest          `json:"readMemory,omitempty"`
	WriteMemory         *WriteMemoryRequest         `json:"writeMemory,omitempty"`
	Disassemble         *DisassembleRequest         `json:"disassemble,omitempty"`
	ExecuteCommand      *ExecuteCommandRequest      `json:"executeCommand,omitempty"`
	Complete            *CompleteRequest            `json:"complete,omitempty"`
	GetModules          *GetModulesRequest          `json:"getModules,omitempty"`
	GetProcessInfo      *GetProcessInfoRequest      `json:"getProcessInfo,omitempty"`
	SendInput           *SendInputRequest           `json:"sendInput,omitempty"`
	Shutdown            *ShutdownRequest            `json:"shutdown,omitempty"`
}

// CreateTargetRequest 创建调试目标
type CreateTargetRequest struct {
	FilePath string `json:"filePath"`
	Triple   string `json:"triple,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// LaunchRequest 启动被调试进程
type LaunchRequest struct {
	ExecutablePath   string                `json:"executablePath"`
	Argv             []string              `json:"argv,omitempty"`
	Env              []string              `json:"env,omitempty"`
	WorkingDirectory string                `json:"workingDirectory,omitempty"`
	ConsoleMode      constants.ConsoleMode `json:"consoleMode,omitempty"`
	StdinPath        string                `json:"stdinPath,omitempty"`
	StdoutPath       string                `json:"stdoutPath,omitempty"`
	StderrPath       string                `json:"stderrPath,omitempty"`
	DisableASLR      bool                  `json:"disableAslr,omitempty"`
	StopAtEntry      bool                  `json:"stopAtEntry,omitempty"`
}

// AttachRequest 附加到已有进程
type AttachRequest struct {
	PID int `json:"pid"`
}

type DetachRequest struct{}

type KillRequest struct{}

type ContinueRequest struct{}

type SuspendRequest struct{}

// StepRequest 单步调试，ThreadID为0时使用当前选中线程
type StepRequest struct {
	Kind     constants.StepType `json:"kind"`
	ThreadID int64              `json:"threadId,omitempty"`
}

type RunToAddressRequest struct {
	Address  uint64 `json:"address"`
	ThreadID int64  `json:"threadId,omitempty"`
}

// RunToLocationRequest 通过一次性断点运行到指定源码位置
type RunToLocationRequest struct {
	File     string `json:"file"`
	Line     uint32 `json:"line"`
	ThreadID int64  `json:"threadId,omitempty"`
}

// AddBreakpointRequest populates exactly one of the location sub-messages.
type AddBreakpointRequest struct {
	Line     *LineLocation     `json:"line,omitempty"`
	Address  *AddressLocation  `json:"address,omitempty"`
	Function *FunctionLocation `json:"function,omitempty"`
	Symbol   *SymbolLocation   `json:"symbol,omitempty"`
	Watch    *WatchLocation    `json:"watch,omitempty"`

	Condition    string `json:"condition,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
	IgnoreCount  uint32 `json:"ignoreCount,omitempty"`
	ThreadFilter *int32 `json:"threadFilter,omitempty"`
	OneShot      bool   `json:"oneShot,omitempty"`
}

type LineLocation struct {
	File   string `json:"file"`
	Line   uint32 `json:"line"`
	Column uint32 `json:"column,omitempty"`
}

type AddressLocation struct {
	Address uint64 `json:"address"`
}

type FunctionLocation struct {
	Name string `json:"name"`
}

// SymbolLocation matches symbols by pattern, as a regular expression when Regex is set.
type SymbolLocation struct {
	Pattern string `json:"pattern"`
	Regex   bool   `json:"regex,omitempty"`
}

// WatchLocation 监视某个栈帧中的变量
type WatchLocation struct {
	Variable   string `json:"variable"`
	ThreadID   int64  `json:"threadId,omitempty"`
	FrameIndex uint32 `json:"frameIndex,omitempty"`
	Read       bool   `json:"read,omitempty"`
	Write      bool   `json:"write,omitempty"`
}

type RemoveBreakpointRequest struct {
	ID int64 `json:"id"`
}

// UpdateBreakpointRequest changes only the fields that are set.
type UpdateBreakpointRequest struct {
	ID          int64   `json:"id"`
	Enabled     *bool   `json:"enabled,omitempty"`
	Condition   *string `json:"condition,omitempty"`
	IgnoreCount *uint32 `json:"ignoreCount,omitempty"`
}

type ClearBreakpointsRequest struct{}

// ListBreakpointsRequest 按种类过滤，为空时返回全部
type ListBreakpointsRequest struct {
	Kinds []constants.BreakpointKind `json:"kinds,omitempty"`
	File  string                     `json:"file,omitempty"`
	Line  uint32                     `json:"line,omitempty"`
}

type GetThreadsRequest struct{}

type GetFramesRequest struct {
	ThreadID   int64  `json:"threadId"`
	StartIndex uint32 `json:"startIndex,omitempty"`
	Count      uint32 `json:"count,omitempty"`
}

type GetVariablesRequest struct {
	ThreadID   int64                     `json:"threadId"`
	FrameIndex uint32                    `json:"frameIndex"`
	Scopes     []constants.VariableScope `json:"scopes,omitempty"`
}

type GetVariableChildrenRequest struct {
	Handle uint64 `json:"handle"`
	Start  uint32 `json:"start,omitempty"`
	Count  uint32 `json:"count,omitempty"`
}

type SetVariableValueRequest struct {
	Handle uint64 `json:"handle"`
	Value  string `json:"value"`
}

type GetRegistersRequest struct {
	ThreadID   int64  `json:"threadId"`
	FrameIndex uint32 `json:"frameIndex"`
}

type EvaluateRequest struct {
	Expression string `json:"expression"`
	ThreadID   int64  `json:"threadId,omitempty"`
	FrameIndex uint32 `json:"frameIndex,omitempty"`
}

type ReadMemoryRequest struct {
	Address uint64 `json:"address"`
	Size    uint32 `json:"size"`
}

type WriteMemoryRequest struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
}

// DisassembleRequest covers [StartAddress, EndAddress), or Count instructions
// from StartAddress when EndAddress is zero.
type DisassembleRequest struct {
	StartAddress uint64 `json:"startAddress"`
	EndAddress   uint64 `json:"endAddress,omitempty"`
	Count        uint32 `json:"count,omitempty"`
}

// ExecuteCommandRequest 直接执行调试器命令
type ExecuteCommandRequest struct {
	Command string `json:"command"`
}

type CompleteRequest struct {
	Text       string `json:"text"`
	Cursor     int    `json:"cursor"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type GetModulesRequest struct{}

type GetProcessInfoRequest struct{}

// SendInputRequest 输入到被调试进程的控制台
type SendInputRequest struct {
	Content string `json:"content"`
}

type ShutdownRequest struct{}

// Name returns the populated variant, or "" when none is set.
func (r *Request) Name() string {
	switch {
	case r.CreateTarget != nil:
		return "CreateTarget"
	case r.Launch != nil:
		return "Launch"
	case r.Attach != nil:
		return "Attach"
	case r.Detach != nil:
		return "Detach"
	case r.Kill != nil:
		return "Kill"
	case r.Continue != nil:
		return "Continue"
	case r.Suspend != nil:
		return "Suspend"
	case r.Step != nil:
		return "Step"
	case r.RunToAddress != nil:
		return "RunToAddress"
	case r.RunToLocation != nil:
		return "RunToLocation"
	case r.AddBreakpoint != nil:
		return "AddBreakpoint"
	case r.RemoveBreakpoint != nil:
		return "RemoveBreakpoint"
	case r.UpdateBreakpoint != nil:
		return "UpdateBreakpoint"
	case r.ClearBreakpoints != nil:
		return "ClearBreakpoints"
	case r.ListBreakpoints != nil:
		return "ListBreakpoints"
	case r.GetThreads != nil:
		return "GetThreads"
	case r.GetFrames != nil:
		return "GetFrames"
	case r.GetVariables != nil:
		return "GetVariables"
	case r.GetVariableChildren != nil:
		return "GetVariableChildren"
	case r.SetVariableValue != nil:
		return "SetVariableValue"
	case r.GetRegisters != nil:
		return "GetRegisters"
	case r.Evaluate != nil:
		return "Evaluate"
	case r.ReadMemory != nil:
		return "ReadMemory"
	case r.WriteMemory != nil:
		return "WriteMemory"
	case r.Disassemble != nil:
		return "Disassemble"
	case r.ExecuteCommand != nil:
		return "ExecuteCommand"
	case r.Complete != nil:
		return "Complete"
	case r.GetModules != nil:
		return "GetModules"
	case r.GetProcessInfo != nil:
		return "GetProcessInfo"
	case r.SendInput != nil:
		return "SendInput"
	case r.Shutdown != nil:
		return "Shutdown"
	}
	return ""
}
