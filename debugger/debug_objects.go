package debugger

import (
	"os"
	"syscall"
)

// StateType 引擎中的进程状态
type StateType int

const (
	StateInvalid StateType = iota
	StateUnloaded
	StateConnected
	StateAttaching
	StateLaunching
	StateStopped
	StateRunning
	StateStepping
	StateCrashed
	StateDetached
	StateExited
	StateSuspended
)

var stateNames = map[StateType]string{
	StateInvalid:   "invalid",
	StateUnloaded:  "unloaded",
	StateConnected: "connected",
	StateAttaching: "attaching",
	StateLaunching: "launching",
	StateStopped:   "stopped",
	StateRunning:   "running",
	StateStepping:  "stepping",
	StateCrashed:   "crashed",
	StateDetached:  "detached",
	StateExited:    "exited",
	StateSuspended: "suspended",
}

func (s StateType) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// IsTerminal exited and detached processes cannot change state again.
func (s StateType) IsTerminal() bool {
	return s == StateExited || s == StateDetached
}

// IsAlive 进程仍然存在
func (s StateType) IsAlive() bool {
	switch s {
	case StateAttaching, StateLaunching, StateStopped, StateRunning, StateStepping, StateCrashed, StateSuspended:
		return true
	}
	return false
}

// StopReason 线程停止原因
type StopReason int

const (
	StopReasonInvalid StopReason = iota
	StopReasonNone
	StopReasonTrace
	StopReasonBreakpoint
	StopReasonWatchpoint
	StopReasonSignal
	StopReasonException
	StopReasonExec
	StopReasonPlanComplete
	StopReasonThreadExiting
	StopReasonInstrumentation
	StopReasonFork
)

// BreakpointEventType 断点变化类型
type BreakpointEventType int

const (
	BreakpointEventInvalid BreakpointEventType = iota
	BreakpointEventAdded
	BreakpointEventRemoved
	BreakpointEventLocationsAdded
	BreakpointEventLocationsRemoved
	BreakpointEventLocationsResolved
	BreakpointEventEnabled
	BreakpointEventDisabled
	BreakpointEventConditionChanged
	BreakpointEventCommandChanged
)

// VariableFilter selects the frame variables returned by Frame.Variables.
type VariableFilter struct {
	Arguments bool
	Locals    bool
	Statics   bool
}

// EventSource 事件来源
type EventSource int

const (
	SourceProcess EventSource = iota + 1
	SourceTarget
	SourceBreakpoint
	SourceThread
)

// EventType is a bitmask; one process event may carry a state change plus
// stdout/stderr availability.
type EventType uint32

const (
	// process
	EventStateChanged EventType = 1 << iota
	EventSTDOUT
	EventSTDERR
	// target
	EventModulesLoaded
	EventModulesUnloaded
	EventSymbolsLoaded
	EventTargetBreakpointChanged
	// thread
	EventStackChanged
	EventThreadSuspended
	EventThreadResumed
	EventSelectedFrameChanged
	EventThreadSelected
)

// Has 是否包含某个事件位
func (t EventType) Has(bit EventType) bool {
	return t&bit != 0
}

// Event 引擎产生的事件
type Event struct {
	Source EventSource
	Type   EventType

	// process events
	Process Process
	State   StateType

	// target events
	Target  Target
	Modules []Module

	// breakpoint events, and target events of kind EventTargetBreakpointChanged
	BreakpointID    int64
	BreakpointEvent BreakpointEventType
	Watch           bool

	// thread events
	Thread Thread
}

// Section 模块中的段
type Section struct {
	Name        string
	LoadAddress uint64
	Size        uint64
}

// Module 已加载的模块
type Module struct {
	UUID     string
	Name     string
	Path     string
	Sections []Section
	// SymbolsLoaded is false until debug info for the module has been read.
	SymbolsLoaded bool
}

// LineEntry 源码位置
type LineEntry struct {
	File   string
	Line   uint32
	Column uint32
}

// BreakpointLocation 断点的一个解析位置
type BreakpointLocation struct {
	ID       int64
	Address  uint64
	Line     LineEntry
	Resolved bool
}

// Instruction 一条反汇编指令
type Instruction struct {
	Address  uint64
	Bytes    []byte
	Mnemonic string
	Operands string
	Comment  string
	Symbol   string
	Line     LineEntry
}

// TargetOptions 创建调试目标的参数
type TargetOptions struct {
	Triple   string
	Platform string
}

// LaunchOptions 启动进程的参数
type LaunchOptions struct {
	Argv             []string
	Env              []string
	WorkingDirectory string
	// StdinPath etc. redirect the debuggee's stdio; empty leaves it to the engine.
	StdinPath       string
	StdoutPath      string
	StderrPath      string
	DisableASLR     bool
	StopAtEntry     bool
	ExternalConsole bool
}

// Signal is the subset of os.Signal the lifecycle controller sends.
type Signal = os.Signal

var (
	SIGTERM Signal = syscall.SIGTERM
	SIGKILL Signal = syscall.SIGKILL
)
