package constants

// DebugMessageType is the kind tag of every wire message.
type DebugMessageType string

const (
	RequestMessage  DebugMessageType = "request"
	ResponseMessage DebugMessageType = "response"
	EventMessage    DebugMessageType = "event"
)

// ProcessState 被调试进程的状态
type ProcessState string

const (
	ProcessUnloaded  ProcessState = "unloaded"
	ProcessConnected ProcessState = "connected"
	ProcessAttaching ProcessState = "attaching"
	ProcessLaunching ProcessState = "launching"
	ProcessRunning   ProcessState = "running"
	ProcessStepping  ProcessState = "stepping"
	ProcessStopped   ProcessState = "stopped"
	ProcessSuspended ProcessState = "suspended"
	ProcessCrashed   ProcessState = "crashed"
	ProcessDetached  ProcessState = "detached"
	ProcessExited    ProcessState = "exited"
	ProcessInvalid   ProcessState = "invalid"
)

// IsTerminal reports whether no further transitions are possible.
func (s ProcessState) IsTerminal() bool {
	return s == ProcessExited || s == ProcessDetached
}

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	StopReasonNone            StoppedReasonType = "none"
	StopReasonBreakpoint      StoppedReasonType = "breakpoint"
	StopReasonWatchpoint      StoppedReasonType = "watchpoint"
	StopReasonSignal          StoppedReasonType = "signal"
	StopReasonException       StoppedReasonType = "exception"
	StopReasonPlanComplete    StoppedReasonType = "step"
	StopReasonTrace           StoppedReasonType = "trace"
	StopReasonThreadExiting   StoppedReasonType = "thread-exiting"
	StopReasonInstrumentation StoppedReasonType = "instrumentation"
	StopReasonExec            StoppedReasonType = "exec"
	StopReasonFork            StoppedReasonType = "fork"
	StopReasonUnknown         StoppedReasonType = "unknown"
)

// BreakpointKind is chosen by whichever location sub-message a request populates.
type BreakpointKind string

const (
	BreakpointLine     BreakpointKind = "line"
	BreakpointAddress  BreakpointKind = "address"
	BreakpointFunction BreakpointKind = "function"
	BreakpointSymbol   BreakpointKind = "symbol"
	BreakpointWatch    BreakpointKind = "watch"
)

// BreakpointReasonType 断点改变类型
type BreakpointReasonType string

const (
	BreakpointAdded             BreakpointReasonType = "added"
	BreakpointRemoved           BreakpointReasonType = "removed"
	BreakpointLocationsAdded    BreakpointReasonType = "locations-added"
	BreakpointLocationsRemoved  BreakpointReasonType = "locations-removed"
	BreakpointLocationsResolved BreakpointReasonType = "locations-resolved"
	BreakpointEnabled           BreakpointReasonType = "enabled"
	BreakpointDisabled          BreakpointReasonType = "disabled"
	BreakpointConditionChanged  BreakpointReasonType = "condition-changed"
	BreakpointCommandChanged    BreakpointReasonType = "command-changed"
	BreakpointChangeUnknown     BreakpointReasonType = "unknown"
)

// ThreadChangeType 线程事件类型
type ThreadChangeType string

const (
	ThreadStackChanged         ThreadChangeType = "stack-changed"
	ThreadSuspended            ThreadChangeType = "suspended"
	ThreadResumed              ThreadChangeType = "resumed"
	ThreadSelectedFrameChanged ThreadChangeType = "selected-frame-changed"
	ThreadSelected             ThreadChangeType = "thread-selected"
)

// OutputCategory matches the DAP output event categories for the debuggee streams.
type OutputCategory string

const (
	OutputStdout OutputCategory = "stdout"
	OutputStderr OutputCategory = "stderr"
)

// StepType 单步调试类型
type StepType string

const (
	StepIn   StepType = "into"
	StepOver StepType = "over"
	StepOut  StepType = "out"
)

// VariableScope selects which frame variables GetVariables returns.
type VariableScope string

const (
	ScopeLocals    VariableScope = "locals"
	ScopeArguments VariableScope = "arguments"
	ScopeStatics   VariableScope = "statics"
)

// ConsoleMode 调试目标的标准输入输出方式
type ConsoleMode string

const (
	// ConsoleInherit leaves stdio to the engine, output arrives as process events.
	ConsoleInherit ConsoleMode = ""
	// ConsolePty allocates a pseudo-terminal owned by the session.
	ConsolePty ConsoleMode = "pty"
	// ConsoleExternal asks the engine for a separate console window where supported.
	ConsoleExternal ConsoleMode = "external"
)

const (
	// MaxMessageSize bounds a single frame in both directions.
	MaxMessageSize = 100 * 1024 * 1024
	// MaxMemoryTransfer bounds one ReadMemory or WriteMemory call.
	MaxMemoryTransfer = 1024 * 1024
	// MaxDisassembleRange bounds the address range of one Disassemble call.
	MaxDisassembleRange = 64 * 1024
)
