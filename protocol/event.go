package protocol

import (
	"github.com/fansqz/debug-session/constants"
	"github.com/google/go-dap"
)

// Event 服务端主动推送的事件，不与请求配对
type Event struct {
	Hash string `json:"hash,omitempty"`

	ProcessStateChanged      *ProcessStateChangedEvent      `json:"processStateChanged,omitempty"`
	ProcessOutput            *ProcessOutputEvent            `json:"processOutput,omitempty"`
	ModulesLoaded            *ModulesEvent                  `json:"modulesLoaded,omitempty"`
	ModulesUnloaded          *ModulesEvent                  `json:"modulesUnloaded,omitempty"`
	SymbolsLoaded            *ModulesEvent                  `json:"symbolsLoaded,omitempty"`
	TargetBreakpointsChanged *TargetBreakpointsChangedEvent `json:"targetBreakpointsChanged,omitempty"`
	BreakpointChanged        *BreakpointChangedEvent        `json:"breakpointChanged,omitempty"`
	ThreadChanged            *ThreadChangedEvent            `json:"threadChanged,omitempty"`
}

// ProcessStateChangedEvent carries at most one detail payload, chosen by State.
type ProcessStateChangedEvent struct {
	State     constants.ProcessState `json:"state"`
	ProcessID int                    `json:"processId,omitempty"`
	Stopped   *StoppedDetails        `json:"stopped,omitempty"`
	Running   *RunningDetails        `json:"running,omitempty"`
	Exited    *ExitedDetails         `json:"exited,omitempty"`
}

// StoppedDetails 停止原因以及当前栈帧
type StoppedDetails struct {
	ThreadID     int64                       `json:"threadId"`
	Reason       constants.StoppedReasonType `json:"reason"`
	Description  string                      `json:"description,omitempty"`
	BreakpointID int64                       `json:"breakpointId,omitempty"`
	WatchpointID int64                       `json:"watchpointId,omitempty"`
	Signal       int                         `json:"signal,omitempty"`
	Frame        *dap.StackFrame             `json:"frame,omitempty"`
}

type RunningDetails struct {
	ThreadID          int64 `json:"threadId,omitempty"`
	AllThreadsRunning bool  `json:"allThreadsRunning"`
}

type ExitedDetails struct {
	ExitCode    int    `json:"exitCode"`
	Description string `json:"description,omitempty"`
}

// ProcessOutputEvent 被调试进程的输出
type ProcessOutputEvent struct {
	Category constants.OutputCategory `json:"category"`
	Output   string                   `json:"output"`
}

type ModulesEvent struct {
	Modules []Module `json:"modules"`
}

type TargetBreakpointsChangedEvent struct {
	BreakpointIDs []int64 `json:"breakpointIds,omitempty"`
}

// BreakpointChangedEvent Location is the first resolved source position, if any.
type BreakpointChangedEvent struct {
	BreakpointID int64                          `json:"breakpointId"`
	ChangeType   constants.BreakpointReasonType `json:"changeType"`
	Location     *SourcePosition                `json:"location,omitempty"`
}

type ThreadChangedEvent struct {
	ChangeType constants.ThreadChangeType `json:"changeType"`
	Thread     Thread                     `json:"thread"`
}

// Name returns the populated variant, or "" when none is set.
func (ev *Event) Name() string {
	switch {
	case ev.ProcessStateChanged != nil:
		return "ProcessStateChanged"
	case ev.ProcessOutput != nil:
		return "ProcessOutput"
	case ev.ModulesLoaded != nil:
		return "ModulesLoaded"
	case ev.ModulesUnloaded != nil:
		return "ModulesUnloaded"
	case ev.SymbolsLoaded != nil:
		return "SymbolsLoaded"
	case ev.TargetBreakpointsChanged != nil:
		return "TargetBreakpointsChanged"
	case ev.BreakpointChanged != nil:
		return "BreakpointChanged"
	case ev.ThreadChanged != nil:
		return "ThreadChanged"
	}
	return ""
}
