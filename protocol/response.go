package protocol

import (
	"reflect"

	"github.com/fansqz/debug-session/constants"
	"github.com/google/go-dap"
)

// Response 响应，Hash回填请求中的Hash
type Response struct {
	Hash string `json:"hash,omitempty"`

	CreateTarget        *CreateTargetResponse     `json:"createTarget,omitempty"`
	Launch              *LaunchResponse           `json:"launch,omitempty"`
	Attach              *AttachResponse           `json:"attach,omitempty"`
	Detach              *StatusResponse           `json:"detach,omitempty"`
	Kill                *StatusResponse           `json:"kill,omitempty"`
	Continue            *StatusResponse           `json:"continue,omitempty"`
	Suspend             *StatusResponse           `json:"suspend,omitempty"`
	Step                *StatusResponse           `json:"step,omitempty"`
	RunToAddress        *StatusResponse           `json:"runToAddress,omitempty"`
	RunToLocation       *StatusResponse           `json:"runToLocation,omitempty"`
	AddBreakpoint       *BreakpointResponse       `json:"addBreakpoint,omitempty"`
	RemoveBreakpoint    *StatusResponse           `json:"removeBreakpoint,omitempty"`
	UpdateBreakpoint    *BreakpointResponse       `json:"updateBreakpoint,omitempty"`
	ClearBreakpoints    *ClearBreakpointsResponse `json:"clearBreakpoints,omitempty"`
	ListBreakpoints     *ListBreakpointsResponse  `json:"listBreakpoints,omitempty"`
	GetThreads          *GetThreadsResponse       `json:"getThreads,omitempty"`
	GetFrames           *GetFramesResponse        `json:"getFrames,omitempty"`
	GetVariables        *VariablesResponse        `json:"getVariables,omitempty"`
	GetVariableChildren *VariablesResponse        `json:"getVariableChildren,omitempty"`
	SetVariableValue    *VariableResponse         `json:"setVariableValue,omitempty"`
	GetRegisters        *VariablesResponse        `json:"getRegisters,omitempty"`
	Evaluate            *VariableResponse         `json:"evaluate,omitempty"`
	ReadMemory          *ReadMemoryResponse       `json:"readMemory,omitempty"`
	WriteMemory         *WriteMemoryResponse      `json:"writeMemory,omitempty"`
	Disassemble         *DisassembleResponse      `json:"disassemble,omitempty"`
	ExecuteCommand      *ExecuteCommandResponse   `json:"executeCommand,omitempty"`
	Complete            *CompleteResponse         `json:"complete,omitempty"`
	GetModules          *GetModulesResponse       `json:"getModules,omitempty"`
	GetProcessInfo      *GetProcessInfoResponse   `json:"getProcessInfo,omitempty"`
	SendInput           *StatusResponse           `json:"sendInput,omitempty"`
	Shutdown            *StatusResponse           `json:"shutdown,omitempty"`
}

// StatusResponse is used by requests whose only result is success or failure.
type StatusResponse struct {
	Status
}

type CreateTargetResponse struct {
	Status
	Executable string `json:"executable,omitempty"`
	Triple     string `json:"triple,omitempty"`
}

type LaunchResponse struct {
	Status
	ProcessID int `json:"processId,omitempty"`
}

type AttachResponse struct {
	Status
	ProcessID int `json:"processId,omitempty"`
}

type BreakpointResponse struct {
	Status
	Breakpoint *Breakpoint `json:"breakpoint,omitempty"`
}

type ClearBreakpointsResponse struct {
	Status
	Cleared int `json:"cleared"`
}

type ListBreakpointsResponse struct {
	Status
	Breakpoints []Breakpoint `json:"breakpoints"`
}

type GetThreadsResponse struct {
	Status
	Threads []Thread `json:"threads"`
}

type GetFramesResponse struct {
	Status
	Frames      []dap.StackFrame `json:"frames"`
	TotalFrames int              `json:"totalFrames"`
}

type VariablesResponse struct {
	Status
	Variables []Variable `json:"variables"`
}

type VariableResponse struct {
	Status
	Variable *Variable `json:"variable,omitempty"`
}

type ReadMemoryResponse struct {
	Status
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
}

type WriteMemoryResponse struct {
	Status
	BytesWritten int `json:"bytesWritten"`
}

// DisassembleResponse EndAddress is the first address past the last decoded instruction.
type DisassembleResponse struct {
	Status
	Instructions []dap.DisassembledInstruction `json:"instructions"`
	Alignment    uint32                        `json:"alignment"`
	EndAddress   uint64                        `json:"endAddress"`
}

type ExecuteCommandResponse struct {
	Status
	Output      string `json:"output,omitempty"`
	ErrorOutput string `json:"errorOutput,omitempty"`
}

type CompleteResponse struct {
	Status
	Matches []string `json:"matches"`
}

type GetModulesResponse struct {
	Status
	Modules []Module `json:"modules"`
}

type GetProcessInfoResponse struct {
	Status
	ProcessID       int                    `json:"processId,omitempty"`
	State           constants.ProcessState `json:"state"`
	ExitCode        *int                   `json:"exitCode,omitempty"`
	ExitDescription string                 `json:"exitDescription,omitempty"`
}

// FailedResponse builds the response variant matching req's populated
// request field, with a failed status. Unknown requests get an empty
// response carrying only the hash.
func FailedResponse(req *Request, err error) *Response {
	resp := &Response{Hash: req.Hash}
	field := reflect.ValueOf(resp).Elem().FieldByName(req.Name())
	if !field.IsValid() || field.Kind() != reflect.Ptr {
		return resp
	}
	body := reflect.New(field.Type().Elem())
	status := body.Elem().FieldByName("Status")
	if !status.IsValid() {
		return resp
	}
	status.Set(reflect.ValueOf(Failed(err)))
	field.Set(body)
	return resp
}
