// Package debugger describes the native execution-control engine the session
// drives. The engine hands out opaque handles to targets, processes, threads,
// frames and values; every handle reports whether it is still usable through
// IsValid and callers check it before each use.
package debugger

import (
	"errors"
	"reflect"
	"time"
)

// ErrInvalidHandle is returned by Check for nil or invalidated handles.
var ErrInvalidHandle = errors.New("invalid engine handle")

// Validator 所有句柄都实现
type Validator interface {
	IsValid() bool
}

// Check returns ErrInvalidHandle unless h is non-nil and valid.
func Check(h Validator) error {
	if IsNil(h) || !h.IsValid() {
		return ErrInvalidHandle
	}
	return nil
}

// Debugger 调试引擎
// 需要保证并发安全
type Debugger interface {
	// CreateTarget 加载可执行文件
	CreateTarget(path string, opts *TargetOptions) (Target, error)
	// WaitForEvent blocks for at most timeout; ok is false when nothing arrived.
	// A timeout <= 0 only polls.
	WaitForEvent(timeout time.Duration) (ev *Event, ok bool)
	// HandleCommand 执行原始调试器命令
	HandleCommand(command string) (output string, errOutput string, err error)
	// Complete 命令行补全
	Complete(text string, cursor int, maxResults int) []string
	// Close releases the engine. Processes must already be terminated.
	Close() error
}

// Target 调试目标
type Target interface {
	Validator
	Executable() string
	Triple() string
	Launch(opts *LaunchOptions) (Process, error)
	Attach(pid int) (Process, error)
	// Process returns the target's current process, nil when there is none.
	Process() Process

	CreateLineBreakpoint(file string, line uint32, column uint32) (Breakpoint, error)
	CreateAddressBreakpoint(address uint64) (Breakpoint, error)
	CreateFunctionBreakpoint(name string) (Breakpoint, error)
	CreateSymbolBreakpoint(pattern string, regex bool) (Breakpoint, error)
	FindBreakpoint(id int64) Breakpoint
	DeleteBreakpoint(id int64) bool
	FindWatchpoint(id int64) Watchpoint
	DeleteWatchpoint(id int64) bool

	Modules() []Module
	// InstructionAlignment 指令对齐字节数
	InstructionAlignment() uint32
	// Disassemble decodes [start, end), or count instructions when end is 0.
	Disassemble(start, end uint64, count uint32) ([]Instruction, error)
}

// Process 被调试进程
type Process interface {
	Validator
	PID() int
	State() StateType
	ExitStatus() (code int, description string)

	Continue() error
	Stop() error
	// Destroy is the engine's primary teardown path.
	Destroy() error
	Kill() error
	Detach() error

	Threads() []Thread
	ThreadByID(id int64) Thread
	SelectedThread() Thread

	ReadMemory(address uint64, size int) ([]byte, error)
	WriteMemory(address uint64, data []byte) (int, error)
	// ReadStdout and ReadStderr return 0 when nothing is buffered.
	ReadStdout(buf []byte) int
	ReadStderr(buf []byte) int
}

// Signaler is implemented by processes that deliver signals themselves
// instead of the host OS (remote or simulated processes).
type Signaler interface {
	Signal(sig Signal) error
}

// Thread 线程
type Thread interface {
	Validator
	ID() int64
	Index() uint32
	Name() string
	Queue() string
	StopReason() StopReason
	StopDescription() string
	// StopReasonData carries the reason payload: breakpoint/watchpoint id, signal number...
	StopReasonData() []uint64

	NumFrames() int
	Frame(index uint32) Frame

	StepInto() error
	StepOver() error
	StepOut() error
	RunToAddress(address uint64) error
}

// Frame 栈帧
type Frame interface {
	Validator
	Index() uint32
	ThreadID() int64
	PC() uint64
	FunctionName() string
	ModuleName() string
	LineEntry() LineEntry

	Variables(filter VariableFilter) []Value
	Registers() []Value
	FindVariable(name string) Value
	Evaluate(expression string) (Value, error)
}

// Value 变量值，当栈帧或线程继续执行后失效
type Value interface {
	Validator
	Name() string
	TypeName() string
	Value() string
	Summary() string
	Address() uint64
	ByteSize() uint64
	NumChildren() int
	Child(index int) Value
	SetValue(value string) error
	Watch(read, write bool) (Watchpoint, error)
}

// Breakpoint 引擎中的断点
type Breakpoint interface {
	Validator
	ID() int64
	Locations() []BreakpointLocation
	SetEnabled(enabled bool)
	SetCondition(condition string)
	SetIgnoreCount(count uint32)
	SetThreadID(id int64)
	SetOneShot(oneShot bool)
}

// Watchpoint 引擎中的观察点
type Watchpoint interface {
	Validator
	ID() int64
	WatchAddress() uint64
	WatchSize() uint64
	SetEnabled(enabled bool)
	SetCondition(condition string)
	SetIgnoreCount(count uint32)
}

// IsNil also catches typed nil pointers stored in an interface.
func IsNil(h interface{}) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
