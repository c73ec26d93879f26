package session

import (
	"fmt"
	"math"

	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/convert"
	"github.com/fansqz/debug-session/debugger"
	e "github.com/fansqz/debug-session/error"
	"github.com/fansqz/debug-session/protocol"
	"github.com/fansqz/debug-session/variables"
	"github.com/google/go-dap"
	"github.com/samber/lo"
)

// statusOf nil错误表示成功
func statusOf(err error) *protocol.StatusResponse {
	return &protocol.StatusResponse{Status: protocol.Failed(err)}
}

func engineErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", e.ErrEngineFailure, op, err)
}

func missing(what string) error {
	return fmt.Errorf("%w: %s", e.ErrMissingArgument, what)
}

func (s *Session) currentTarget() (debugger.Target, error) {
	target := s.Target()
	if debugger.Check(target) != nil {
		return nil, e.ErrNoTarget
	}
	return target, nil
}

func (s *Session) currentProcess() (debugger.Process, error) {
	p := s.Process()
	if debugger.Check(p) != nil {
		return nil, e.ErrNoProcess
	}
	return p, nil
}

// thread 0表示当前选中的线程
func (s *Session) thread(id int64) (debugger.Thread, error) {
	p, err := s.currentProcess()
	if err != nil {
		return nil, err
	}
	var th debugger.Thread
	if id == 0 {
		th = p.SelectedThread()
	} else {
		th = p.ThreadByID(id)
	}
	if debugger.Check(th) != nil {
		return nil, fmt.Errorf("%w: %d", e.ErrNoThread, id)
	}
	return th, nil
}

func (s *Session) frame(threadID int64, index uint32) (debugger.Frame, error) {
	th, err := s.thread(threadID)
	if err != nil {
		return nil, err
	}
	if int(index) >= th.NumFrames() {
		return nil, fmt.Errorf("%w: %d (thread %d has %d)", e.ErrNoFrame, index, th.ID(), th.NumFrames())
	}
	f := th.Frame(index)
	if debugger.Check(f) != nil {
		return nil, fmt.Errorf("%w: %d", e.ErrNoFrame, index)
	}
	return f, nil
}

func contextOf(f debugger.Frame) variables.Context {
	return variables.Context{ThreadID: f.ThreadID(), FrameIndex: f.Index()}
}

// surface registers v and converts it for the wire.
func (s *Session) surface(f debugger.Frame, v debugger.Value) protocol.Variable {
	handle := s.variables.Allocate(contextOf(f), v)
	return convert.Variable(v, handle)
}

func (s *Session) surfaceAll(f debugger.Frame, vs []debugger.Value) []protocol.Variable {
	out := make([]protocol.Variable, 0, len(vs))
	for _, v := range vs {
		if debugger.Check(v) != nil {
			continue
		}
		out = append(out, s.surface(f, v))
	}
	return out
}

func (s *Session) onCreateTarget(r *protocol.CreateTargetRequest) *protocol.CreateTargetResponse {
	target, err := s.createTarget(r.FilePath, &debugger.TargetOptions{Triple: r.Triple, Platform: r.Platform})
	if err != nil {
		return &protocol.CreateTargetResponse{Status: protocol.Failed(err)}
	}
	return &protocol.CreateTargetResponse{
		Status:     protocol.OK(),
		Executable: target.Executable(),
		Triple:     target.Triple(),
	}
}

func (s *Session) createTarget(path string, opts *debugger.TargetOptions) (debugger.Target, error) {
	if path == "" {
		return nil, missing("file path")
	}
	if p := s.Process(); debugger.Check(p) == nil && p.State().IsAlive() {
		return nil, fmt.Errorf("%w: pid %d", e.ErrTargetBusy, p.PID())
	}
	// 旧目标上的断点随目标一起失效
	if old := s.Target(); debugger.Check(old) == nil {
		if _, err := s.breakpoints.ClearAll(old); err != nil {
			s.log.Warnf("[Session] clear breakpoints of previous target: %v", err)
		}
	}
	target, err := s.engine.CreateTarget(path, opts)
	if err != nil {
		return nil, engineErr("create target", err)
	}
	if err = debugger.Check(target); err != nil {
		return nil, engineErr("create target", err)
	}
	s.mu.Lock()
	s.target, s.process = target, nil
	s.mu.Unlock()
	s.variables.Clear()
	s.ensurePipeline()
	s.log.Infof("[Session] target created: %s", target.Executable())
	return target, nil
}

func (s *Session) onLaunch(r *protocol.LaunchRequest) *protocol.LaunchResponse {
	target := s.Target()
	if debugger.Check(target) != nil {
		if r.ExecutablePath == "" {
			return &protocol.LaunchResponse{Status: protocol.Failed(e.ErrNoTarget)}
		}
		var err error
		if target, err = s.createTarget(r.ExecutablePath, nil); err != nil {
			return &protocol.LaunchResponse{Status: protocol.Failed(err)}
		}
	}
	opts := &debugger.LaunchOptions{
		Argv:             r.Argv,
		Env:              r.Env,
		WorkingDirectory: r.WorkingDirectory,
		StdinPath:        r.StdinPath,
		StdoutPath:       r.StdoutPath,
		StderrPath:       r.StderrPath,
		DisableASLR:      r.DisableASLR,
		StopAtEntry:      r.StopAtEntry,
		ExternalConsole:  r.ConsoleMode == constants.ConsoleExternal,
	}
	var c *console
	if r.ConsoleMode == constants.ConsolePty {
		var err error
		if c, err = openConsole(); err != nil {
			return &protocol.LaunchResponse{Status: protocol.Failed(err)}
		}
		opts.StdinPath, opts.StdoutPath, opts.StderrPath = c.Path(), c.Path(), c.Path()
	}

	s.ensurePipeline()
	p, err := target.Launch(opts)
	if err == nil {
		err = debugger.Check(p)
	}
	if err != nil {
		if c != nil {
			c.Close()
		}
		return &protocol.LaunchResponse{Status: protocol.Failed(engineErr("launch", err))}
	}
	s.adopt(p, c)
	s.log.Infof("[Session] launched %s, pid = %d", target.Executable(), p.PID())
	return &protocol.LaunchResponse{Status: protocol.OK(), ProcessID: p.PID()}
}

// adopt makes p the current process and replaces the previous console.
func (s *Session) adopt(p debugger.Process, c *console) {
	s.mu.Lock()
	old := s.console
	s.process, s.console = p, c
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	s.variables.Clear()
	if c != nil {
		c.Start(s.ctx, s.opts.Events.OutputChunkSize, s.Broadcast)
	}
}

func (s *Session) onAttach(r *protocol.AttachRequest) *protocol.AttachResponse {
	if r.PID <= 0 {
		return &protocol.AttachResponse{Status: protocol.Failed(missing("pid"))}
	}
	target, err := s.currentTarget()
	if err != nil {
		return &protocol.AttachResponse{Status: protocol.Failed(err)}
	}
	s.ensurePipeline()
	p, err := target.Attach(r.PID)
	if err == nil {
		err = debugger.Check(p)
	}
	if err != nil {
		return &protocol.AttachResponse{Status: protocol.Failed(engineErr("attach", err))}
	}
	s.adopt(p, nil)
	s.log.Infof("[Session] attached to pid %d", p.PID())
	return &protocol.AttachResponse{Status: protocol.OK(), ProcessID: p.PID()}
}

// processOp runs a process-wide operation and sweeps handles the operation
// invalidated.
func (s *Session) processOp(op string, fn func(p debugger.Process) error) *protocol.StatusResponse {
	p, err := s.currentProcess()
	if err != nil {
		return statusOf(err)
	}
	if err = fn(p); err != nil {
		return statusOf(engineErr(op, err))
	}
	s.variables.SweepInvalid()
	return statusOf(nil)
}

func (s *Session) onDetach() *protocol.StatusResponse {
	return s.processOp("detach", func(p debugger.Process) error { return p.Detach() })
}

func (s *Session) onKill() *protocol.StatusResponse {
	return s.processOp("kill", func(p debugger.Process) error { return p.Kill() })
}

func (s *Session) onContinue() *protocol.StatusResponse {
	return s.processOp("continue", func(p debugger.Process) error { return p.Continue() })
}

func (s *Session) onSuspend() *protocol.StatusResponse {
	return s.processOp("suspend", func(p debugger.Process) error { return p.Stop() })
}

func (s *Session) onStep(r *protocol.StepRequest) *protocol.StatusResponse {
	th, err := s.thread(r.ThreadID)
	if err != nil {
		return statusOf(err)
	}
	switch r.Kind {
	case constants.StepIn:
		err = th.StepInto()
	case constants.StepOver:
		err = th.StepOver()
	case constants.StepOut:
		err = th.StepOut()
	default:
		return statusOf(fmt.Errorf("%w: step kind %q", e.ErrMissingArgument, r.Kind))
	}
	if err != nil {
		return statusOf(engineErr("step "+string(r.Kind), err))
	}
	s.variables.SweepInvalid()
	return statusOf(nil)
}

func (s *Session) onRunToAddress(r *protocol.RunToAddressRequest) *protocol.StatusResponse {
	if r.Address == 0 {
		return statusOf(missing("address"))
	}
	th, err := s.thread(r.ThreadID)
	if err != nil {
		return statusOf(err)
	}
	if err = th.RunToAddress(r.Address); err != nil {
		return statusOf(engineErr("run to address", err))
	}
	s.variables.SweepInvalid()
	return statusOf(nil)
}

// onRunToLocation sets a one-shot breakpoint at the location and continues.
func (s *Session) onRunToLocation(r *protocol.RunToLocationRequest) *protocol.StatusResponse {
	if r.File == "" || r.Line == 0 {
		return statusOf(missing("file and line"))
	}
	// 断点的线程过滤只支持int32
	if r.ThreadID > math.MaxInt32 || r.ThreadID < math.MinInt32 {
		return statusOf(fmt.Errorf("%w: %d", e.ErrNoThread, r.ThreadID))
	}
	target, err := s.currentTarget()
	if err != nil {
		return statusOf(err)
	}
	p, err := s.currentProcess()
	if err != nil {
		return statusOf(err)
	}
	req := &protocol.AddBreakpointRequest{
		Line:    &protocol.LineLocation{File: r.File, Line: r.Line},
		OneShot: true,
	}
	if r.ThreadID != 0 {
		tid := int32(r.ThreadID)
		req.ThreadFilter = &tid
	}
	bp, err := s.breakpoints.Create(target, req)
	if err != nil {
		return statusOf(err)
	}
	if !lo.ContainsBy(bp.Locations, func(l protocol.Location) bool { return l.Resolved }) {
		_ = s.breakpoints.Remove(target, bp.ID)
		return statusOf(fmt.Errorf("%w: %s:%d has no code", e.ErrEngineFailure, r.File, r.Line))
	}
	if err = p.Continue(); err != nil {
		_ = s.breakpoints.Remove(target, bp.ID)
		return statusOf(engineErr("continue", err))
	}
	s.variables.SweepInvalid()
	return statusOf(nil)
}

func (s *Session) onAddBreakpoint(r *protocol.AddBreakpointRequest) *protocol.BreakpointResponse {
	target, err := s.currentTarget()
	if err != nil {
		return &protocol.BreakpointResponse{Status: protocol.Failed(err)}
	}
	bp, err := s.breakpoints.Create(target, r)
	if err != nil {
		return &protocol.BreakpointResponse{Status: protocol.Failed(err)}
	}
	return &protocol.BreakpointResponse{Status: protocol.OK(), Breakpoint: &bp}
}

func (s *Session) onRemoveBreakpoint(r *protocol.RemoveBreakpointRequest) *protocol.StatusResponse {
	return statusOf(s.breakpoints.Remove(s.Target(), r.ID))
}

func (s *Session) onUpdateBreakpoint(r *protocol.UpdateBreakpointRequest) *protocol.BreakpointResponse {
	bp, err := s.breakpoints.Update(s.Target(), r)
	if err != nil {
		return &protocol.BreakpointResponse{Status: protocol.Failed(err)}
	}
	return &protocol.BreakpointResponse{Status: protocol.OK(), Breakpoint: &bp}
}

func (s *Session) onClearBreakpoints() *protocol.ClearBreakpointsResponse {
	cleared, err := s.breakpoints.ClearAll(s.Target())
	return &protocol.ClearBreakpointsResponse{Status: protocol.Failed(err), Cleared: cleared}
}

func (s *Session) onListBreakpoints(r *protocol.ListBreakpointsRequest) *protocol.ListBreakpointsResponse {
	if r.File != "" && r.Line != 0 {
		return &protocol.ListBreakpointsResponse{Status: protocol.OK(), Breakpoints: s.breakpoints.AllByLegacyKey(r.File, r.Line)}
	}
	return &protocol.ListBreakpointsResponse{Status: protocol.OK(), Breakpoints: s.breakpoints.ByKind(r.Kinds...)}
}

func (s *Session) onGetThreads() *protocol.GetThreadsResponse {
	p, err := s.currentProcess()
	if err != nil {
		return &protocol.GetThreadsResponse{Status: protocol.Failed(err)}
	}
	threads := lo.FilterMap(p.Threads(), func(th debugger.Thread, _ int) (protocol.Thread, bool) {
		if debugger.Check(th) != nil {
			return protocol.Thread{}, false
		}
		return convert.Thread(th), true
	})
	return &protocol.GetThreadsResponse{Status: protocol.OK(), Threads: threads}
}

func (s *Session) onGetFrames(r *protocol.GetFramesRequest) *protocol.GetFramesResponse {
	th, err := s.thread(r.ThreadID)
	if err != nil {
		return &protocol.GetFramesResponse{Status: protocol.Failed(err)}
	}
	total := th.NumFrames()
	end := total
	if r.Count > 0 && int(r.StartIndex)+int(r.Count) < total {
		end = int(r.StartIndex) + int(r.Count)
	}
	frames := []dap.StackFrame{}
	for i := int(r.StartIndex); i < end; i++ {
		f := th.Frame(uint32(i))
		if debugger.Check(f) != nil {
			break
		}
		frames = append(frames, convert.StackFrame(f))
	}
	return &protocol.GetFramesResponse{Status: protocol.OK(), Frames: frames, TotalFrames: total}
}

func scopeFilter(scopes []constants.VariableScope) debugger.VariableFilter {
	if len(scopes) == 0 {
		return debugger.VariableFilter{Arguments: true, Locals: true}
	}
	return debugger.VariableFilter{
		Arguments: lo.Contains(scopes, constants.ScopeArguments),
		Locals:    lo.Contains(scopes, constants.ScopeLocals),
		Statics:   lo.Contains(scopes, constants.ScopeStatics),
	}
}

func (s *Session) onGetVariables(r *protocol.GetVariablesRequest) *protocol.VariablesResponse {
	f, err := s.frame(r.ThreadID, r.FrameIndex)
	if err != nil {
		return &protocol.VariablesResponse{Status: protocol.Failed(err)}
	}
	vars := s.surfaceAll(f, f.Variables(scopeFilter(r.Scopes)))
	return &protocol.VariablesResponse{Status: protocol.OK(), Variables: vars}
}

func (s *Session) resolve(handle uint64) (debugger.Value, variables.Context, error) {
	if handle == 0 {
		return nil, variables.Context{}, missing("variable handle")
	}
	v, ctx, ok := s.variables.Resolve(handle)
	if !ok {
		return nil, variables.Context{}, fmt.Errorf("%w: %d", e.ErrInvalidHandle, handle)
	}
	return v, ctx, nil
}

func (s *Session) onGetVariableChildren(r *protocol.GetVariableChildrenRequest) *protocol.VariablesResponse {
	parent, ctx, err := s.resolve(r.Handle)
	if err != nil {
		return &protocol.VariablesResponse{Status: protocol.Failed(err)}
	}
	total := parent.NumChildren()
	end := total
	if r.Count > 0 && int(r.Start)+int(r.Count) < total {
		end = int(r.Start) + int(r.Count)
	}
	vars := []protocol.Variable{}
	for i := int(r.Start); i < end; i++ {
		child := parent.Child(i)
		if debugger.Check(child) != nil {
			continue
		}
		vars = append(vars, convert.Variable(child, s.variables.Allocate(ctx, child)))
	}
	return &protocol.VariablesResponse{Status: protocol.OK(), Variables: vars}
}

func (s *Session) onSetVariableValue(r *protocol.SetVariableValueRequest) *protocol.VariableResponse {
	v, _, err := s.resolve(r.Handle)
	if err != nil {
		return &protocol.VariableResponse{Status: protocol.Failed(err)}
	}
	if err = v.SetValue(r.Value); err != nil {
		return &protocol.VariableResponse{Status: protocol.Failed(engineErr("set value", err))}
	}
	out := convert.Variable(v, r.Handle)
	return &protocol.VariableResponse{Status: protocol.OK(), Variable: &out}
}

func (s *Session) onGetRegisters(r *protocol.GetRegistersRequest) *protocol.VariablesResponse {
	f, err := s.frame(r.ThreadID, r.FrameIndex)
	if err != nil {
		return &protocol.VariablesResponse{Status: protocol.Failed(err)}
	}
	return &protocol.VariablesResponse{Status: protocol.OK(), Variables: s.surfaceAll(f, f.Registers())}
}

func (s *Session) onEvaluate(r *protocol.EvaluateRequest) *protocol.VariableResponse {
	if r.Expression == "" {
		return &protocol.VariableResponse{Status: protocol.Failed(missing("expression"))}
	}
	f, err := s.frame(r.ThreadID, r.FrameIndex)
	if err != nil {
		return &protocol.VariableResponse{Status: protocol.Failed(err)}
	}
	v, err := f.Evaluate(r.Expression)
	if err == nil {
		err = debugger.Check(v)
	}
	if err != nil {
		return &protocol.VariableResponse{Status: protocol.Failed(engineErr("evaluate", err))}
	}
	out := s.surface(f, v)
	return &protocol.VariableResponse{Status: protocol.OK(), Variable: &out}
}

func (s *Session) onReadMemory(r *protocol.ReadMemoryRequest) *protocol.ReadMemoryResponse {
	if int(r.Size) > s.opts.MaxMemoryTransfer {
		err := fmt.Errorf("%w: %d bytes (max %d)", e.ErrMemoryTooLarge, r.Size, s.opts.MaxMemoryTransfer)
		return &protocol.ReadMemoryResponse{Status: protocol.Failed(err), Address: r.Address}
	}
	p, err := s.currentProcess()
	if err != nil {
		return &protocol.ReadMemoryResponse{Status: protocol.Failed(err), Address: r.Address}
	}
	if r.Size == 0 {
		return &protocol.ReadMemoryResponse{Status: protocol.OK(), Address: r.Address, Data: []byte{}}
	}
	data, err := p.ReadMemory(r.Address, int(r.Size))
	if err != nil {
		return &protocol.ReadMemoryResponse{Status: protocol.Failed(engineErr("read memory", err)), Address: r.Address}
	}
	return &protocol.ReadMemoryResponse{Status: protocol.OK(), Address: r.Address, Data: data}
}

func (s *Session) onWriteMemory(r *protocol.WriteMemoryRequest) *protocol.WriteMemoryResponse {
	if len(r.Data) > s.opts.MaxMemoryTransfer {
		err := fmt.Errorf("%w: %d bytes (max %d)", e.ErrMemoryTooLarge, len(r.Data), s.opts.MaxMemoryTransfer)
		return &protocol.WriteMemoryResponse{Status: protocol.Failed(err)}
	}
	if len(r.Data) == 0 {
		return &protocol.WriteMemoryResponse{Status: protocol.Failed(missing("data"))}
	}
	p, err := s.currentProcess()
	if err != nil {
		return &protocol.WriteMemoryResponse{Status: protocol.Failed(err)}
	}
	n, err := p.WriteMemory(r.Address, r.Data)
	if err != nil {
		return &protocol.WriteMemoryResponse{Status: protocol.Failed(engineErr("write memory", err)), BytesWritten: n}
	}
	s.variables.SweepInvalid()
	return &protocol.WriteMemoryResponse{Status: protocol.OK(), BytesWritten: n}
}

// disassemblyRange checks the requested range against the limit before the
// engine is involved.
func (s *Session) disassemblyRange(r *protocol.DisassembleRequest, alignment uint32) error {
	if r.EndAddress != 0 {
		if r.EndAddress <= r.StartAddress {
			return fmt.Errorf("%w: end address 0x%x is not after start 0x%x", e.ErrMissingArgument, r.EndAddress, r.StartAddress)
		}
		if size := r.EndAddress - r.StartAddress; size > s.opts.MaxDisassembleRange {
			return fmt.Errorf("%w: %d bytes (max %d)", e.ErrRangeTooLarge, size, s.opts.MaxDisassembleRange)
		}
		return nil
	}
	if r.Count == 0 {
		return missing("end address or instruction count")
	}
	if alignment == 0 {
		alignment = 1
	}
	if size := uint64(r.Count) * uint64(alignment); size > s.opts.MaxDisassembleRange {
		return fmt.Errorf("%w: %d instructions (max %d bytes)", e.ErrRangeTooLarge, r.Count, s.opts.MaxDisassembleRange)
	}
	return nil
}

func (s *Session) onDisassemble(r *protocol.DisassembleRequest) *protocol.DisassembleResponse {
	target, err := s.currentTarget()
	if err != nil {
		return &protocol.DisassembleResponse{Status: protocol.Failed(err)}
	}
	alignment := target.InstructionAlignment()
	if err = s.disassemblyRange(r, alignment); err != nil {
		return &protocol.DisassembleResponse{Status: protocol.Failed(err)}
	}
	insns, err := target.Disassemble(r.StartAddress, r.EndAddress, r.Count)
	if err != nil {
		return &protocol.DisassembleResponse{Status: protocol.Failed(engineErr("disassemble", err))}
	}
	end := r.StartAddress
	if len(insns) > 0 {
		last := insns[len(insns)-1]
		end = last.Address + uint64(len(last.Bytes))
	}
	return &protocol.DisassembleResponse{
		Status:       protocol.OK(),
		Instructions: convert.Instructions(insns),
		Alignment:    alignment,
		EndAddress:   end,
	}
}

func (s *Session) onExecuteCommand(r *protocol.ExecuteCommandRequest) *protocol.ExecuteCommandResponse {
	if r.Command == "" {
		return &protocol.ExecuteCommandResponse{Status: protocol.Failed(missing("command"))}
	}
	out, errOut, err := s.engine.HandleCommand(r.Command)
	if err != nil {
		return &protocol.ExecuteCommandResponse{Status: protocol.Failed(engineErr("command", err)), ErrorOutput: errOut}
	}
	return &protocol.ExecuteCommandResponse{Status: protocol.OK(), Output: out, ErrorOutput: errOut}
}

func (s *Session) onComplete(r *protocol.CompleteRequest) *protocol.CompleteResponse {
	matches := s.engine.Complete(r.Text, r.Cursor, r.MaxResults)
	if matches == nil {
		matches = []string{}
	}
	return &protocol.CompleteResponse{Status: protocol.OK(), Matches: matches}
}

func (s *Session) onGetModules() *protocol.GetModulesResponse {
	target, err := s.currentTarget()
	if err != nil {
		return &protocol.GetModulesResponse{Status: protocol.Failed(err)}
	}
	modules := convert.Modules(target.Modules())
	if modules == nil {
		modules = []protocol.Module{}
	}
	return &protocol.GetModulesResponse{Status: protocol.OK(), Modules: modules}
}

func (s *Session) onGetProcessInfo() *protocol.GetProcessInfoResponse {
	p, err := s.currentProcess()
	if err != nil {
		return &protocol.GetProcessInfoResponse{Status: protocol.Failed(err), State: constants.ProcessUnloaded}
	}
	state := p.State()
	info := &protocol.GetProcessInfoResponse{
		Status:    protocol.OK(),
		ProcessID: p.PID(),
		State:     convert.ProcessState(state),
	}
	if state == debugger.StateExited {
		code, desc := p.ExitStatus()
		info.ExitCode, info.ExitDescription = &code, desc
	}
	return info
}

func (s *Session) onSendInput(r *protocol.SendInputRequest) *protocol.StatusResponse {
	s.mu.Lock()
	c := s.console
	s.mu.Unlock()
	if c == nil {
		return statusOf(errNoConsole)
	}
	if _, err := c.Write(r.Content); err != nil {
		return statusOf(fmt.Errorf("write console: %w", err))
	}
	return statusOf(nil)
}
