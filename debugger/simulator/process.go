package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/fansqz/debug-session/debugger"
	"github.com/samber/lo"
)

var errNotStopped = errors.New("simulator: process is not stopped")

// Process implements debugger.Process and debugger.Signaler. Execution is
// synchronous: a resume runs until the next stop or exit before returning,
// unless the program spins.
type Process struct {
	target *Target
	pid    int
	opts   debugger.LaunchOptions
	valid  bool
	state  debugger.StateType

	line   uint32
	stopID uint64
	stops  int
	vars   map[string]string
	memory map[uint64]byte

	reason     debugger.StopReason
	reasonDesc string
	reasonData []uint64

	exitCode int
	exitDesc string

	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (t *Target) newProcess(pid int, opts debugger.LaunchOptions) *Process {
	p := &Process{
		target: t,
		pid:    pid,
		opts:   opts,
		valid:  true,
		state:  debugger.StateUnloaded,
		vars: map[string]string{
			"argc":    strconv.Itoa(len(opts.Argv) + 1),
			"counter": "0",
			"point.x": "1",
			"point.y": "2",
			"message": fmt.Sprintf("0x%016x", dataBase),
		},
		memory: map[uint64]byte{},
	}
	t.process = p
	return p
}

func (p *Process) lock() func() {
	p.target.engine.mu.Lock()
	return p.target.engine.mu.Unlock
}

func (p *Process) IsValid() bool {
	defer p.lock()()
	return p.valid
}

func (p *Process) PID() int { return p.pid }

func (p *Process) State() debugger.StateType {
	defer p.lock()()
	return p.state
}

func (p *Process) ExitStatus() (int, string) {
	defer p.lock()()
	return p.exitCode, p.exitDesc
}

func (p *Process) setState(state debugger.StateType) {
	p.state = state
	p.target.engine.emit(&debugger.Event{
		Source:  debugger.SourceProcess,
		Type:    debugger.EventStateChanged,
		Process: p,
		State:   state,
	})
}

func (p *Process) stop(reason debugger.StopReason, desc string, data []uint64) {
	p.reason, p.reasonDesc, p.reasonData = reason, desc, data
	p.stops++
	p.vars["counter"] = strconv.Itoa(p.stops)
	p.setState(debugger.StateStopped)
}

func (p *Process) exit(code int, desc string) {
	p.reason, p.reasonDesc, p.reasonData = debugger.StopReasonNone, "", nil
	p.exitCode, p.exitDesc = code, desc
	p.setState(debugger.StateExited)
}

func (p *Process) stopDescription() string {
	if p.reasonDesc != "" {
		return p.reasonDesc
	}
	return "none"
}

// execute moves the pc to line and applies the line's side effects.
func (p *Process) execute(line uint32) {
	p.line = line
	p.vars["i"] = strconv.Itoa(int(line))
	if line == p.target.program.OutputLine && p.target.program.Output != "" {
		p.write(debugger.EventSTDOUT, p.target.program.Output)
	}
}

func (p *Process) write(stream debugger.EventType, data string) {
	path, buf := p.opts.StdoutPath, &p.stdout
	if stream == debugger.EventSTDERR {
		path, buf = p.opts.StderrPath, &p.stderr
	}
	if path != "" {
		if f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0); err == nil {
			_, _ = f.WriteString(data)
			_ = f.Close()
			return
		}
	}
	buf.WriteString(data)
	p.target.engine.emit(&debugger.Event{Source: debugger.SourceProcess, Type: stream, Process: p, State: p.state})
}

// run resumes at from and executes until a breakpoint, a watchpoint, the
// until line (0 for none) or the end of the program.
func (p *Process) run(from uint32, until uint32, plan string) {
	prog := p.target.program
	p.stopID++
	p.setState(debugger.StateRunning)
	for line := from; line <= prog.Lines; line++ {
		p.execute(line)
		if wp := p.target.watchpointHit(); wp != nil {
			p.stop(debugger.StopReasonWatchpoint, fmt.Sprintf("watchpoint %d", wp.id), []uint64{uint64(wp.id)})
			return
		}
		if bp := p.target.breakpointAt(line, p.tid()); bp != nil {
			p.stop(debugger.StopReasonBreakpoint, fmt.Sprintf("breakpoint %d.1", bp.id), []uint64{uint64(bp.id), 1})
			return
		}
		if until != 0 && line == until {
			p.stop(debugger.StopReasonPlanComplete, plan, nil)
			return
		}
	}
	if prog.Spin {
		return
	}
	p.exit(prog.ExitCode, "")
}

func (p *Process) step(desc string) {
	prog := p.target.program
	p.stopID++
	p.setState(debugger.StateStepping)
	if p.line >= prog.Lines {
		p.exit(prog.ExitCode, "")
		return
	}
	p.execute(p.line + 1)
	p.stop(debugger.StopReasonPlanComplete, desc, nil)
}

func (p *Process) tid() int64 { return int64(p.pid) }

func (p *Process) requireStopped() error {
	if !p.valid {
		return errors.New("simulator: invalid process")
	}
	if p.state != debugger.StateStopped && p.state != debugger.StateSuspended {
		return errNotStopped
	}
	return nil
}

func (p *Process) Continue() error {
	defer p.lock()()
	if err := p.requireStopped(); err != nil {
		return err
	}
	p.run(p.line+1, 0, "")
	return nil
}

func (p *Process) Stop() error {
	defer p.lock()()
	if p.target.engine.opts.FailStop {
		return errors.New("simulator: stop failed")
	}
	switch {
	case p.state == debugger.StateStopped:
		return nil
	case !p.state.IsAlive():
		return fmt.Errorf("simulator: process %d is %s", p.pid, p.state)
	}
	p.stopID++
	p.stop(debugger.StopReasonSignal, "signal SIGSTOP", []uint64{19})
	return nil
}

func (p *Process) Destroy() error {
	defer p.lock()()
	if p.target.engine.opts.FailDestroy {
		return errors.New("simulator: destroy failed")
	}
	if !p.state.IsAlive() {
		return nil
	}
	p.exit(9, "destroyed")
	return nil
}

func (p *Process) Kill() error {
	defer p.lock()()
	if p.target.engine.opts.FailDestroy {
		return errors.New("simulator: kill failed")
	}
	if !p.state.IsAlive() {
		return fmt.Errorf("simulator: process %d is %s", p.pid, p.state)
	}
	p.exit(9, "killed")
	return nil
}

func (p *Process) Detach() error {
	defer p.lock()()
	if p.target.engine.opts.FailDetach {
		return errors.New("simulator: detach failed")
	}
	if !p.state.IsAlive() {
		return fmt.Errorf("simulator: process %d is %s", p.pid, p.state)
	}
	p.setState(debugger.StateDetached)
	return nil
}

// Signal delivers sig unless it is listed in Options.IgnoredSignals.
func (p *Process) Signal(sig debugger.Signal) error {
	defer p.lock()()
	if !p.state.IsAlive() {
		return syscall.ESRCH
	}
	if lo.Contains(p.target.engine.opts.IgnoredSignals, sig) {
		return nil
	}
	code := 128
	if s, ok := sig.(syscall.Signal); ok {
		code += int(s)
	}
	p.exit(code, "terminated by signal "+sig.String())
	return nil
}

func (p *Process) Threads() []debugger.Thread {
	defer p.lock()()
	if !p.state.IsAlive() {
		return nil
	}
	return []debugger.Thread{&Thread{process: p}}
}

func (p *Process) ThreadByID(id int64) debugger.Thread {
	defer p.lock()()
	if !p.state.IsAlive() || id != p.tid() {
		return nil
	}
	return &Thread{process: p}
}

func (p *Process) SelectedThread() debugger.Thread {
	defer p.lock()()
	if !p.state.IsAlive() {
		return nil
	}
	return &Thread{process: p}
}

func (p *Process) byteAt(address uint64) byte {
	if b, ok := p.memory[address]; ok {
		return b
	}
	prog := p.target.program
	if address >= textBase && address < prog.textEnd() {
		off := address - textBase
		line, _ := prog.lineOf(address - off%instrSize)
		return prog.instructionBytes(line)[off%instrSize]
	}
	if address >= dataBase && address < dataBase+6 {
		return "hello\x00"[address-dataBase]
	}
	return 0
}

func (p *Process) ReadMemory(address uint64, size int) ([]byte, error) {
	defer p.lock()()
	if !p.state.IsAlive() {
		return nil, errors.New("simulator: process is not alive")
	}
	if address == 0 {
		return nil, fmt.Errorf("simulator: memory read failed for 0x%x", address)
	}
	out := make([]byte, size)
	for i := range out {
		out[i] = p.byteAt(address + uint64(i))
	}
	return out, nil
}

func (p *Process) WriteMemory(address uint64, data []byte) (int, error) {
	defer p.lock()()
	if !p.state.IsAlive() {
		return 0, errors.New("simulator: process is not alive")
	}
	if address == 0 {
		return 0, fmt.Errorf("simulator: memory write failed for 0x%x", address)
	}
	for i, b := range data {
		p.memory[address+uint64(i)] = b
	}
	return len(data), nil
}

func (p *Process) ReadStdout(buf []byte) int {
	defer p.lock()()
	n, _ := p.stdout.Read(buf)
	return n
}

func (p *Process) ReadStderr(buf []byte) int {
	defer p.lock()()
	n, _ := p.stderr.Read(buf)
	return n
}
