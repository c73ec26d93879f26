package simulator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fansqz/debug-session/debugger"
	"github.com/samber/lo"
)

// Thread the simulated process has exactly one thread, its id is the pid.
type Thread struct {
	process *Process
}

func (th *Thread) IsValid() bool {
	defer th.process.lock()()
	return th.process.valid && th.process.state.IsAlive()
}

func (th *Thread) ID() int64 { return th.process.tid() }

func (th *Thread) Index() uint32 { return 1 }

func (th *Thread) Name() string { return filepath.Base(th.process.target.path) }

func (th *Thread) Queue() string { return "" }

func (th *Thread) StopReason() debugger.StopReason {
	defer th.process.lock()()
	if th.process.state != debugger.StateStopped {
		return debugger.StopReasonNone
	}
	return th.process.reason
}

func (th *Thread) StopDescription() string {
	defer th.process.lock()()
	if th.process.state != debugger.StateStopped {
		return ""
	}
	return th.process.reasonDesc
}

func (th *Thread) StopReasonData() []uint64 {
	defer th.process.lock()()
	if th.process.state != debugger.StateStopped {
		return nil
	}
	return append([]uint64(nil), th.process.reasonData...)
}

func (th *Thread) NumFrames() int {
	defer th.process.lock()()
	if th.process.requireStopped() != nil {
		return 0
	}
	return 2
}

func (th *Thread) Frame(index uint32) debugger.Frame {
	defer th.process.lock()()
	if th.process.requireStopped() != nil || index > 1 {
		return nil
	}
	return &Frame{thread: th, index: index, stopID: th.process.stopID}
}

func (th *Thread) StepInto() error { return th.stepLine("step in") }

func (th *Thread) StepOver() error { return th.stepLine("step over") }

func (th *Thread) stepLine(desc string) error {
	p := th.process
	defer p.lock()()
	if err := p.requireStopped(); err != nil {
		return err
	}
	p.step(desc)
	return nil
}

// StepOut runs to the line after the current function, or to exit for the
// last function.
func (th *Thread) StepOut() error {
	p := th.process
	defer p.lock()()
	if err := p.requireStopped(); err != nil {
		return err
	}
	_, end := p.target.program.functionAt(p.line)
	until := end + 1
	if until > p.target.program.Lines {
		until = 0
	}
	p.run(p.line+1, until, "step out")
	return nil
}

func (th *Thread) RunToAddress(address uint64) error {
	p := th.process
	defer p.lock()()
	if err := p.requireStopped(); err != nil {
		return err
	}
	line, ok := p.target.program.lineOf(address)
	if !ok {
		return fmt.Errorf("simulator: address 0x%x is not an instruction in %s", address, p.target.path)
	}
	p.run(p.line+1, line, "run to address")
	return nil
}

// Frame frame 0 is the current function, frame 1 the program entry.
type Frame struct {
	thread *Thread
	index  uint32
	stopID uint64
}

func (f *Frame) proc() *Process { return f.thread.process }

func (f *Frame) valid() bool {
	p := f.proc()
	return p.requireStopped() == nil && p.stopID == f.stopID
}

func (f *Frame) IsValid() bool {
	defer f.proc().lock()()
	return f.valid()
}

func (f *Frame) Index() uint32 { return f.index }

func (f *Frame) ThreadID() int64 { return f.thread.ID() }

func (f *Frame) PC() uint64 {
	defer f.proc().lock()()
	if f.index > 0 {
		return entryPC
	}
	return f.proc().target.program.addressOf(f.proc().line)
}

const entryPC uint64 = 0x7f0000001040

func (f *Frame) FunctionName() string {
	defer f.proc().lock()()
	if f.index > 0 {
		return "_start"
	}
	fn, _ := f.proc().target.program.functionAt(f.proc().line)
	return fn.Name
}

func (f *Frame) ModuleName() string {
	if f.index > 0 {
		return "ld-linux-x86-64.so.2"
	}
	return filepath.Base(f.proc().target.path)
}

func (f *Frame) LineEntry() debugger.LineEntry {
	defer f.proc().lock()()
	if f.index > 0 {
		return debugger.LineEntry{}
	}
	return debugger.LineEntry{File: f.proc().target.program.Source, Line: f.proc().line, Column: 1}
}

func (f *Frame) Variables(filter debugger.VariableFilter) []debugger.Value {
	defer f.proc().lock()()
	if !f.valid() || f.index > 0 {
		return nil
	}
	var out []*Value
	if filter.Arguments {
		out = append(out, f.arguments()...)
	}
	if filter.Locals {
		out = append(out, f.locals()...)
	}
	if filter.Statics {
		out = append(out, f.statics()...)
	}
	return toValues(out)
}

func (f *Frame) Registers() []debugger.Value {
	defer f.proc().lock()()
	if !f.valid() {
		return nil
	}
	p := f.proc()
	pc := p.target.program.addressOf(p.line)
	if f.index > 0 {
		pc = entryPC
	}
	sp := stackBase - uint64(f.index)*0x40
	regs := []*Value{
		f.constant("rip", "unsigned long", fmt.Sprintf("0x%016x", pc), 8),
		f.constant("rsp", "unsigned long", fmt.Sprintf("0x%016x", sp), 8),
		f.constant("rbp", "unsigned long", fmt.Sprintf("0x%016x", sp+0x30), 8),
	}
	return toValues(regs)
}

func (f *Frame) FindVariable(name string) debugger.Value {
	defer f.proc().lock()()
	if !f.valid() || f.index > 0 {
		return nil
	}
	if v := f.lookup(name); v != nil {
		return v
	}
	return nil
}

// Evaluate accepts a variable name, a dotted member path or an integer literal.
func (f *Frame) Evaluate(expression string) (debugger.Value, error) {
	defer f.proc().lock()()
	if !f.valid() {
		return nil, errors.New("simulator: frame is no longer valid")
	}
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return nil, errors.New("simulator: empty expression")
	}
	if _, err := strconv.ParseInt(expr, 0, 64); err == nil {
		return f.constant(expr, "int", expr, 4), nil
	}
	if f.index == 0 {
		if v := f.lookup(expr); v != nil {
			copied := *v
			copied.name = expr
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("error: use of undeclared identifier '%s'", expr)
}

// lookup 按名称或成员路径查找变量
func (f *Frame) lookup(path string) *Value {
	parts := strings.Split(path, ".")
	var candidates []*Value
	candidates = append(candidates, f.arguments()...)
	candidates = append(candidates, f.locals()...)
	candidates = append(candidates, f.statics()...)
	var found *Value
	for _, part := range parts {
		found = nil
		for _, v := range candidates {
			if v.name == part {
				found = v
				break
			}
		}
		if found == nil {
			return nil
		}
		candidates = found.children
	}
	return found
}

func (f *Frame) variable(key, name, typ string, addr, size uint64) *Value {
	return &Value{proc: f.proc(), stopID: f.stopID, key: key, name: name, typ: typ, addr: addr, size: size}
}

func (f *Frame) constant(name, typ, value string, size uint64) *Value {
	return &Value{proc: f.proc(), stopID: f.stopID, name: name, typ: typ, constant: value, size: size, readOnly: true}
}

func (f *Frame) arguments() []*Value {
	p := f.proc()
	argv := append([]string{p.target.path}, p.opts.Argv...)
	array := f.variable("", "argv", "char **", stackBase+0x10, 8)
	for i, arg := range argv {
		child := f.constant(fmt.Sprintf("[%d]", i), "char *", fmt.Sprintf("0x%016x", dataBase+0x100+uint64(i)*0x40), 8)
		child.summary = strconv.Quote(arg)
		array.children = append(array.children, child)
	}
	return []*Value{
		f.variable("argc", "argc", "int", stackBase+0x1c, 4),
		array,
	}
}

func (f *Frame) locals() []*Value {
	point := f.variable("", "point", "Point", stackBase+0x20, 8)
	point.children = []*Value{
		f.variable("point.x", "x", "int", stackBase+0x20, 4),
		f.variable("point.y", "y", "int", stackBase+0x24, 4),
	}
	message := f.variable("message", "message", "const char *", stackBase+0x28, 8)
	message.summary = strconv.Quote("hello")
	return []*Value{
		f.variable("i", "i", "int", stackBase+0x18, 4),
		point,
		message,
	}
}

func (f *Frame) statics() []*Value {
	return []*Value{f.variable("counter", "counter", "int", dataBase+0x800, 4)}
}

func toValues(vs []*Value) []debugger.Value {
	return lo.Map(vs, func(v *Value, _ int) debugger.Value { return v })
}
