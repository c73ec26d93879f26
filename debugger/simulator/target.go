package simulator

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/fansqz/debug-session/debugger"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Target implements debugger.Target.
type Target struct {
	engine  *Engine
	path    string
	triple  string
	program *Program
	valid   bool
	process *Process

	// breakpoints and watchpoints share one id space
	nextID      int64
	breakpoints map[int64]*Breakpoint
	watchpoints map[int64]*Watchpoint
	failDelete  map[int64]bool
}

func newTarget(en *Engine, path, triple string, program *Program) *Target {
	return &Target{
		engine:      en,
		path:        path,
		triple:      triple,
		program:     program,
		valid:       true,
		nextID:      1,
		breakpoints: map[int64]*Breakpoint{},
		watchpoints: map[int64]*Watchpoint{},
		failDelete:  map[int64]bool{},
	}
}

func (t *Target) invalidate() {
	t.valid = false
	if t.process != nil {
		t.process.valid = false
	}
}

func (t *Target) IsValid() bool {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	return t.valid
}

func (t *Target) Executable() string { return t.path }

func (t *Target) Triple() string { return t.triple }

// Program 模拟的程序模型
func (t *Target) Program() *Program { return t.program }

// FailDelete makes the next deletes of id report failure.
func (t *Target) FailDelete(id int64) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	t.failDelete[id] = true
}

func (t *Target) Launch(opts *debugger.LaunchOptions) (debugger.Process, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if !t.valid {
		return nil, errors.New("simulator: invalid target")
	}
	if t.process != nil && t.process.state.IsAlive() {
		return nil, fmt.Errorf("simulator: process %d is already alive", t.process.pid)
	}
	if opts == nil {
		opts = &debugger.LaunchOptions{}
	}
	p := t.newProcess(t.engine.nextPID, *opts)
	t.engine.nextPID++
	t.emitModules(debugger.EventModulesLoaded)
	p.setState(debugger.StateLaunching)
	if opts.StopAtEntry {
		p.line = 1
		p.vars["i"] = "1"
		p.stopID++
		p.stop(debugger.StopReasonSignal, "signal SIGSTOP", []uint64{19})
		return p, nil
	}
	p.run(1, 0, "")
	return p, nil
}

func (t *Target) Attach(pid int) (debugger.Process, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if !t.valid {
		return nil, errors.New("simulator: invalid target")
	}
	if pid <= 0 {
		return nil, fmt.Errorf("simulator: invalid pid %d", pid)
	}
	if t.process != nil && t.process.state.IsAlive() {
		return nil, fmt.Errorf("simulator: process %d is already alive", t.process.pid)
	}
	p := t.newProcess(pid, debugger.LaunchOptions{})
	t.emitModules(debugger.EventModulesLoaded)
	p.setState(debugger.StateAttaching)
	p.line = 1
	p.vars["i"] = "1"
	p.stopID++
	p.stop(debugger.StopReasonSignal, "signal SIGSTOP", []uint64{19})
	return p, nil
}

func (t *Target) Process() debugger.Process {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if t.process == nil {
		return nil
	}
	return t.process
}

func (t *Target) emitModules(kind debugger.EventType) {
	t.engine.emit(&debugger.Event{
		Source:  debugger.SourceTarget,
		Type:    kind,
		Target:  t,
		Modules: t.modules(),
	})
}

func (t *Target) emitBreakpoint(id int64, kind debugger.BreakpointEventType, watch bool) {
	t.engine.emit(&debugger.Event{
		Source:          debugger.SourceBreakpoint,
		Target:          t,
		BreakpointID:    id,
		BreakpointEvent: kind,
		Watch:           watch,
	})
}

func (t *Target) addBreakpoint(spec string, locs []debugger.BreakpointLocation) *Breakpoint {
	bp := &Breakpoint{target: t, id: t.nextID, spec: spec, locations: locs, enabled: true}
	t.nextID++
	t.breakpoints[bp.id] = bp
	t.emitBreakpoint(bp.id, debugger.BreakpointEventAdded, false)
	if len(locs) > 0 {
		t.emitBreakpoint(bp.id, debugger.BreakpointEventLocationsResolved, false)
	}
	return bp
}

func (t *Target) lineLocation(line uint32) debugger.BreakpointLocation {
	return debugger.BreakpointLocation{
		ID:       1,
		Address:  t.program.addressOf(line),
		Line:     debugger.LineEntry{File: t.program.Source, Line: line, Column: 1},
		Resolved: true,
	}
}

func (t *Target) CreateLineBreakpoint(file string, line uint32, column uint32) (debugger.Breakpoint, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if !t.valid {
		return nil, errors.New("simulator: invalid target")
	}
	var locs []debugger.BreakpointLocation
	if t.program.matchesSource(file) && line >= 1 && line <= t.program.Lines {
		locs = append(locs, t.lineLocation(line))
	}
	return t.addBreakpoint(fmt.Sprintf("file = '%s', line = %d", file, line), locs), nil
}

func (t *Target) CreateAddressBreakpoint(address uint64) (debugger.Breakpoint, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if !t.valid {
		return nil, errors.New("simulator: invalid target")
	}
	var locs []debugger.BreakpointLocation
	if line, ok := t.program.lineOf(address); ok {
		locs = append(locs, t.lineLocation(line))
	}
	return t.addBreakpoint(fmt.Sprintf("address = 0x%x", address), locs), nil
}

func (t *Target) CreateFunctionBreakpoint(name string) (debugger.Breakpoint, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if !t.valid {
		return nil, errors.New("simulator: invalid target")
	}
	var locs []debugger.BreakpointLocation
	if fn, ok := t.program.function(name); ok {
		locs = append(locs, t.lineLocation(fn.Line))
	}
	return t.addBreakpoint(fmt.Sprintf("name = '%s'", name), locs), nil
}

func (t *Target) CreateSymbolBreakpoint(pattern string, regex bool) (debugger.Breakpoint, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if !t.valid {
		return nil, errors.New("simulator: invalid target")
	}
	match := func(name string) bool { return name == pattern }
	if regex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("simulator: bad symbol regex: %w", err)
		}
		match = re.MatchString
	}
	var locs []debugger.BreakpointLocation
	for _, fn := range t.program.Functions {
		if match(fn.Name) {
			loc := t.lineLocation(fn.Line)
			loc.ID = int64(len(locs) + 1)
			locs = append(locs, loc)
		}
	}
	return t.addBreakpoint(fmt.Sprintf("regex = '%s'", pattern), locs), nil
}

func (t *Target) FindBreakpoint(id int64) debugger.Breakpoint {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if bp, ok := t.breakpoints[id]; ok {
		return bp
	}
	return nil
}

func (t *Target) DeleteBreakpoint(id int64) bool {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	bp, ok := t.breakpoints[id]
	if !ok || t.failDelete[id] {
		return false
	}
	t.deleteBreakpoint(bp)
	return true
}

func (t *Target) deleteBreakpoint(bp *Breakpoint) {
	delete(t.breakpoints, bp.id)
	bp.deleted = true
	t.emitBreakpoint(bp.id, debugger.BreakpointEventRemoved, false)
}

func (t *Target) FindWatchpoint(id int64) debugger.Watchpoint {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if wp, ok := t.watchpoints[id]; ok {
		return wp
	}
	return nil
}

func (t *Target) DeleteWatchpoint(id int64) bool {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	wp, ok := t.watchpoints[id]
	if !ok || t.failDelete[id] {
		return false
	}
	delete(t.watchpoints, id)
	wp.deleted = true
	t.emitBreakpoint(id, debugger.BreakpointEventRemoved, true)
	return true
}

func (t *Target) addWatchpoint(v *Value, read, write bool) *Watchpoint {
	wp := &Watchpoint{
		target:  t,
		id:      t.nextID,
		key:     v.key,
		address: v.addr,
		size:    v.size,
		read:    read,
		write:   write,
		enabled: true,
	}
	t.nextID++
	t.watchpoints[wp.id] = wp
	t.emitBreakpoint(wp.id, debugger.BreakpointEventAdded, true)
	return wp
}

// breakpointAt 返回在line处命中的断点，并更新命中计数
func (t *Target) breakpointAt(line uint32, tid int64) *Breakpoint {
	address := t.program.addressOf(line)
	ids := lo.Keys(t.breakpoints)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		bp := t.breakpoints[id]
		if !bp.enabled || !bp.resolvedAt(address) {
			continue
		}
		if bp.threadID != 0 && bp.threadID != tid {
			continue
		}
		if bp.condition == "false" || bp.condition == "0" {
			continue
		}
		bp.hits++
		if bp.hits <= bp.ignoreCount {
			continue
		}
		if bp.oneShot {
			t.deleteBreakpoint(bp)
		}
		return bp
	}
	return nil
}

// watchpointHit variables written on every line trigger write watchpoints.
func (t *Target) watchpointHit() *Watchpoint {
	ids := lo.Keys(t.watchpoints)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		wp := t.watchpoints[id]
		if !wp.enabled || !wp.write || wp.key != "i" {
			continue
		}
		if wp.condition == "false" || wp.condition == "0" {
			continue
		}
		wp.hits++
		if wp.hits <= wp.ignoreCount {
			continue
		}
		return wp
	}
	return nil
}

func (t *Target) modules() []debugger.Module {
	return []debugger.Module{{
		UUID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(t.path)).String(),
		Name: filepath.Base(t.path),
		Path: t.path,
		Sections: []debugger.Section{
			{Name: ".text", LoadAddress: textBase, Size: uint64(t.program.Lines) * instrSize},
			{Name: ".data", LoadAddress: dataBase, Size: 0x1000},
		},
		SymbolsLoaded: true,
	}}
}

func (t *Target) Modules() []debugger.Module {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if !t.valid {
		return nil
	}
	return t.modules()
}

func (t *Target) InstructionAlignment() uint32 { return uint32(instrSize) }

func (t *Target) Disassemble(start, end uint64, count uint32) ([]debugger.Instruction, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if !t.valid {
		return nil, errors.New("simulator: invalid target")
	}
	if end == 0 && count == 0 {
		return nil, errors.New("simulator: need an end address or an instruction count")
	}
	if end != 0 && end < start {
		return nil, fmt.Errorf("simulator: end 0x%x before start 0x%x", end, start)
	}
	if start < textBase {
		start = textBase
	}
	start -= (start - textBase) % instrSize
	var out []debugger.Instruction
	for address := start; address < t.program.textEnd(); address += instrSize {
		if end != 0 && address >= end {
			break
		}
		if count != 0 && uint32(len(out)) >= count {
			break
		}
		line, _ := t.program.lineOf(address)
		mnemonic, operands := t.program.instructionAt(line)
		fn, _ := t.program.functionAt(line)
		out = append(out, debugger.Instruction{
			Address:  address,
			Bytes:    t.program.instructionBytes(line),
			Mnemonic: mnemonic,
			Operands: operands,
			Symbol:   fmt.Sprintf("%s+%d", fn.Name, (line-fn.Line)*uint32(instrSize)),
			Line:     debugger.LineEntry{File: t.program.Source, Line: line, Column: 1},
		})
	}
	return out, nil
}
