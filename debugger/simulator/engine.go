// Package simulator is an in-process debugger engine that executes a
// deterministic straight-line program model. It implements every capability
// of package debugger, so the session can be driven end to end without a
// native backend.
package simulator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fansqz/debug-session/debugger"
	"github.com/samber/lo"
)

// BackendName 注册到debugger中的名称
const BackendName = "simulator"

const eventQueueSize = 4096

var errClosed = errors.New("simulator: engine closed")

func init() {
	debugger.Register(BackendName, func() (debugger.Debugger, error) {
		return New(Options{}), nil
	})
}

// Options 模拟器的行为开关
type Options struct {
	// Program describes the executable at path, DefaultProgram when nil.
	Program func(path string) *Program
	// FirstPID is the pid of the first launched process, 4242 when zero.
	FirstPID int

	FailDestroy    bool
	FailStop       bool
	FailDetach     bool
	IgnoredSignals []debugger.Signal
}

// Engine implements debugger.Debugger. One mutex guards all engine state;
// every handle method takes it.
type Engine struct {
	mu      sync.Mutex
	opts    Options
	events  chan *debugger.Event
	target  *Target
	nextPID int
	closed  bool
	dropped int
}

func New(opts Options) *Engine {
	if opts.Program == nil {
		opts.Program = DefaultProgram
	}
	if opts.FirstPID == 0 {
		opts.FirstPID = 4242
	}
	return &Engine{
		opts:    opts,
		events:  make(chan *debugger.Event, eventQueueSize),
		nextPID: opts.FirstPID,
	}
}

// SetOptions replaces the failure knobs; the program model is kept.
func (en *Engine) SetOptions(fn func(opts *Options)) {
	en.mu.Lock()
	defer en.mu.Unlock()
	fn(&en.opts)
}

func (en *Engine) CreateTarget(path string, opts *debugger.TargetOptions) (debugger.Target, error) {
	if path == "" {
		return nil, errors.New("simulator: no executable path")
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.closed {
		return nil, errClosed
	}
	triple := "x86_64-unknown-linux-gnu"
	if opts != nil && opts.Triple != "" {
		triple = opts.Triple
	}
	if en.target != nil {
		en.target.invalidate()
	}
	en.target = newTarget(en, path, triple, en.opts.Program(path))
	return en.target, nil
}

func (en *Engine) WaitForEvent(timeout time.Duration) (*debugger.Event, bool) {
	if timeout <= 0 {
		select {
		case ev := <-en.events:
			return ev, true
		default:
			return nil, false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-en.events:
		return ev, true
	case <-timer.C:
		return nil, false
	}
}

// Emit queues ev as if the engine had produced it.
func (en *Engine) Emit(ev *debugger.Event) {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.emit(ev)
}

// emit 调用方需持有锁，队列满时丢弃事件
func (en *Engine) emit(ev *debugger.Event) {
	select {
	case en.events <- ev:
	default:
		en.dropped++
	}
}

var commands = []string{
	"breakpoint list",
	"help",
	"process status",
	"target list",
	"thread backtrace",
	"version",
}

func (en *Engine) HandleCommand(command string) (string, string, error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.closed {
		return "", "", errClosed
	}
	command = strings.Join(strings.Fields(command), " ")
	switch command {
	case "":
		return "", "error: empty command\n", nil
	case "help":
		return "Debugger commands:\n  " + strings.Join(commands, "\n  ") + "\n", "", nil
	case "version":
		return "simulator version 1.0\n", "", nil
	case "target list":
		if en.target == nil {
			return "No targets.\n", "", nil
		}
		return fmt.Sprintf("Current targets:\n* target #0: %s ( arch=%s )\n", en.target.path, en.target.triple), "", nil
	case "process status":
		p := en.currentProcess()
		if p == nil {
			return "", "error: invalid process\n", nil
		}
		return fmt.Sprintf("Process %d %s\n", p.pid, p.state), "", nil
	case "breakpoint list":
		if en.target == nil || len(en.target.breakpoints) == 0 {
			return "No breakpoints currently set.\n", "", nil
		}
		var sb strings.Builder
		ids := lo.Keys(en.target.breakpoints)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			bp := en.target.breakpoints[id]
			fmt.Fprintf(&sb, "%d: %s, locations = %d\n", id, bp.spec, len(bp.locations))
		}
		return sb.String(), "", nil
	case "thread backtrace":
		p := en.currentProcess()
		if p == nil || p.state != debugger.StateStopped {
			return "", "error: process must be stopped\n", nil
		}
		fn, _ := p.target.program.functionAt(p.line)
		return fmt.Sprintf("* thread #1, stop reason = %s\n  * frame #0: 0x%016x %s at %s:%d\n",
			p.stopDescription(), p.target.program.addressOf(p.line), fn.Name, p.target.program.Source, p.line), "", nil
	}
	return "", fmt.Sprintf("error: '%s' is not a valid command.\n", strings.Fields(command)[0]), nil
}

func (en *Engine) Complete(text string, cursor int, maxResults int) []string {
	if cursor < 0 || cursor > len(text) {
		cursor = len(text)
	}
	prefix := text[:cursor]
	matches := lo.Filter(commands, func(c string, _ int) bool {
		return strings.HasPrefix(c, prefix)
	})
	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

func (en *Engine) Close() error {
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.closed {
		return nil
	}
	en.closed = true
	if en.target != nil {
		en.target.invalidate()
	}
	return nil
}

// Dropped 队列满时丢弃的事件数
func (en *Engine) Dropped() int {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.dropped
}

func (en *Engine) currentProcess() *Process {
	if en.target == nil {
		return nil
	}
	return en.target.process
}
