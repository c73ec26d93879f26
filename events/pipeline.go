// Package events turns engine events into wire events. The pipeline runs in
// the background for the whole session and can also be drained inline while
// the session waits for the debuggee to die.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/convert"
	"github.com/fansqz/debug-session/debugger"
	"github.com/fansqz/debug-session/protocol"
	"github.com/fansqz/debug-session/utils/gosync"
	"github.com/sirupsen/logrus"
)

const (
	DefaultWaitTimeout     = time.Second
	DefaultOutputChunkSize = 4096
)

// Waiter 引擎的事件来源，timeout<=0时只做一次非阻塞检查
type Waiter interface {
	WaitForEvent(timeout time.Duration) (*debugger.Event, bool)
}

// Source gives the pipeline the session's current handles.
type Source interface {
	Target() debugger.Target
	Process() debugger.Process
}

// Broadcaster 事件发送出口
type Broadcaster interface {
	Broadcast(ev *protocol.Event)
}

// BreakpointObserver is told about every engine breakpoint event before it is
// broadcast.
type BreakpointObserver interface {
	Observe(target debugger.Target, id int64, kind debugger.BreakpointEventType)
}

type Options struct {
	WaitTimeout     time.Duration
	OutputChunkSize int
}

// Pipeline 事件管道
type Pipeline struct {
	waiter   Waiter
	source   Source
	out      Broadcaster
	observer BreakpointObserver
	opts     Options
	log      *logrus.Entry

	// handleMu keeps the loop and an inline Pump from interleaving
	handleMu sync.Mutex

	mu      sync.Mutex
	running bool
	stop    atomic.Bool
	done    chan struct{}
}

// NewPipeline observer may be nil.
func NewPipeline(waiter Waiter, source Source, out Broadcaster, observer BreakpointObserver,
	opts Options, log *logrus.Entry) *Pipeline {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.OutputChunkSize <= 0 {
		opts.OutputChunkSize = DefaultOutputChunkSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pipeline{
		waiter:   waiter,
		source:   source,
		out:      out,
		observer: observer,
		opts:     opts,
		log:      log,
	}
}

// Start launches the loop unless it is already running. It reports whether a
// new loop was started.
func (p *Pipeline) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	p.stop.Store(false)
	done := make(chan struct{})
	p.done = done
	gosync.Go(ctx, func(ctx context.Context) {
		defer func() {
			p.mu.Lock()
			p.running = false
			close(done)
			p.mu.Unlock()
		}()
		p.loop(ctx)
	})
	p.log.Debug("[EventPipeline] started")
	return true
}

// Stop asks the loop to exit and waits for it, which takes at most one
// WaitTimeout.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.stop.Store(true)
	done := p.done
	p.mu.Unlock()
	<-done
	p.log.Debug("[EventPipeline] stopped")
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) loop(ctx context.Context) {
	for !p.stop.Load() && ctx.Err() == nil {
		ev, ok := p.waiter.WaitForEvent(p.opts.WaitTimeout)
		if !ok {
			// 兜底：有些引擎不会可靠地投递进程结束事件
			if state, dead := p.processDead(); dead {
				p.log.Infof("[EventPipeline] process found %s while polling, exiting", state)
				return
			}
			continue
		}
		p.HandleEvent(ev)
	}
}

func (p *Pipeline) processDead() (debugger.StateType, bool) {
	proc := p.source.Process()
	if debugger.Check(proc) != nil {
		return debugger.StateInvalid, false
	}
	state := proc.State()
	return state, state == debugger.StateExited || state == debugger.StateCrashed
}

// Pump handles every event already queued in the engine and returns.
func (p *Pipeline) Pump() {
	for {
		ev, ok := p.waiter.WaitForEvent(0)
		if !ok {
			return
		}
		p.HandleEvent(ev)
	}
}

// HandleEvent converts one engine event and broadcasts the result.
func (p *Pipeline) HandleEvent(ev *debugger.Event) {
	if ev == nil {
		return
	}
	p.handleMu.Lock()
	defer p.handleMu.Unlock()
	switch ev.Source {
	case debugger.SourceProcess:
		p.handleProcess(ev)
	case debugger.SourceTarget:
		p.handleTarget(ev)
	case debugger.SourceBreakpoint:
		p.handleBreakpoint(ev)
	case debugger.SourceThread:
		p.handleThread(ev)
	default:
		p.log.Debugf("[EventPipeline] ignoring event from source %d", ev.Source)
	}
}

func (p *Pipeline) handleProcess(ev *debugger.Event) {
	proc := ev.Process
	if debugger.Check(proc) != nil {
		proc = p.source.Process()
	}
	if debugger.Check(proc) != nil {
		p.log.Debug("[EventPipeline] process event without a valid process")
		return
	}
	if ev.Type.Has(debugger.EventStateChanged) {
		state := ev.State
		if state == debugger.StateInvalid {
			state = proc.State()
		}
		p.out.Broadcast(&protocol.Event{ProcessStateChanged: stateChanged(proc, state)})
	}
	if ev.Type.Has(debugger.EventSTDOUT) {
		p.drain(proc.ReadStdout, constants.OutputStdout)
	}
	if ev.Type.Has(debugger.EventSTDERR) {
		p.drain(proc.ReadStderr, constants.OutputStderr)
	}
}

func stateChanged(proc debugger.Process, state debugger.StateType) *protocol.ProcessStateChangedEvent {
	out := &protocol.ProcessStateChangedEvent{
		State:     convert.ProcessState(state),
		ProcessID: proc.PID(),
	}
	switch state {
	case debugger.StateStopped, debugger.StateCrashed, debugger.StateSuspended:
		out.Stopped = stoppedDetails(proc)
	case debugger.StateRunning, debugger.StateStepping:
		out.Running = &protocol.RunningDetails{AllThreadsRunning: state == debugger.StateRunning}
		if th := proc.SelectedThread(); debugger.Check(th) == nil {
			out.Running.ThreadID = th.ID()
		}
	case debugger.StateExited:
		code, desc := proc.ExitStatus()
		out.Exited = &protocol.ExitedDetails{ExitCode: code, Description: desc}
	}
	return out
}

// stoppedThread 优先返回带有停止原因的线程
func stoppedThread(proc debugger.Process) debugger.Thread {
	for _, th := range proc.Threads() {
		if debugger.Check(th) != nil {
			continue
		}
		if r := th.StopReason(); r != debugger.StopReasonNone && r != debugger.StopReasonInvalid {
			return th
		}
	}
	return proc.SelectedThread()
}

func stoppedDetails(proc debugger.Process) *protocol.StoppedDetails {
	th := stoppedThread(proc)
	if debugger.Check(th) != nil {
		return &protocol.StoppedDetails{Reason: constants.StopReasonUnknown}
	}
	reason := th.StopReason()
	details := &protocol.StoppedDetails{
		ThreadID:    th.ID(),
		Reason:      convert.StopReason(reason),
		Description: th.StopDescription(),
	}
	if data := th.StopReasonData(); len(data) > 0 {
		switch reason {
		case debugger.StopReasonBreakpoint:
			details.BreakpointID = int64(data[0])
		case debugger.StopReasonWatchpoint:
			details.WatchpointID = int64(data[0])
		case debugger.StopReasonSignal, debugger.StopReasonException:
			details.Signal = int(data[0])
		}
	}
	if th.NumFrames() > 0 {
		if f := th.Frame(0); debugger.Check(f) == nil {
			frame := convert.StackFrame(f)
			details.Frame = &frame
		}
	}
	return details
}

// drain reads until the engine has nothing buffered, one event per chunk.
func (p *Pipeline) drain(read func([]byte) int, category constants.OutputCategory) {
	buf := make([]byte, p.opts.OutputChunkSize)
	for {
		n := read(buf)
		if n <= 0 {
			return
		}
		p.out.Broadcast(&protocol.Event{ProcessOutput: &protocol.ProcessOutputEvent{
			Category: category,
			Output:   string(buf[:n]),
		}})
	}
}

func (p *Pipeline) handleTarget(ev *debugger.Event) {
	if ev.Type.Has(debugger.EventModulesLoaded) {
		p.out.Broadcast(&protocol.Event{ModulesLoaded: &protocol.ModulesEvent{Modules: convert.Modules(ev.Modules)}})
	}
	if ev.Type.Has(debugger.EventModulesUnloaded) {
		p.out.Broadcast(&protocol.Event{ModulesUnloaded: &protocol.ModulesEvent{Modules: convert.Modules(ev.Modules)}})
	}
	if ev.Type.Has(debugger.EventSymbolsLoaded) {
		p.out.Broadcast(&protocol.Event{SymbolsLoaded: &protocol.ModulesEvent{Modules: convert.Modules(ev.Modules)}})
	}
	if ev.Type.Has(debugger.EventTargetBreakpointChanged) {
		changed := &protocol.TargetBreakpointsChangedEvent{}
		if ev.BreakpointID != 0 {
			changed.BreakpointIDs = []int64{ev.BreakpointID}
		}
		p.out.Broadcast(&protocol.Event{TargetBreakpointsChanged: changed})
	}
}

func (p *Pipeline) handleBreakpoint(ev *debugger.Event) {
	target := ev.Target
	if debugger.Check(target) != nil {
		target = p.source.Target()
	}
	if p.observer != nil {
		p.observer.Observe(target, ev.BreakpointID, ev.BreakpointEvent)
	}
	changed := &protocol.BreakpointChangedEvent{
		BreakpointID: ev.BreakpointID,
		ChangeType:   convert.BreakpointReason(ev.BreakpointEvent),
	}
	if !ev.Watch && debugger.Check(target) == nil {
		if bp := target.FindBreakpoint(ev.BreakpointID); debugger.Check(bp) == nil {
			changed.Location = convert.FirstPosition(bp.Locations())
		}
	}
	p.out.Broadcast(&protocol.Event{BreakpointChanged: changed})
}

func (p *Pipeline) handleThread(ev *debugger.Event) {
	if debugger.Check(ev.Thread) != nil {
		p.log.Debug("[EventPipeline] thread event without a valid thread")
		return
	}
	thread := convert.Thread(ev.Thread)
	for _, change := range convert.ThreadChanges(ev.Type) {
		p.out.Broadcast(&protocol.Event{ThreadChanged: &protocol.ThreadChangedEvent{
			ChangeType: change,
			Thread:     thread,
		}})
	}
}
