// Package session serves one client connection: it owns the engine, the
// current target and process, and the registries shared by the request loop
// and the event pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fansqz/debug-session/breakpoints"
	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/debugger"
	e "github.com/fansqz/debug-session/error"
	"github.com/fansqz/debug-session/events"
	"github.com/fansqz/debug-session/lifecycle"
	"github.com/fansqz/debug-session/protocol"
	"github.com/fansqz/debug-session/transport"
	"github.com/fansqz/debug-session/utils"
	"github.com/fansqz/debug-session/variables"
	"github.com/sirupsen/logrus"
)

// RequestInterceptor runs before the default dispatch. A non-nil resp is
// sent instead of the default handler's; stop ends the request loop after
// that.
type RequestInterceptor func(s *Session, req *protocol.Request) (resp *protocol.Response, stop bool)

// Options 会话配置，零值字段使用默认值
type Options struct {
	// Backend 引擎名称，Engine不为空时忽略
	Backend string
	Engine  debugger.Debugger

	MaxMessageSize      int
	MaxMemoryTransfer   int
	MaxDisassembleRange uint64
	IdleTimeout         time.Duration

	Events    events.Options
	Lifecycle lifecycle.Options

	Interceptor RequestInterceptor
	Logger      *logrus.Entry
}

func (o *Options) fill() {
	if o.Backend == "" {
		o.Backend = "simulator"
	}
	if o.MaxMemoryTransfer <= 0 || o.MaxMemoryTransfer > constants.MaxMemoryTransfer {
		o.MaxMemoryTransfer = constants.MaxMemoryTransfer
	}
	if o.MaxDisassembleRange == 0 || o.MaxDisassembleRange > constants.MaxDisassembleRange {
		o.MaxDisassembleRange = constants.MaxDisassembleRange
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Session 一个客户端连接对应一个会话
type Session struct {
	id     string
	log    *logrus.Entry
	opts   Options
	conn   *transport.Transport
	engine debugger.Debugger

	// mu guards the current handles and the console
	mu      sync.Mutex
	target  debugger.Target
	process debugger.Process
	console *console

	variables   *variables.Registry
	breakpoints *breakpoints.Registry
	pipeline    *events.Pipeline
	lifecycle   *lifecycle.Controller
	status      *utils.StatusManager
	watchdog    *utils.Watchdog

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New opens the engine and wraps conn. remote is only used for logging.
func New(conn io.ReadWriteCloser, remote string, opts Options) (*Session, error) {
	opts.fill()
	engine := opts.Engine
	if engine == nil {
		var err error
		if engine, err = debugger.Open(opts.Backend); err != nil {
			return nil, err
		}
	}
	id := utils.GetUUID()
	s := &Session{
		id:          id,
		log:         opts.Logger.WithFields(logrus.Fields{"session_id": id, "remote": remote}),
		opts:        opts,
		conn:        transport.New(conn, opts.MaxMessageSize),
		engine:      engine,
		variables:   variables.NewRegistry(),
		breakpoints: breakpoints.NewRegistry(),
		status:      utils.NewStatusManager(),
	}
	s.pipeline = events.NewPipeline(engine, s, s, s.breakpoints, opts.Events, s.log)
	lc := opts.Lifecycle
	lc.Drain = s.pipeline.Pump
	s.lifecycle = lifecycle.NewController(lc, s.log)
	s.watchdog = utils.NewWatchdog(lc.Clock)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Status 会话当前所处阶段
func (s *Session) Status() string { return s.status.Get() }

// Target 当前调试目标，可能为nil
func (s *Session) Target() debugger.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Process 当前被调试进程，可能为nil
func (s *Session) Process() debugger.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process
}

// Broadcast sends an unsolicited event. Failures are only logged, the
// request loop notices a dead connection on its own.
func (s *Session) Broadcast(ev *protocol.Event) {
	payload, err := protocol.Encode(protocol.NewEventMessage(ev))
	if err != nil {
		s.log.Errorf("[Session] encode %s event fail, err = %v", ev.Name(), err)
		return
	}
	if err = s.conn.Send(payload); err != nil {
		s.log.Debugf("[Session] drop %s event: %v", ev.Name(), err)
	}
}

func (s *Session) respond(resp *protocol.Response) error {
	payload, err := protocol.Encode(protocol.NewResponseMessage(resp))
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return s.conn.Send(payload)
}

// Run serves requests until the connection is lost, a Shutdown request
// arrives or the interceptor asks to stop, then tears the session down. It
// returns the transport error that ended the loop, if any.
func (s *Session) Run(ctx context.Context) error {
	if !s.status.CompareAndSet(utils.Serving, utils.Init) {
		return errors.New("session already started")
	}
	defer s.Close()
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	s.log.Info("[Session] serving")
	s.pipeline.Start(s.ctx)
	if s.opts.IdleTimeout > 0 {
		s.watchdog.Start(s.ctx, s.opts.IdleTimeout, func() {
			s.log.Warnf("[Session] idle for %s, closing connection", s.opts.IdleTimeout)
			_ = s.conn.Close()
		})
	}

	for {
		payload, err := s.conn.Receive()
		if errors.Is(err, e.ErrEmptyMessage) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || s.watchdog.Fired() {
				s.log.Infof("[Session] connection closed: %v", err)
				return nil
			}
			s.log.Errorf("[Session] transport failure: %v", err)
			return err
		}
		s.watchdog.Reset()

		msg, err := protocol.Decode(payload)
		if err != nil {
			s.log.Warnf("[Session] skip message: %v", err)
			continue
		}
		if msg.Kind != constants.RequestMessage {
			s.log.Warnf("[Session] skip %s message from client", msg.Kind)
			continue
		}
		if s.serve(msg.Request) {
			return nil
		}
	}
}

// serve handles one request and reports whether the loop should end.
func (s *Session) serve(req *protocol.Request) bool {
	if s.opts.Interceptor != nil {
		resp, stop := s.opts.Interceptor(s, req)
		if resp != nil {
			resp.Hash = req.Hash
			s.send(req, resp)
			return stop
		}
		if stop {
			return true
		}
	}
	name := req.Name()
	if name == "" {
		s.log.Warnf("[Session] unknown request, hash = %q", req.Hash)
		return false
	}
	start := time.Now()
	resp := s.dispatch(req)
	s.log.WithField("elapsed", time.Since(start)).Debugf("[Session] handled %s", name)
	s.send(req, resp)
	return req.Shutdown != nil
}

func (s *Session) send(req *protocol.Request, resp *protocol.Response) {
	if err := s.respond(resp); err != nil {
		s.log.Errorf("[Session] send %s response fail, err = %v", req.Name(), err)
	}
}

// dispatch routes req to its handler. A panicking handler yields a failed
// response instead of ending the loop.
func (s *Session) dispatch(req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("[Session] %s panicked: %v\n%s", req.Name(), r, debug.Stack())
			resp = protocol.FailedResponse(req, fmt.Errorf("%w: %v", e.ErrEngineFailure, r))
		}
	}()
	resp = &protocol.Response{Hash: req.Hash}
	switch {
	case req.CreateTarget != nil:
		resp.CreateTarget = s.onCreateTarget(req.CreateTarget)
	case req.Launch != nil:
		resp.Launch = s.onLaunch(req.Launch)
	case req.Attach != nil:
		resp.Attach = s.onAttach(req.Attach)
	case req.Detach != nil:
		resp.Detach = s.onDetach()
	case req.Kill != nil:
		resp.Kill = s.onKill()
	case req.Continue != nil:
		resp.Continue = s.onContinue()
	case req.Suspend != nil:
		resp.Suspend = s.onSuspend()
	case req.Step != nil:
		resp.Step = s.onStep(req.Step)
	case req.RunToAddress != nil:
		resp.RunToAddress = s.onRunToAddress(req.RunToAddress)
	case req.RunToLocation != nil:
		resp.RunToLocation = s.onRunToLocation(req.RunToLocation)
	case req.AddBreakpoint != nil:
		resp.AddBreakpoint = s.onAddBreakpoint(req.AddBreakpoint)
	case req.RemoveBreakpoint != nil:
		resp.RemoveBreakpoint = s.onRemoveBreakpoint(req.RemoveBreakpoint)
	case req.UpdateBreakpoint != nil:
		resp.UpdateBreakpoint = s.onUpdateBreakpoint(req.UpdateBreakpoint)
	case req.ClearBreakpoints != nil:
		resp.ClearBreakpoints = s.onClearBreakpoints()
	case req.ListBreakpoints != nil:
		resp.ListBreakpoints = s.onListBreakpoints(req.ListBreakpoints)
	case req.GetThreads != nil:
		resp.GetThreads = s.onGetThreads()
	case req.GetFrames != nil:
		resp.GetFrames = s.onGetFrames(req.GetFrames)
	case req.GetVariables != nil:
		resp.GetVariables = s.onGetVariables(req.GetVariables)
	case req.GetVariableChildren != nil:
		resp.GetVariableChildren = s.onGetVariableChildren(req.GetVariableChildren)
	case req.SetVariableValue != nil:
		resp.SetVariableValue = s.onSetVariableValue(req.SetVariableValue)
	case req.GetRegisters != nil:
		resp.GetRegisters = s.onGetRegisters(req.GetRegisters)
	case req.Evaluate != nil:
		resp.Evaluate = s.onEvaluate(req.Evaluate)
	case req.ReadMemory != nil:
		resp.ReadMemory = s.onReadMemory(req.ReadMemory)
	case req.WriteMemory != nil:
		resp.WriteMemory = s.onWriteMemory(req.WriteMemory)
	case req.Disassemble != nil:
		resp.Disassemble = s.onDisassemble(req.Disassemble)
	case req.ExecuteCommand != nil:
		resp.ExecuteCommand = s.onExecuteCommand(req.ExecuteCommand)
	case req.Complete != nil:
		resp.Complete = s.onComplete(req.Complete)
	case req.GetModules != nil:
		resp.GetModules = s.onGetModules()
	case req.GetProcessInfo != nil:
		resp.GetProcessInfo = s.onGetProcessInfo()
	case req.SendInput != nil:
		resp.SendInput = s.onSendInput(req.SendInput)
	case req.Shutdown != nil:
		s.log.Info("[Session] shutdown requested")
		resp.Shutdown = &protocol.StatusResponse{Status: protocol.OK()}
	}
	return resp
}

// ensurePipeline restarts the event loop if it exited after the previous
// process died.
func (s *Session) ensurePipeline() {
	if s.pipeline.Start(s.ctx) {
		s.log.Debug("[Session] event pipeline restarted")
	}
}

// Close tears the session down once: the event loop stops, the debuggee is
// terminated while pending events are still delivered, then handles,
// breakpoints and the engine are released.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.status.Set(utils.TearingDown)
		s.log.Info("[Session] tearing down")
		s.watchdog.Cancel()
		s.pipeline.Stop()

		result := s.lifecycle.EnsureTerminated(s.Process())
		s.log.Infof("[Session] process teardown: %s (clean = %v)", result.Strategy, result.Clean)

		s.mu.Lock()
		c := s.console
		s.console = nil
		target := s.target
		s.mu.Unlock()
		if c != nil {
			c.Close()
		}

		if n := s.variables.SweepInvalid(); n > 0 {
			s.log.Debugf("[Session] swept %d stale variable handles", n)
		}
		s.variables.Clear()
		if _, err := s.breakpoints.ClearAll(target); err != nil && debugger.Check(target) == nil {
			s.log.Warnf("[Session] clear breakpoints: %v", err)
		}
		if err := s.engine.Close(); err != nil {
			s.log.Errorf("[Session] close engine fail, err = %v", err)
		}
		s.cancel()
		_ = s.conn.Close()
		s.status.Set(utils.Finish)
		s.log.Info("[Session] finished")
	})
}
