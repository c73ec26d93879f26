package session

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/debugger"
	"github.com/fansqz/debug-session/debugger/simulator"
	"github.com/fansqz/debug-session/lifecycle"
	"github.com/fansqz/debug-session/protocol"
	"github.com/fansqz/debug-session/transport"
	"github.com/fansqz/debug-session/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timeout = 3 * time.Second

// testClient 通过net.Pipe与会话通信，响应和事件分开收集
type testClient struct {
	t         *testing.T
	session   *Session
	engine    *simulator.Engine
	conn      *transport.Transport
	responses chan *protocol.Response
	eventCh   chan *protocol.Event
	done      chan error
	seq       int
}

func newTestClient(t *testing.T, opts Options) *testClient {
	server, client := net.Pipe()
	engine := simulator.New(simulator.Options{})
	opts.Engine = engine
	if opts.Events.WaitTimeout == 0 {
		opts.Events.WaitTimeout = 20 * time.Millisecond
	}
	opts.Lifecycle = lifecycle.Options{
		StopDelay:      time.Millisecond,
		DestroyTimeout: 50 * time.Millisecond,
		SignalGrace:    20 * time.Millisecond,
		SignalTimeout:  20 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}
	s, err := New(server, "pipe", opts)
	require.NoError(t, err)

	c := &testClient{
		t:         t,
		session:   s,
		engine:    engine,
		conn:      transport.New(client, 0),
		responses: make(chan *protocol.Response, 1024),
		eventCh:   make(chan *protocol.Event, 1024),
		done:      make(chan error, 1),
	}
	go func() { c.done <- s.Run(context.Background()) }()
	go c.read()
	t.Cleanup(func() {
		_ = c.conn.Close()
		s.Close()
	})
	return c
}

func (c *testClient) read() {
	for {
		payload, err := c.conn.Receive()
		if err != nil {
			if transport.IsFatal(err) {
				return
			}
			continue
		}
		msg, err := protocol.Decode(payload)
		if err != nil {
			continue
		}
		switch msg.Kind {
		case constants.ResponseMessage:
			c.responses <- msg.Response
		case constants.EventMessage:
			c.eventCh <- msg.Event
		}
	}
}

func (c *testClient) send(req *protocol.Request) {
	payload, err := protocol.Encode(protocol.NewRequestMessage(req))
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Send(payload))
}

// request 发送请求并等待对应hash的响应
func (c *testClient) request(req *protocol.Request) *protocol.Response {
	c.seq++
	req.Hash = "req-" + strconv.Itoa(c.seq)
	c.send(req)
	select {
	case resp := <-c.responses:
		require.Equal(c.t, req.Hash, resp.Hash)
		return resp
	case <-time.After(timeout):
		c.t.Fatalf("timed out waiting for response to %s", req.Name())
	}
	return nil
}

// waitForState skips other events until the process reaches state.
func (c *testClient) waitForState(state constants.ProcessState) *protocol.ProcessStateChangedEvent {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-c.eventCh:
			if ev.ProcessStateChanged != nil && ev.ProcessStateChanged.State == state {
				return ev.ProcessStateChanged
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for process state %s", state)
			return nil
		}
	}
}

func (c *testClient) waitDone() error {
	select {
	case err := <-c.done:
		return err
	case <-time.After(timeout):
		c.t.Fatal("session did not end")
	}
	return nil
}

func (c *testClient) createTarget() {
	resp := c.request(&protocol.Request{CreateTarget: &protocol.CreateTargetRequest{FilePath: "a.out"}})
	require.True(c.t, resp.CreateTarget.Success, resp.CreateTarget.ErrorMessage)
}

func (c *testClient) launch(stopAtEntry bool) int {
	resp := c.request(&protocol.Request{Launch: &protocol.LaunchRequest{ExecutablePath: "a.out", StopAtEntry: stopAtEntry}})
	require.True(c.t, resp.Launch.Success, resp.Launch.ErrorMessage)
	return resp.Launch.ProcessID
}

func TestCreateTargetAndLaunch(t *testing.T) {
	c := newTestClient(t, Options{})
	resp := c.request(&protocol.Request{CreateTarget: &protocol.CreateTargetRequest{FilePath: "a.out"}})
	require.True(t, resp.CreateTarget.Success)
	assert.Equal(t, "a.out", resp.CreateTarget.Executable)
	assert.NotEmpty(t, resp.CreateTarget.Triple)

	resp = c.request(&protocol.Request{Launch: &protocol.LaunchRequest{ExecutablePath: "a.out", Argv: []string{}}})
	require.True(t, resp.Launch.Success)
	assert.Greater(t, resp.Launch.ProcessID, 0)

	running := c.waitForState(constants.ProcessRunning)
	assert.Equal(t, resp.Launch.ProcessID, running.ProcessID)
	exited := c.waitForState(constants.ProcessExited)
	require.NotNil(t, exited.Exited)
	assert.Equal(t, 0, exited.Exited.ExitCode)

	info := c.request(&protocol.Request{GetProcessInfo: &protocol.GetProcessInfoRequest{}}).GetProcessInfo
	require.True(t, info.Success)
	assert.Equal(t, constants.ProcessExited, info.State)
	require.NotNil(t, info.ExitCode)
	assert.Equal(t, 0, *info.ExitCode)
}

func TestAddAndRemoveBreakpoint(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()

	add := c.request(&protocol.Request{AddBreakpoint: &protocol.AddBreakpointRequest{
		Line: &protocol.LineLocation{File: "a.out.c", Line: 10},
	}}).AddBreakpoint
	require.True(t, add.Success, add.ErrorMessage)
	require.NotNil(t, add.Breakpoint)
	assert.Greater(t, add.Breakpoint.ID, int64(0))

	list := c.request(&protocol.Request{ListBreakpoints: &protocol.ListBreakpointsRequest{File: "a.out.c", Line: 10}}).ListBreakpoints
	require.Len(t, list.Breakpoints, 1)
	assert.Equal(t, add.Breakpoint.ID, list.Breakpoints[0].ID)

	remove := c.request(&protocol.Request{RemoveBreakpoint: &protocol.RemoveBreakpointRequest{ID: add.Breakpoint.ID}}).RemoveBreakpoint
	assert.True(t, remove.Success)
	remove = c.request(&protocol.Request{RemoveBreakpoint: &protocol.RemoveBreakpointRequest{ID: add.Breakpoint.ID}}).RemoveBreakpoint
	assert.False(t, remove.Success)
	assert.Contains(t, remove.ErrorMessage, "not found")
}

func TestBreakpointWithoutTarget(t *testing.T) {
	c := newTestClient(t, Options{})
	add := c.request(&protocol.Request{AddBreakpoint: &protocol.AddBreakpointRequest{
		Line: &protocol.LineLocation{File: "a.out.c", Line: 10},
	}}).AddBreakpoint
	assert.False(t, add.Success)
	assert.Equal(t, "no valid target", add.ErrorMessage)
}

func TestStopAndInspect(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()
	add := c.request(&protocol.Request{AddBreakpoint: &protocol.AddBreakpointRequest{
		Line: &protocol.LineLocation{File: "a.out.c", Line: 8},
	}}).AddBreakpoint
	require.True(t, add.Success)
	pid := c.launch(false)

	stopped := c.waitForState(constants.ProcessStopped).Stopped
	require.NotNil(t, stopped)
	assert.Equal(t, constants.StopReasonBreakpoint, stopped.Reason)
	assert.Equal(t, add.Breakpoint.ID, stopped.BreakpointID)

	threads := c.request(&protocol.Request{GetThreads: &protocol.GetThreadsRequest{}}).GetThreads
	require.Len(t, threads.Threads, 1)
	assert.Equal(t, pid, threads.Threads[0].Id)

	frames := c.request(&protocol.Request{GetFrames: &protocol.GetFramesRequest{ThreadID: int64(pid)}}).GetFrames
	require.True(t, frames.Success)
	assert.Equal(t, 2, frames.TotalFrames)
	require.Len(t, frames.Frames, 2)
	assert.Equal(t, 8, frames.Frames[0].Line)

	vars := c.request(&protocol.Request{GetVariables: &protocol.GetVariablesRequest{
		ThreadID: int64(pid),
		Scopes:   []constants.VariableScope{constants.ScopeLocals},
	}}).GetVariables
	require.True(t, vars.Success)
	require.Len(t, vars.Variables, 3)
	point := vars.Variables[1]
	assert.Equal(t, "point", point.Name)
	assert.Equal(t, 2, point.NumChildren)
	require.NotZero(t, point.Handle)

	children := c.request(&protocol.Request{GetVariableChildren: &protocol.GetVariableChildrenRequest{Handle: point.Handle}}).GetVariableChildren
	require.True(t, children.Success)
	require.Len(t, children.Variables, 2)
	x := children.Variables[0]
	assert.Equal(t, "x", x.Name)
	assert.Equal(t, "1", x.Value)

	set := c.request(&protocol.Request{SetVariableValue: &protocol.SetVariableValueRequest{Handle: x.Handle, Value: "5"}}).SetVariableValue
	require.True(t, set.Success, set.ErrorMessage)
	assert.Equal(t, "5", set.Variable.Value)

	eval := c.request(&protocol.Request{Evaluate: &protocol.EvaluateRequest{Expression: "point.x"}}).Evaluate
	require.True(t, eval.Success)
	assert.Equal(t, "5", eval.Variable.Value)
	eval = c.request(&protocol.Request{Evaluate: &protocol.EvaluateRequest{Expression: "nope"}}).Evaluate
	assert.False(t, eval.Success)
	assert.Contains(t, eval.ErrorMessage, "undeclared identifier")

	bad := c.request(&protocol.Request{GetVariables: &protocol.GetVariablesRequest{ThreadID: int64(pid), FrameIndex: 7}}).GetVariables
	assert.False(t, bad.Success)
	assert.Contains(t, bad.ErrorMessage, "frame index out of range")

	cont := c.request(&protocol.Request{Continue: &protocol.ContinueRequest{}}).Continue
	require.True(t, cont.Success)
	c.waitForState(constants.ProcessExited)

	stale := c.request(&protocol.Request{GetVariableChildren: &protocol.GetVariableChildrenRequest{Handle: point.Handle}}).GetVariableChildren
	assert.False(t, stale.Success)
	assert.Contains(t, stale.ErrorMessage, "variable handle not found")
}

func TestStepAndRunToLocation(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()
	c.launch(true)
	c.waitForState(constants.ProcessStopped)

	step := c.request(&protocol.Request{Step: &protocol.StepRequest{Kind: constants.StepOver}}).Step
	require.True(t, step.Success)
	stopped := c.waitForState(constants.ProcessStopped).Stopped
	assert.Equal(t, constants.StopReasonPlanComplete, stopped.Reason)
	assert.Equal(t, 2, stopped.Frame.Line)

	bad := c.request(&protocol.Request{Step: &protocol.StepRequest{Kind: "sideways"}}).Step
	assert.False(t, bad.Success)

	run := c.request(&protocol.Request{RunToLocation: &protocol.RunToLocationRequest{File: "a.out.c", Line: 6}}).RunToLocation
	require.True(t, run.Success, run.ErrorMessage)
	stopped = c.waitForState(constants.ProcessStopped).Stopped
	assert.Equal(t, constants.StopReasonBreakpoint, stopped.Reason)
	assert.Equal(t, 6, stopped.Frame.Line)

	run = c.request(&protocol.Request{RunToLocation: &protocol.RunToLocationRequest{File: "other.c", Line: 6}}).RunToLocation
	assert.False(t, run.Success)
}

func TestResourceGuards(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()
	c.launch(true)

	read := c.request(&protocol.Request{ReadMemory: &protocol.ReadMemoryRequest{Address: 0x1000, Size: constants.MaxMemoryTransfer + 1}}).ReadMemory
	assert.False(t, read.Success)
	assert.Contains(t, read.ErrorMessage, "memory transfer too large")

	read = c.request(&protocol.Request{ReadMemory: &protocol.ReadMemoryRequest{Address: 0x1000, Size: 8}}).ReadMemory
	require.True(t, read.Success, read.ErrorMessage)
	assert.Len(t, read.Data, 8)

	dis := c.request(&protocol.Request{Disassemble: &protocol.DisassembleRequest{
		StartAddress: 0x1000,
		EndAddress:   0x1000 + constants.MaxDisassembleRange + 4,
	}}).Disassemble
	assert.False(t, dis.Success)
	assert.Contains(t, dis.ErrorMessage, "disassembly range too large")

	dis = c.request(&protocol.Request{Disassemble: &protocol.DisassembleRequest{StartAddress: 0x1000, Count: 4}}).Disassemble
	require.True(t, dis.Success, dis.ErrorMessage)
	assert.Len(t, dis.Instructions, 4)
	assert.Equal(t, uint32(4), dis.Alignment)
	assert.Equal(t, uint64(0x1010), dis.EndAddress)
}

func TestCommandsAndModules(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()

	cmd := c.request(&protocol.Request{ExecuteCommand: &protocol.ExecuteCommandRequest{Command: "version"}}).ExecuteCommand
	require.True(t, cmd.Success)
	assert.Equal(t, "simulator version 1.0\n", cmd.Output)

	complete := c.request(&protocol.Request{Complete: &protocol.CompleteRequest{Text: "thr", Cursor: 3}}).Complete
	assert.Equal(t, []string{"thread backtrace"}, complete.Matches)

	modules := c.request(&protocol.Request{GetModules: &protocol.GetModulesRequest{}}).GetModules
	require.Len(t, modules.Modules, 1)
	assert.Equal(t, uint64(0x1000), modules.Modules[0].LoadAddress)
}

func TestInvalidMessagesAreSkipped(t *testing.T) {
	c := newTestClient(t, Options{})
	require.NoError(t, c.conn.Send([]byte{}))
	require.NoError(t, c.conn.Send([]byte("{{")))
	require.NoError(t, c.conn.Send([]byte(`{"kind":"response","response":{"hash":"x"}}`)))
	// 没有任何变体的请求只记录日志
	c.send(&protocol.Request{Hash: "unknown"})

	cmd := c.request(&protocol.Request{ExecuteCommand: &protocol.ExecuteCommandRequest{Command: "help"}}).ExecuteCommand
	assert.True(t, cmd.Success)
	assert.Equal(t, utils.Serving, c.session.Status())
}

func TestShutdownTerminatesProcess(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()
	c.launch(true)
	p := c.session.Process()

	resp := c.request(&protocol.Request{Shutdown: &protocol.ShutdownRequest{}})
	assert.True(t, resp.Shutdown.Success)
	assert.NoError(t, c.waitDone())
	assert.Equal(t, utils.Finish, c.session.Status())
	assert.Equal(t, debugger.StateExited, p.State())
}

func TestConnectionLossTearsDown(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()
	c.launch(true)
	p := c.session.Process()

	require.NoError(t, c.conn.Close())
	assert.NoError(t, c.waitDone())
	assert.Equal(t, debugger.StateExited, p.State())
}

func TestInterceptor(t *testing.T) {
	c := newTestClient(t, Options{Interceptor: func(s *Session, req *protocol.Request) (*protocol.Response, bool) {
		if req.ExecuteCommand == nil {
			return nil, false
		}
		switch req.ExecuteCommand.Command {
		case "ping":
			return &protocol.Response{ExecuteCommand: &protocol.ExecuteCommandResponse{Status: protocol.OK(), Output: "pong"}}, false
		case "quit":
			return nil, true
		}
		return nil, false
	}})
	cmd := c.request(&protocol.Request{ExecuteCommand: &protocol.ExecuteCommandRequest{Command: "ping"}}).ExecuteCommand
	assert.Equal(t, "pong", cmd.Output)
	cmd = c.request(&protocol.Request{ExecuteCommand: &protocol.ExecuteCommandRequest{Command: "version"}}).ExecuteCommand
	assert.Equal(t, "simulator version 1.0\n", cmd.Output)

	c.send(&protocol.Request{ExecuteCommand: &protocol.ExecuteCommandRequest{Command: "quit"}})
	assert.NoError(t, c.waitDone())
}

func TestIdleTimeoutClosesSession(t *testing.T) {
	c := newTestClient(t, Options{IdleTimeout: 50 * time.Millisecond})
	assert.NoError(t, c.waitDone())
	assert.Equal(t, utils.Finish, c.session.Status())
}

func TestPtyConsole(t *testing.T) {
	ptm, pts, err := pty.Open()
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	_ = ptm.Close()
	_ = pts.Close()

	c := newTestClient(t, Options{})
	c.createTarget()
	resp := c.request(&protocol.Request{Launch: &protocol.LaunchRequest{
		ExecutablePath: "a.out",
		ConsoleMode:    constants.ConsolePty,
	}}).Launch
	require.True(t, resp.Success, resp.ErrorMessage)

	var output strings.Builder
	deadline := time.After(timeout)
	for !strings.Contains(output.String(), "Hello, World!") {
		select {
		case ev := <-c.eventCh:
			if ev.ProcessOutput != nil {
				output.WriteString(ev.ProcessOutput.Output)
			}
		case <-deadline:
			t.Fatalf("no console output, got %q", output.String())
		}
	}

	input := c.request(&protocol.Request{SendInput: &protocol.SendInputRequest{Content: "42\n"}}).SendInput
	assert.True(t, input.Success, input.ErrorMessage)
}

func TestSendInputWithoutConsole(t *testing.T) {
	c := newTestClient(t, Options{})
	input := c.request(&protocol.Request{SendInput: &protocol.SendInputRequest{Content: "x"}}).SendInput
	assert.False(t, input.Success)
}

func TestRunToLocationRejectsWideThreadID(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()
	c.launch(true)

	run := c.request(&protocol.Request{RunToLocation: &protocol.RunToLocationRequest{
		File:     "a.out.c",
		Line:     6,
		ThreadID: 1 << 40,
	}}).RunToLocation
	assert.False(t, run.Success)
	assert.Contains(t, run.ErrorMessage, "thread not found")

	list := c.request(&protocol.Request{ListBreakpoints: &protocol.ListBreakpointsRequest{}}).ListBreakpoints
	assert.Empty(t, list.Breakpoints)
}

func TestListBreakpointsAtSharedLine(t *testing.T) {
	c := newTestClient(t, Options{})
	c.createTarget()
	var ids []int64
	for i := 0; i < 2; i++ {
		add := c.request(&protocol.Request{AddBreakpoint: &protocol.AddBreakpointRequest{
			Line: &protocol.LineLocation{File: "a.out.c", Line: 10},
		}}).AddBreakpoint
		require.True(t, add.Success)
		ids = append(ids, add.Breakpoint.ID)
	}

	list := c.request(&protocol.Request{ListBreakpoints: &protocol.ListBreakpointsRequest{File: "a.out.c", Line: 10}}).ListBreakpoints
	require.Len(t, list.Breakpoints, 2)

	remove := c.request(&protocol.Request{RemoveBreakpoint: &protocol.RemoveBreakpointRequest{ID: ids[1]}}).RemoveBreakpoint
	require.True(t, remove.Success)
	list = c.request(&protocol.Request{ListBreakpoints: &protocol.ListBreakpointsRequest{File: "a.out.c", Line: 10}}).ListBreakpoints
	require.Len(t, list.Breakpoints, 1)
	assert.Equal(t, ids[0], list.Breakpoints[0].ID)
}
