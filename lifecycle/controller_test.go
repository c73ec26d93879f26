package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fansqz/debug-session/debugger"
	"github.com/fansqz/debug-session/debugger/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess records every termination primitive it receives.
type fakeProcess struct {
	debugger.Process

	mu    sync.Mutex
	state debugger.StateType
	calls []string

	// on maps a primitive to the state it leaves behind; missing means no effect
	on   map[string]debugger.StateType
	fail map[string]bool
}

func newFake(state debugger.StateType) *fakeProcess {
	return &fakeProcess{state: state, on: map[string]debugger.StateType{}, fail: map[string]bool{}}
}

func (f *fakeProcess) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.fail[name] {
		return errors.New(name + " failed")
	}
	if s, ok := f.on[name]; ok {
		f.state = s
	}
	return nil
}

func (f *fakeProcess) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProcess) IsValid() bool { return true }
func (f *fakeProcess) PID() int      { return 0 }
func (f *fakeProcess) State() debugger.StateType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakeProcess) Stop() error    { return f.record("stop") }
func (f *fakeProcess) Destroy() error { return f.record("destroy") }
func (f *fakeProcess) Detach() error  { return f.record("detach") }
func (f *fakeProcess) Signal(sig debugger.Signal) error {
	return f.record(sig.String())
}

func fastOptions() Options {
	return Options{
		StopDelay:      time.Millisecond,
		DestroyTimeout: 5 * time.Millisecond,
		SignalGrace:    5 * time.Millisecond,
		SignalTimeout:  5 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}
}

var (
	sigterm = debugger.SIGTERM.String()
	sigkill = debugger.SIGKILL.String()
)

func TestTerminalStateIsNoop(t *testing.T) {
	for _, state := range []debugger.StateType{debugger.StateExited, debugger.StateDetached} {
		p := newFake(state)
		res := NewController(fastOptions(), nil).EnsureTerminated(p)
		assert.Equal(t, Result{Strategy: AlreadyTerminated, Clean: true}, res)
		assert.Empty(t, p.Calls())
	}
}

func TestNilProcessIsNoop(t *testing.T) {
	res := NewController(fastOptions(), nil).EnsureTerminated(nil)
	assert.Equal(t, AlreadyTerminated, res.Strategy)
}

func TestDestroySucceeds(t *testing.T) {
	p := newFake(debugger.StateStopped)
	p.on["destroy"] = debugger.StateExited
	res := NewController(fastOptions(), nil).EnsureTerminated(p)
	assert.Equal(t, Result{Strategy: Destroy, Clean: true}, res)
	assert.Equal(t, []string{"destroy"}, p.Calls())
}

func TestRunningProcessIsStoppedFirst(t *testing.T) {
	p := newFake(debugger.StateRunning)
	p.on["stop"] = debugger.StateStopped
	p.on["destroy"] = debugger.StateExited
	res := NewController(fastOptions(), nil).EnsureTerminated(p)
	assert.Equal(t, Destroy, res.Strategy)
	assert.Equal(t, []string{"stop", "destroy"}, p.Calls())
}

func TestEscalatesToSigkill(t *testing.T) {
	p := newFake(debugger.StateStopped)
	p.fail["destroy"] = true
	p.on[sigkill] = debugger.StateExited
	res := NewController(fastOptions(), nil).EnsureTerminated(p)
	assert.Equal(t, Result{Strategy: Signal, Clean: true}, res)
	assert.Equal(t, []string{"destroy", sigterm, sigkill}, p.Calls())
}

func TestSigtermEnough(t *testing.T) {
	p := newFake(debugger.StateStopped)
	p.on[sigterm] = debugger.StateExited
	res := NewController(fastOptions(), nil).EnsureTerminated(p)
	assert.Equal(t, Signal, res.Strategy)
	assert.Equal(t, []string{"destroy", sigterm}, p.Calls())
}

func TestDetachIsLastResort(t *testing.T) {
	p := newFake(debugger.StateRunning)
	p.fail["stop"] = true
	p.fail["detach"] = true
	res := NewController(fastOptions(), nil).EnsureTerminated(p)
	assert.Equal(t, Result{Strategy: Detach, Clean: false}, res)
	assert.Equal(t, []string{"stop", "destroy", sigterm, sigkill, "detach"}, p.Calls())
}

func TestRunsOnce(t *testing.T) {
	p := newFake(debugger.StateStopped)
	p.on["destroy"] = debugger.StateExited
	c := NewController(fastOptions(), nil)
	first := c.EnsureTerminated(p)
	second := c.EnsureTerminated(p)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"destroy"}, p.Calls())
}

func TestDrainRunsWhileWaiting(t *testing.T) {
	p := newFake(debugger.StateStopped)
	drains := 0
	opts := fastOptions()
	opts.Drain = func() {
		drains++
		// the exit event arrives on the third drain
		if drains == 3 {
			p.mu.Lock()
			p.state = debugger.StateExited
			p.mu.Unlock()
		}
	}
	opts.DestroyTimeout = time.Second
	res := NewController(opts, nil).EnsureTerminated(p)
	assert.Equal(t, Destroy, res.Strategy)
	assert.Equal(t, 3, drains)
}

func TestWaitsAreBounded(t *testing.T) {
	mock := clock.NewMock()
	opts := DefaultOptions()
	opts.Clock = mock
	p := newFake(debugger.StateRunning)
	start := mock.Now()

	done := make(chan Result, 1)
	go func() { done <- NewController(opts, nil).EnsureTerminated(p) }()
	for {
		select {
		case res := <-done:
			assert.Equal(t, Detach, res.Strategy)
			elapsed := mock.Now().Sub(start)
			assert.GreaterOrEqual(t, elapsed, opts.StopDelay+opts.DestroyTimeout+opts.SignalGrace+opts.SignalTimeout)
			return
		default:
			mock.Add(opts.PollInterval)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSimulatedProcessIgnoringSignals(t *testing.T) {
	en := simulator.New(simulator.Options{
		FailDestroy:    true,
		IgnoredSignals: []debugger.Signal{debugger.SIGTERM},
	})
	target, err := en.CreateTarget("/tmp/a.out", nil)
	require.NoError(t, err)
	p, err := target.Launch(&debugger.LaunchOptions{StopAtEntry: true})
	require.NoError(t, err)

	res := NewController(fastOptions(), nil).EnsureTerminated(p)
	assert.Equal(t, Signal, res.Strategy)
	assert.Equal(t, debugger.StateExited, p.State())
	code, _ := p.ExitStatus()
	assert.Equal(t, 137, code)
}

func TestOSKillFallback(t *testing.T) {
	p := &pidOnly{fakeProcess: newFake(debugger.StateStopped), pid: 1234}
	p.fail["destroy"] = true
	c := NewController(fastOptions(), nil)
	var sent []debugger.Signal
	c.kill = func(pid int, sig debugger.Signal) error {
		assert.Equal(t, 1234, pid)
		sent = append(sent, sig)
		return errProcessGone
	}
	res := c.EnsureTerminated(p)
	// the fake never reports exit, so the gone signal alone is not trusted
	assert.Equal(t, Detach, res.Strategy)
	assert.Equal(t, []debugger.Signal{debugger.SIGTERM}, sent)
}

// pidOnly hides Signal so the controller falls back to signalling the pid.
type pidOnly struct {
	*fakeProcess
	pid int
}

func (p *pidOnly) PID() int { return p.pid }

func (p *pidOnly) Signal() {}
