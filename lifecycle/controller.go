// Package lifecycle guarantees the debuggee is gone before the session
// releases the engine.
package lifecycle

import (
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fansqz/debug-session/debugger"
	"github.com/sirupsen/logrus"
)

var errProcessGone = errors.New("process already gone")

// Strategy is one rung of the termination ladder, tried in declaration order.
type Strategy int

const (
	// AlreadyTerminated nothing had to be done.
	AlreadyTerminated Strategy = iota
	Destroy
	Signal
	Detach
)

func (s Strategy) String() string {
	switch s {
	case AlreadyTerminated:
		return "already-terminated"
	case Destroy:
		return "destroy"
	case Signal:
		return "signal"
	case Detach:
		return "detach"
	}
	return "unknown"
}

// Options 各个等待步骤的超时
type Options struct {
	StopDelay      time.Duration
	DestroyTimeout time.Duration
	SignalGrace    time.Duration
	SignalTimeout  time.Duration
	PollInterval   time.Duration

	Clock clock.Clock
	// Drain handles pending engine events while a wait step polls.
	Drain func()
}

func DefaultOptions() Options {
	return Options{
		StopDelay:      200 * time.Millisecond,
		DestroyTimeout: 2 * time.Second,
		SignalGrace:    500 * time.Millisecond,
		SignalTimeout:  time.Second,
		PollInterval:   50 * time.Millisecond,
	}
}

// Result 终止结果
type Result struct {
	// Strategy is the rung that confirmed termination, or the last one tried.
	Strategy Strategy
	// Clean is false when only a detach (or nothing) was left to try.
	Clean bool
}

// Controller runs the termination ladder at most once.
type Controller struct {
	opts Options
	log  *logrus.Entry
	kill func(pid int, sig debugger.Signal) error

	once   sync.Once
	result Result
}

func NewController(opts Options, log *logrus.Entry) *Controller {
	def := DefaultOptions()
	if opts.StopDelay <= 0 {
		opts.StopDelay = def.StopDelay
	}
	if opts.DestroyTimeout <= 0 {
		opts.DestroyTimeout = def.DestroyTimeout
	}
	if opts.SignalGrace <= 0 {
		opts.SignalGrace = def.SignalGrace
	}
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = def.SignalTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Drain == nil {
		opts.Drain = func() {}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{opts: opts, log: log, kill: killPID}
}

// EnsureTerminated terminates p. Later calls return the first result
// without touching the process again.
func (c *Controller) EnsureTerminated(p debugger.Process) Result {
	c.once.Do(func() {
		c.result = c.terminate(p)
	})
	return c.result
}

func gone(p debugger.Process) bool {
	if debugger.Check(p) != nil {
		return true
	}
	return !p.State().IsAlive()
}

func (c *Controller) terminate(p debugger.Process) Result {
	if gone(p) {
		c.log.Debug("[Lifecycle] no live process, nothing to terminate")
		return Result{Strategy: AlreadyTerminated, Clean: true}
	}
	pid := p.PID()
	log := c.log.WithField("pid", pid)

	if state := p.State(); state != debugger.StateStopped {
		if err := p.Stop(); err != nil {
			log.Warnf("[Lifecycle] stop before teardown failed in state %s: %v", state, err)
		} else {
			c.opts.Clock.Sleep(c.opts.StopDelay)
		}
	}

	for _, s := range []Strategy{Destroy, Signal} {
		if c.attempt(s, p, log) {
			log.Infof("[Lifecycle] process terminated by %s", s)
			return Result{Strategy: s, Clean: true}
		}
		log.Warnf("[Lifecycle] %s did not terminate the process, escalating", s)
	}

	if err := p.Detach(); err != nil {
		log.Errorf("[Lifecycle] detach failed: %v", err)
	}
	log.Warn("[Lifecycle] teardown completed with potential issues")
	return Result{Strategy: Detach, Clean: false}
}

func (c *Controller) attempt(s Strategy, p debugger.Process, log *logrus.Entry) bool {
	switch s {
	case Destroy:
		if err := p.Destroy(); err != nil {
			log.Warnf("[Lifecycle] destroy failed: %v", err)
			return gone(p)
		}
		return c.waitGone(p, c.opts.DestroyTimeout)
	case Signal:
		for _, step := range []struct {
			sig  debugger.Signal
			wait time.Duration
		}{
			{debugger.SIGTERM, c.opts.SignalGrace},
			{debugger.SIGKILL, c.opts.SignalTimeout},
		} {
			err := c.signal(p, step.sig)
			if errors.Is(err, errProcessGone) {
				return c.waitGone(p, step.wait)
			}
			if err != nil {
				log.Warnf("[Lifecycle] %v failed: %v", step.sig, err)
				continue
			}
			if c.waitGone(p, step.wait) {
				return true
			}
		}
		return gone(p)
	}
	return false
}

// signal prefers the process's own delivery, the engine may be remote.
func (c *Controller) signal(p debugger.Process, sig debugger.Signal) error {
	if s, ok := p.(debugger.Signaler); ok {
		err := s.Signal(sig)
		if errors.Is(err, syscall.ESRCH) {
			return errProcessGone
		}
		return err
	}
	if pid := p.PID(); pid > 0 {
		return c.kill(pid, sig)
	}
	return errors.New("no pid to signal")
}

// waitGone polls until p is gone or timeout passes, draining engine events
// between polls.
func (c *Controller) waitGone(p debugger.Process, timeout time.Duration) bool {
	deadline := c.opts.Clock.Now().Add(timeout)
	for {
		c.opts.Drain()
		if gone(p) {
			return true
		}
		if !c.opts.Clock.Now().Before(deadline) {
			return false
		}
		c.opts.Clock.Sleep(c.opts.PollInterval)
	}
}
