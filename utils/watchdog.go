package utils

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fansqz/debug-session/utils/gosync"
	"github.com/sirupsen/logrus"
)

// Watchdog 一个计时器
// 如果在timeout时间内没有执行Reset，就会执行fun函数，且只执行一次
type Watchdog struct {
	clock   clock.Clock
	mu      sync.Mutex
	timer   *clock.Timer
	timeout time.Duration
	fired   bool
	stopped bool
	done    chan struct{}
}

// NewWatchdog 创建一个新的计时器实例
func NewWatchdog(c clock.Clock) *Watchdog {
	if c == nil {
		c = clock.New()
	}
	return &Watchdog{clock: c}
}

// Start 开始计时
func (w *Watchdog) Start(ctx context.Context, timeout time.Duration, fun func()) {
	w.mu.Lock()
	w.timeout = timeout
	w.timer = w.clock.Timer(timeout)
	w.done = make(chan struct{})
	timer, done := w.timer, w.done
	w.mu.Unlock()

	gosync.Go(ctx, func(ctx context.Context) {
		select {
		case <-timer.C:
			w.mu.Lock()
			if w.stopped {
				w.mu.Unlock()
				return
			}
			w.fired = true
			w.mu.Unlock()
			logrus.Infof("[Watchdog] no activity for %s", timeout)
			fun()
		case <-done:
		case <-ctx.Done():
		}
	})
}

// Reset 重置计时器，已经触发或取消后调用无效
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || w.fired || w.stopped {
		return
	}
	w.timer.Reset(w.timeout)
}

// Cancel 取消计时
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.done != nil {
		close(w.done)
	}
}

// Fired reports whether the timeout elapsed.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
