package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/protocol"
	"github.com/fansqz/debug-session/utils/gosync"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var errNoConsole = errors.New("process was not launched with a pty console")

// console 被调试进程的虚拟终端，ptm由会话持有，pts交给被调试进程
type console struct {
	ptm *os.File
	pts *os.File

	closeOnce sync.Once
}

func openConsole() (*console, error) {
	ptm, pts, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}
	if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
		_ = ptm.Close()
		_ = pts.Close()
		return nil, fmt.Errorf("make pty raw: %w", err)
	}
	return &console{ptm: ptm, pts: pts}, nil
}

// Path 交给被调试进程作为标准输入输出
func (c *console) Path() string {
	return c.pts.Name()
}

// Start streams terminal output as stdout events until the console closes.
func (c *console) Start(ctx context.Context, chunkSize int, broadcast func(ev *protocol.Event)) {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	gosync.Go(ctx, func(ctx context.Context) {
		b := make([]byte, chunkSize)
		for {
			n, err := c.ptm.Read(b)
			if n > 0 {
				broadcast(&protocol.Event{ProcessOutput: &protocol.ProcessOutputEvent{
					Category: constants.OutputStdout,
					Output:   string(b[:n]),
				}})
			}
			if err != nil {
				logrus.Debugf("[Console] output loop ends: %v", err)
				return
			}
		}
	})
}

// Write 输入
func (c *console) Write(input string) (int, error) {
	return c.ptm.Write([]byte(input))
}

func (c *console) Close() {
	c.closeOnce.Do(func() {
		_ = c.pts.Close()
		_ = c.ptm.Close()
	})
}
