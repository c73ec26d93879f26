//go:build windows

package lifecycle

import (
	"os"

	"github.com/fansqz/debug-session/debugger"
)

// killPID Windows没有信号，SIGTERM和SIGKILL都使用TerminateProcess
func killPID(pid int, _ debugger.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errProcessGone
	}
	defer proc.Release()
	if err := proc.Kill(); err != nil {
		if err.Error() == "os: process already finished" {
			return errProcessGone
		}
		return err
	}
	return nil
}
