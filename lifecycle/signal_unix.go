//go:build !windows

package lifecycle

import (
	"fmt"
	"syscall"

	"github.com/fansqz/debug-session/debugger"
)

// killPID signals pid directly. ESRCH means the process is already gone.
func killPID(pid int, sig debugger.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal %v", sig)
	}
	if err := syscall.Kill(pid, s); err != nil {
		if err == syscall.ESRCH {
			return errProcessGone
		}
		return err
	}
	return nil
}
