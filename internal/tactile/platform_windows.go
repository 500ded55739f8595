//go:build windows

package tactile

import (
	"os/exec"
	"strconv"
	"syscall"
)

// Windows has no process groups to signal; taskkill /T walks the tree.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	tree := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
	tree.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if tree.Run() == nil {
		return nil
	}
	return cmd.Process.Kill()
}
