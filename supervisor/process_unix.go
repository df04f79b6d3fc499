//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the process group led by pid
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

func signalPID(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

func isAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
