package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(*exec.Cmd) {}

func signalGroup(pid int, sig syscall.Signal) error {
	return signalPID(pid, sig)
}

// signalPID kills pid; windows has no SIGTERM
func signalPID(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func isAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
