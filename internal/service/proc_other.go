//go:build !unix

package service

import (
	"os"
	"os/exec"
)

var defaultStopSignal os.Signal = os.Interrupt

func setProcAttr(*exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	err := cmd.Process.Signal(sig)
	if err != nil {
		// interrupts are not deliverable on every platform
		return cmd.Process.Kill()
	}
	return nil
}

func killGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
