//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

const platformCanSignalPause = false

var errNoPauseSignals = errors.New("pause signals not supported on this platform")

func configureSysProcAttr(cmd *exec.Cmd) {}

func signalStop(cmd *exec.Cmd) error {
	return errNoPauseSignals
}

func signalContinue(cmd *exec.Cmd) error {
	// Nothing was stopped; treat as delivered so terminate can proceed.
	return nil
}

func signalTerminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func signalKill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func pidSignalStop(pid int) error {
	return errNoPauseSignals
}

func pidSignalContinue(pid int) error {
	// Nothing was stopped; treat as delivered so terminate can proceed.
	return nil
}

func pidSignalTerminate(pid int) error {
	return pidSignalKill(pid)
}

func pidSignalKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	defer proc.Release()
	return proc.Kill()
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
