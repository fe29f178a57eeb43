//go:build !windows

package agentcli

import (
	"os/exec"
	"syscall"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// configureProcAttr isolates the child into its own process group so the
// drain sequence (SIGTERM, then SIGKILL) can signal it and any
// descendants as a unit.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup delivers sig to the process group led by cmd's pid.
func signalProcessGroup(cmd *exec.Cmd, sig core.ProcessSignal) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}

	osSig := syscall.SIGTERM
	if sig == core.SignalKill {
		osSig = syscall.SIGKILL
	}
	if err := syscall.Kill(-pgid, osSig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
