//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup arranges for cmd's child to become the leader of its own
// process group, so a single signal to -pgid reaches every descendant
// (spec §4.A: "the child becomes a session/group leader").
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the entire process group rooted at pid, plus a
// belt-and-braces direct signal to pid itself (spec §4.A termination
// protocol step 1). ESRCH (already gone) is not treated as an error.
func signalGroup(pid int, sig syscall.Signal) error {
	groupErr := syscall.Kill(-pid, sig)
	directErr := syscall.Kill(pid, sig)
	if groupErr != nil && groupErr != syscall.ESRCH {
		return groupErr
	}
	if directErr != nil && directErr != syscall.ESRCH {
		return directErr
	}
	return nil
}

const (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)
