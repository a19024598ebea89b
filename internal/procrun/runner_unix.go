//go:build unix

package procrun

import (
	"os/exec"
	"syscall"
)

// shellCommand builds the platform command for a command string. The child
// is placed in its own process group so the whole tree can be signalled
// at once.
func shellCommand(command string) *exec.Cmd {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// killTree sends SIGKILL to the process group rooted at pid. An ESRCH
// (no such process) is not an error: the tree is already gone.
func killTree(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		// Fall back to killing just the process if it never got its own
		// group (e.g. pty-hosted children on some platforms).
		if killErr := syscall.Kill(pid, syscall.SIGKILL); killErr == syscall.ESRCH {
			return nil
		}
		return err
	}
	return nil
}
