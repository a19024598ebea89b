//go:build windows

package procrun

import (
	"os/exec"
	"strconv"
)

// shellCommand builds the platform command for a command string.
func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/c", command)
}

// killTree terminates the process tree via taskkill /T /F. Errors for an
// already-dead pid are swallowed to keep kill idempotent.
func killTree(pid int) error {
	_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
	return nil
}
