//go:build unix

package capture

import (
	"os/exec"
	"syscall"
)

// detach puts ffmpeg in its own process group so a terminal Ctrl+C reaches
// only the parent, which then stops the capture itself.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
