//go:build !unix

package capture

import "os/exec"

func detach(cmd *exec.Cmd) {}
