//go:build windows

package supervisor

import (
	"os/exec"
	"time"
)

func configureProcess(cmd *exec.Cmd) {}

func terminateProcess(cmd *exec.Cmd, _ <-chan struct{}, _ time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
