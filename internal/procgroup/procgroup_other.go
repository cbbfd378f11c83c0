// SPDX-License-Identifier: MIT

//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"time"
)

func set(cmd *exec.Cmd) {
	// Best effort on platforms without process groups.
}

func killGroup(pid int, grace, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	_ = proc.Signal(os.Interrupt)

	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		_ = proc.Kill()
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrKillFailed
	}
}
