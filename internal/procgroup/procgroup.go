// SPDX-License-Identifier: MIT

// Package procgroup spawns subprocesses in their own process group and
// terminates the whole group on cancellation or timeout. The media
// runners rely on it so that a killed ffmpeg or whisper invocation does
// not leave orphaned children behind.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

// ErrKillFailed reports that the process group survived SIGKILL within
// the allotted timeout.
var ErrKillFailed = errors.New("kill operation failed")

// Set configures the command to start in a new process group.
// Mandatory for KillGroup to act as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group tree: SIGTERM, wait for
// the grace period, then SIGKILL. The process must have been spawned
// with Set.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
