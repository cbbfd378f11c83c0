// SPDX-License-Identifier: MIT

// Package media wraps the external media tools (ffmpeg, ffprobe, local
// whisper) behind validated argument vectors with wall-clock timeouts
// and process-group termination.
package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/procgroup"
)

const (
	stderrRingSize = 256
	stderrTailMax  = 500 // bytes of stderr attached to errors
	killGrace      = 5 * time.Second
	killTimeout    = 10 * time.Second
)

// ErrTimeout reports that a subprocess exceeded its wall-clock deadline
// and was terminated.
var ErrTimeout = errors.New("subprocess deadline exceeded")

// ExitError carries the stderr tail of a failed subprocess.
type ExitError struct {
	Bin        string
	Err        error
	StderrTail string
}

func (e *ExitError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("%s: %v", e.Bin, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Bin, e.Err, e.StderrTail)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run executes bin with args, capped at timeout. Paths among the args
// must be validated by the caller via ValidateArgPath. On timeout the
// whole process group is killed and ErrTimeout is returned.
func Run(ctx context.Context, bin string, args []string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.KillGroup(cmd.Process.Pid, killGrace, killTimeout)
	}

	ring := NewLineRing(stderrRingSize)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}

	logger := log.WithComponentFromContext(ctx, "media")
	logger.Debug().Str("bin", bin).Strs("args", args).Msg("starting subprocess")

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", bin, err)
	}

	var out []byte
	var ioWg sync.WaitGroup
	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			_, _ = ring.Write(append(sc.Bytes(), '\n'))
		}
	}()
	go func() {
		defer ioWg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, rerr := stdout.Read(buf)
			if n > 0 {
				out = append(out, buf[:n]...)
			}
			if rerr != nil {
				return
			}
		}
	}()

	// Drain both pipes before Wait; Wait would close them underneath
	// the readers otherwise.
	ioWg.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", &ExitError{Bin: bin, Err: ErrTimeout, StderrTail: ring.Tail(8, stderrTailMax)}
		}
		return "", &ExitError{Bin: bin, Err: waitErr, StderrTail: ring.Tail(8, stderrTailMax)}
	}
	return string(out), nil
}
